// Package poller implements the fallback pull path of the sync core.
//
// The Poller:
//   - Pulls full fleet status and the trade ledger on a fixed interval
//     while the push channel is down
//   - Keeps pulling on a longer cron backstop schedule regardless of the
//     push channel, as a net for silently missed frames
//   - Pulls on demand after bot lifecycle notifications
//   - Coalesces overlapping pulls into one request pair
package poller
