// Package reconcile merges inbound status payloads into the authoritative
// fleet status map.
//
// Payloads come in three shapes, resolved by Classify in order of precedence:
//   - KindBot: status with an identity supplied alongside the payload
//   - KindLegacy: a single status with the identity embedded (or missing)
//   - KindFleet: a full map of bot id to status, replacing the whole fleet
//
// Merging is last-write-wins per key in processing order. Keys are only ever
// removed by a KindFleet update that omits them.
package reconcile
