// Package session wires the live-state synchronization core for one
// dashboard session.
//
// Data flow:
//
//	push channel → connection.Manager → router.Router → Session
//	    status_update  → reconcile.Classify → Reconciler → throttle → store
//	    bot_* events   → poller.Trigger
//	    chat_message   → store.AppendChatMessage (dedup)
//	poller.Poller → Session
//	    status         → reconcile → store (not throttled)
//	    ledger         → series.Build → store.ReplaceSeries
//
// The presentation layer reads only store snapshots. Close fences the store
// before stopping the producers, so nothing that fires during teardown can
// reach it.
package session
