// Package series turns a trade ledger into the running-balance series that
// the dashboard charts.
//
// The ledger arrives most-recent-first. Build reverses it to chronological
// order and folds quote quantities into a running balance: a SELL adds its
// quote quantity, a BUY subtracts it. The series is recomputed from the full
// ledger on every fetch; nothing is maintained incrementally.
package series
