// Package model defines shared data types used across the fleet sync core.
//
// Conventions:
//   - Quantities and balances: shopspring decimal, never float64
//   - Timestamps: time.Time as received; no local rounding
//   - Bot identity: opaque BotID string assigned by the backend
package model
