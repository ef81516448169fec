// Package database reads the bot trade ledger from PostgreSQL.
//
// The ledger table is written by the bot backend; this package only reads it.
// Expected schema:
//
//	CREATE TABLE trades (
//	    executed_at  TIMESTAMPTZ NOT NULL,
//	    symbol       TEXT        NOT NULL,
//	    side         TEXT        NOT NULL,
//	    executed_qty NUMERIC     NOT NULL,
//	    quote_qty    NUMERIC     NOT NULL,
//	    status       TEXT        NOT NULL
//	);
package database
