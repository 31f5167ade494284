// Package migrations embeds the SQL schema history of the SQLite fleet stores.
//
// The events and projections databases evolve independently, so each has its
// own directory and migration ledger.
package migrations
