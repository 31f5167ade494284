// Package postgres implements the fleet event journal on PostgreSQL.
//
// Global sequences come from a single counter row that every append updates
// inside its transaction. The row lock orders commits, so a reader of the
// global feed never observes a gap that a slower transaction fills later.
package postgres
