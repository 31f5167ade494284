// Package sqlite implements the fleet event journal and projection stores on
// SQLite.
//
// The journal and the read models live in separate database files. Writers
// open transactions with BEGIN IMMEDIATE so appends to one stream serialize and
// the loser observes the winner's version.
package sqlite
