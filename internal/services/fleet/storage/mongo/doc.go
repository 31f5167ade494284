// Package mongo implements the fleet projection store on MongoDB.
//
// Each projection batch and each reset runs in a multi-document transaction,
// so the deployment must be a replica set (a single-node one is enough) or a
// sharded cluster.
package mongo
