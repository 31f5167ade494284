// Package server wires fleet storage, the projection manager, and the HTTP
// and gRPC health listeners into one process lifecycle.
package server
