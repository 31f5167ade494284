// Package event defines the event envelope and the closed set of payload
// variants appended to car streams.
//
// Payload is sealed: only the variants declared here satisfy it, and the codec
// refuses unknown type tags. Everything downstream (the car fold, projection
// routing) switches over this set, so adding a variant is a deliberate change
// that the compiler walks through every consumer.
package event
