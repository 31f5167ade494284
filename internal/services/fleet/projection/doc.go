// Package projection folds the global event feed into read-model documents.
//
// Each projection is a Handler with one method per payload variant, so adding
// a variant fails to compile until every projection decides how to route it.
// A Runner owns one projection's cursor: it fetches a batch after the
// checkpoint, applies it and moves the checkpoint in the same store batch.
// Runners are independent; one faulting projection never blocks another.
package projection
