// Package replica holds the in-memory Record Store: the ordered, key-unique
// view of one entity kind within one scope.
//
// Readers may call any method from any goroutine. Writes are expected to come
// from a single owner (the engine loop); the lock only protects readers from
// torn views.
package replica
