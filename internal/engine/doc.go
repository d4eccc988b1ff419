// Package engine keeps a local replica of one entity kind consistent with a
// remote, multi-writer source.
//
// ARCHITECTURE:
//
// Single-Writer Loop:
// Each Engine owns a Record Store and a FIFO event queue. Run dequeues one
// event at a time; every store write (loaded sets, optimistic mutations,
// rollbacks, push merges) happens there, so writes never interleave.
//
// Remote calls happen on the caller's goroutine. A mutation is split into
// loop commands around the remote call:
//  1. apply optimistically (loop)
//  2. call the gateway (caller)
//  3. settle: acknowledge or roll back (loop)
//
// Push handlers only enqueue.
//
// Epochs:
// Every bind opens an epoch drawn from the logical Clock. Push events,
// subscription drops and load results carry their epoch; anything from an
// older epoch is dropped, which is what keeps a slow load for the previous
// pairing out of the current one.
//
// Reconciliation:
// Authoritative events are merged idempotently: duplicate inserts are
// ignored, updates replace, deletes of absent keys do nothing. A pushed
// insert retires the pending create it matches (by acknowledged key, then
// by content fingerprint), so a create never shows twice.
package engine
