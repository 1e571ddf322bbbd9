// Package core implements the actor execution runtime.
//
// Actors are plain Go values whose messages are queued in a per-actor
// Mailbox and executed by a pool of worker goroutines owned by a
// Controller. The Controller keeps a ready queue of actor states that have
// executable work and resizes the worker pool from the amount of open work
// and from what the running workers report they are doing (computing,
// blocked on I/O, waiting on something external).
//
// Two actor state variants exist. A single-threaded state runs at most one
// message at a time, in queue order. A multi-threaded state lets every
// queued message run concurrently on any worker.
package core
