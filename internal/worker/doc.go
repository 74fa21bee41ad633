// Package worker runs the per-entity download workflow on one session.
//
// A worker moves through
//
//	init -> logging_in -> login_failed
//	                   -> draining -> (searching -> fetching -> filing -> resetting)* -> shutting_down
//
// For every entity taken from the queue it searches the portal, then fetches
// the documents strictly one at a time: before each fetch the download
// directory is reconciled, after it the watcher waits for exactly one new
// artifact, which is committed under its final name and relocated to the
// entity's directory before the next fetch. After the last document the
// session is reset.
//
// Entity failures are recorded in the Result and the worker moves on. Only a
// failed login or a faulted session ends a worker early.
package worker
