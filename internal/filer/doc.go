// Package filer names completed downloads and files them per entity.
//
// A finished artifact is first committed in place, in the worker's private
// download directory, under its final name:
//
//	<entity>-<label>.pdf
//
// Relocate then moves every committed file of the entity to
//
//	<destination>/<entity>/<entity>-<label>.pdf
//
// creating the entity directory on demand. Artifacts that cannot be
// attributed to a single request are moved to the quarantine tree instead.
//
// Renames are verified by polling with a bounded wait, so Commit never
// returns before the new name is visible and never blocks indefinitely.
package filer
