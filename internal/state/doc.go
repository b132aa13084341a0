// Package state persists the harvester's durable run state: the result catalog,
// the failure ledger, the progress checkpoint and the cached total count. Every
// file is rewritten whole through an atomic rename so a crash leaves either the
// previous or the new content on disk.
package state
