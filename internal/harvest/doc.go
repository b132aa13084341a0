// Package harvest drives the resumable harvest of a document catalog. A
// Supervisor runs a sequence of sessions; each session is a Controller walking
// the listing from the last checkpoint, deciding per entry whether to fetch,
// replace or skip its artifact, and persisting progress so that any restart
// resumes without loss or duplication.
package harvest
