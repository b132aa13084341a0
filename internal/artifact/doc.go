// Package artifact manages the directory of harvested binary artifacts and the
// in-memory index used to answer "do we already hold this document, and how big
// is it" without rescanning the directory for every item.
package artifact
