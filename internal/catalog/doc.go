// Package catalog models a remote document catalog: the listed entries, their
// outbound links, and the contract a harvesting session uses to read the listing
// and fetch artifacts.
package catalog
