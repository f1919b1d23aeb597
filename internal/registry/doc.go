// Package registry holds the in-process method registry: typed, access
// controlled procedures registered at start-up, the extension metadata side
// table that marks a procedure as tool-eligible, and the call dispatcher that
// executes procedures with timeouts and panic recovery.
package registry
