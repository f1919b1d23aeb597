// Package discovery selects the registered procedures a principal may use as
// tools. A procedure is discoverable when it carries extension metadata and
// the permission predicate admits the principal.
package discovery
