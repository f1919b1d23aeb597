// Package tool turns registry procedure descriptors into tool descriptors.
//
// Everything here is pure: Normalize builds the canonical JSON-Schema-shaped
// descriptor, ResolveAuth infers the authentication requirement from
// annotations, and Page slices a list with an opaque offset cursor.
package tool
