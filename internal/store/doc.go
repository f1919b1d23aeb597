// Package store provides persistent storage for toolbridge using SQLite.
//
// SQLiteStore keeps four kinds of records:
//
//   - Principal: a caller identity with roles and directly granted permissions
//   - OAuthToken: a bearer token, stored only as a SHA-256 hash of its value
//   - Invocation: an audit row per tool invocation
//   - Article and ContentType: content served by the example procedures
//
// Timestamps are stored as RFC 3339 text in UTC. Lookups that find nothing
// return ErrNotFound; unique constraint violations return ErrDuplicate.
package store
