// ABOUTME: Package examples registers sample procedures for the tool gateway
// ABOUTME: Content listing, markdown export and an echo procedure

// Package examples provides a small set of procedures used to demonstrate and
// test the tool surface. Register binds them to a store.ContentStore; Seed
// fills an empty database with sample content.
package examples
