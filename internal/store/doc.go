// Package store defines the grant record data model and the Store
// interface for durable credential persistence, with SQLite, Postgres,
// and in-memory implementations.
package store
