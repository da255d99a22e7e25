// Package mysql provides repositories and data access helpers backed by MySQL.
// It encapsulates schema migrations, connection pooling, and strongly typed
// queries for persisting instruction history, plus a file-backed in-memory
// repository for local development.
package mysql
