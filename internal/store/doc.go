// Package store provides persistence for devices and alerts.
//
// The main components are:
//
//   - [Store]: Interface defining the operations the monitoring engine needs
//   - [MemoryStore]: In-memory implementation, the default when no database is configured
//   - [PostgresStore]: PostgreSQL implementation built on database/sql and lib/pq
//
// Both implementations are safe for concurrent access. Devices are returned
// by value; callers mutate their copy and write it back with SaveDevice.
package store
