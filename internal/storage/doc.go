// Package storage persists the operator audit trail: who opened, closed,
// picked or cleared a pool, and how deliveries went. Pool state itself is
// never stored.
package storage
