// Package store defines the persistence contract for the job run audit
// trail. Implementations live elsewhere; this package must not import
// database drivers or concrete clients.
package store
