// Package sqlite implements identity.Store over SQLite.
//
// Each record variant lives in its own table with a unique index on its
// natural key and, where the variant has one, its audit id. First contact and
// refresh share one INSERT ... ON CONFLICT DO UPDATE statement so concurrent
// callers converge on a single row.
package sqlite
