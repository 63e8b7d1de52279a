// Package kvstore is the durable key-value store behind the device and
// schedule repositories.
//
// Each key holds one JSON document in the kv_store table created by the
// embedded migrations. Writes are upserts; reads of a missing key return
// ErrNotFound so callers can fall back to their defaults.
package kvstore
