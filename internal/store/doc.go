// Package store provides the shared key-value table behind pipekv.
//
// The table is read and mutated concurrently by batch job runners, backup
// snapshots, session workers and the admin API. It implements a
// reader/writer discipline: lookups, enumeration and snapshots share the
// lock, writes and deletes take it exclusively.
//
// The main components are:
//
//   - [Store]: Interface defining the table operations
//   - [Table]: Fixed-bucket chained hash table implementing Store
//   - [Observer]: Hook invoked after committed mutations
//   - [Observe]: Wraps a Store so observers see every write and delete
//
// Observers run after the table lock has been released, so an observer may
// read from the store without deadlocking. They do run before the mutating
// call returns, which is what lets notifications reach subscribers before
// the writer moves on.
package store
