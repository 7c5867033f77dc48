// Package store is slurmlet's persistent job table: a single bbolt file
// with one "jobs" bucket keyed by big-endian job id and
// a "meta" bucket holding the id counter. The daemon is the sole writer
// of RUNNING-state transitions; any client may append a new PENDING job
// or read freely. BoltStore is the only implementation; Store is kept as
// a narrow interface so tests can swap in an in-memory fake.
package store
