// Package types defines the data structures shared by every slurmlet
// package, chiefly the persistent Job record. Nothing in this package
// touches the store, the scheduler, or the OS; it exists so every other
// package can depend on one stable vocabulary.
package types
