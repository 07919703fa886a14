// Package util provides utility components for
// lock table engines that satisfy the db.ILockTable interface.
//
// The package contains:
//   - statistics: Summary statistics for reporting the shard distribution of an engine
//   - functions: Hash functions and other utility functions
//   - mapheap: A generic priority queue that also supports key-based access, used as expiry index
//
// This package is particularly useful for:
//   - Engine developers implementing the ILockTable interface
//   - Expiry tracking or other priority queue systems
//   - Monitoring systems that need to track engine size and distribution metrics
package util
