// Package testing provides standardised tests and benchmarks for
// lock table engines that satisfy the db.ILockTable interface.
//
// The package contains:
//   - testing: A test suite validating the ILockTable contract (create-if-absent,
//     compare-and-set, conditional deletes, owner scans, expiry deletion, snapshots)
//   - benchmark: Performance tests for the hot paths of a lock manager
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func() db.ILockTable {
//		return NewMyTable()
//	}
//
//	// Running the standard test suite
//	dbtesting.RunLockTableTests(t, "MyTable", factory)
//
//	// Running performance benchmarks
//	dbtesting.RunLockTableBenchmarks(b, "MyTable", factory)
package testing
