// Package cmd implements the command-line interface of dLock. It provides a
// hierarchical command structure with operations for running the server and
// interacting with it as a client.
//
// The package is organized into several subpackages:
//
//   - lock: Commands for lease operations (check, acquire, release, force-release,
//     release-all, sweep) and a load test (bench)
//   - serve: Commands for starting and configuring the dLock server
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// All flags can also be set with DLOCK_<FLAG> environment variables or in a .env file.
// See dlock -help for a list of all commands.
package cmd
