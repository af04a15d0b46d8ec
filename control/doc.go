// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics for channels and poll groups.
//
// Provides concurrent-safe state handling primitives including:
//   - Monotonic traffic counters fed by channels
//   - Snapshot reads for export or debugging
package control
