// Package storage hosts follower.Store implementations.
//
// Every backend provides point reads, single-key overwrites and atomic
// batches. A batch is applied entirely or not at all; the dependency
// records for one change event never become partially visible.
package storage
