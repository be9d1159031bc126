// Package changes hosts follower.ChangeSource implementations.
//
// Subpackages:
//   - couch: CouchDB-style continuous _changes feed over HTTP.
//   - memory: in-process ordered feed for tests and dry runs.
//
// Every source treats the resume sequence as exclusive: a stream opened at
// since yields only events whose sequence is strictly greater.
package changes
