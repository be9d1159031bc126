// Package jobs provides derived-artifact jobs run once per package version.
//
// Jobs must be idempotent: an event that failed part way is processed again
// in full after a restart, so every job may see the same task more than once.
package jobs
