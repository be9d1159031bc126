// Package follower implements the registry change-feed ingestion core: a
// one-at-a-time admission gate over an ordered change stream, the processor
// that turns publish events into dependency records and derived-artifact jobs,
// and the tracker that checkpoints the last fully processed sequence.
//
// Collaborators (the change source, the key-value store, the metadata
// normalizer and the derived jobs) are consumed through the interfaces in
// interfaces.go; concrete implementations live in sibling packages.
package follower
