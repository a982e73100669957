// Package storage persists Burrow's dead-letter archive in BoltDB. The
// bus appends a JSON record per failed message (metadata plus the
// serialized container payload); operators list, count, and purge them.
// The archive is inspection-only and is not a durable delivery queue.
package storage
