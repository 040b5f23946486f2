package repository

import (
	"time"

	"github.com/klauspost/compress/zstd"
)

// Option applies a configuration option to the BoltStore.
type Option func(*BoltStore)

// WithOpenTimeout bounds how long Open waits for the file lock.
func WithOpenTimeout(d time.Duration) Option {
	return func(s *BoltStore) {
		if d > 0 {
			s.openTimeout = d
		}
	}
}

// WithFileName sets the database file name inside the data directory.
func WithFileName(name string) Option {
	return func(s *BoltStore) {
		if name != "" {
			s.fileName = name
		}
	}
}

// WithEncoderLevel sets the zstd level for archived records.
func WithEncoderLevel(level zstd.EncoderLevel) Option {
	return func(s *BoltStore) { s.level = level }
}

// WithMaxRecordSize bounds the decompressed size of one record.
func WithMaxRecordSize(n uint64) Option {
	return func(s *BoltStore) {
		if n > 0 {
			s.maxRecord = n
		}
	}
}
