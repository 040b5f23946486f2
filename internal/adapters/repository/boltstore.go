package repository

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/okian/arena/internal/domain/tournament"
	"github.com/okian/arena/internal/domain/trust"
	"github.com/okian/arena/pkg/metrics"
	bolt "go.etcd.io/bbolt"
)

const (
	sessionsBucket = "sessions"
	trustBucket    = "trust"

	defaultFileName    = "arena.db"
	defaultOpenTimeout = time.Second
	defaultMaxRecord   = 256 << 20
)

var trustKey = []byte("snapshot") //nolint:gochecknoglobals // constant key

// BoltStore implements Store on a bbolt file. Values are zstd-compressed
// JSON; session keys are big-endian heights so cursors walk in order.
type BoltStore struct {
	db          *bolt.DB
	fileName    string
	openTimeout time.Duration
	level       zstd.EncoderLevel
	maxRecord   uint64
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder
}

// Open creates dataDir if needed and opens the database inside it.
func Open(dataDir string, opts ...Option) (*BoltStore, error) {
	s := &BoltStore{
		fileName:    defaultFileName,
		openTimeout: defaultOpenTimeout,
		level:       zstd.SpeedDefault,
		maxRecord:   defaultMaxRecord,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	var err error
	if s.encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(s.level)); err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	if s.decoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(s.maxRecord)); err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}

	s.db, err = bolt.Open(filepath.Join(dataDir, s.fileName), 0o600, &bolt.Options{Timeout: s.openTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range []string{sessionsBucket, trustBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = s.db.Close()
		return nil, fmt.Errorf("failed to initialize database buckets: %w", err)
	}
	return s, nil
}

func heightKey(h uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], h)
	return k[:]
}

func (s *BoltStore) encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return s.encoder.EncodeAll(raw, nil), nil
}

func (s *BoltStore) decode(data []byte, v any) error {
	raw, err := s.decoder.DecodeAll(data, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return nil
}

func (s *BoltStore) put(ctx context.Context, bucket string, key []byte, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	val, err := s.encode(v)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", bucket, err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put(key, val)
	})
	if err != nil {
		return fmt.Errorf("write %s record: %w", bucket, err)
	}
	metrics.RecordArchiveWrite(float64(time.Since(start).Milliseconds()))
	return nil
}

func (s *BoltStore) get(ctx context.Context, bucket string, key []byte, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var val []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket([]byte(bucket)).Get(key); b != nil {
			val = append([]byte(nil), b...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("read %s record: %w", bucket, err)
	}
	if val == nil {
		return ErrNotFound
	}
	return s.decode(val, v)
}

// Archive implements Store and tournament.Archive.
func (s *BoltStore) Archive(ctx context.Context, snap *tournament.Snapshot) error {
	return s.put(ctx, sessionsBucket, heightKey(snap.Height), snap)
}

// Session implements Store and tournament.Archive.
func (s *BoltStore) Session(ctx context.Context, height uint64) (*tournament.Snapshot, error) {
	var snap tournament.Snapshot
	if err := s.get(ctx, sessionsBucket, heightKey(height), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Latest implements Store.
func (s *BoltStore) Latest(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var (
		height uint64
		found  bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket([]byte(sessionsBucket)).Cursor().Last()
		if len(k) == 8 {
			height, found = binary.BigEndian.Uint64(k), true
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("read sessions: %w", err)
	}
	if !found {
		return 0, ErrNotFound
	}
	return height, nil
}

// SaveTrust implements Store.
func (s *BoltStore) SaveTrust(ctx context.Context, snap trust.Snapshot) error {
	return s.put(ctx, trustBucket, trustKey, snap)
}

// LoadTrust implements Store.
func (s *BoltStore) LoadTrust(ctx context.Context) (trust.Snapshot, error) {
	var snap trust.Snapshot
	err := s.get(ctx, trustBucket, trustKey, &snap)
	return snap, err
}

// Close releases the database file.
func (s *BoltStore) Close() error {
	s.decoder.Close()
	_ = s.encoder.Close()
	//nolint:wrapcheck
	return s.db.Close()
}
