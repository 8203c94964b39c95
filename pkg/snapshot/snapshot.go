package snapshot

import (
	"context"
	"crypto/sha256"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Snapshot is a point-in-time capture of the world state.
type Snapshot struct {
	TickHeight uint64    `json:"tick_height"`
	Timestamp  time.Time `json:"timestamp"`
	Data       []byte    `json:"data"`
	Hash       []byte    `json:"hash"` // sha256 of Data
	Version    uint32    `json:"version"`
}

const CurrentVersion uint32 = 1

var ErrSnapshotNotFound = eris.New("snapshot not found")

// New creates a snapshot of serialized world data.
func New(tickHeight uint64, timestamp time.Time, data []byte) *Snapshot {
	hash := sha256.Sum256(data)
	return &Snapshot{
		TickHeight: tickHeight,
		Timestamp:  timestamp,
		Data:       data,
		Hash:       hash[:],
		Version:    CurrentVersion,
	}
}

// Verify checks the snapshot version and that the hash matches the data.
func (s *Snapshot) Verify() error {
	if s.Version != CurrentVersion {
		return eris.Errorf("unsupported snapshot version %d", s.Version)
	}
	hash := sha256.Sum256(s.Data)
	if string(hash[:]) != string(s.Hash) {
		return eris.New("snapshot hash mismatch")
	}
	return nil
}

// Storage provides persistence for world snapshots.
// Implementations handle atomic storage with automatic backup of previous snapshots.
type Storage interface {
	// Store saves the snapshot, atomically replacing any existing snapshot.
	// The previous snapshot should be preserved as backup if possible.
	Store(ctx context.Context, snapshot *Snapshot) error

	// Load retrieves the current snapshot.
	// Returns ErrSnapshotNotFound if no snapshot exists.
	Load(ctx context.Context) (*Snapshot, error)

	// Exists checks if a current snapshot is available.
	Exists(ctx context.Context) (bool, error)
}

// StorageType defines the type of snapshot storage to use.
type StorageType uint8

const (
	StorageTypeUndefined StorageType = iota
	StorageTypeNop
	StorageTypeRedis
)

const (
	nopStorageString       = "NOP"
	redisStorageString     = "REDIS"
	undefinedStorageString = "UNDEFINED"
)

func (s StorageType) String() string {
	switch s {
	case StorageTypeUndefined:
		return undefinedStorageString
	case StorageTypeNop:
		return nopStorageString
	case StorageTypeRedis:
		return redisStorageString
	default:
		return undefinedStorageString
	}
}

func (s StorageType) IsValid() bool {
	return s == StorageTypeNop || s == StorageTypeRedis
}

func ParseStorageType(s string) (StorageType, error) {
	switch strings.ToUpper(s) {
	case nopStorageString:
		return StorageTypeNop, nil
	case redisStorageString:
		return StorageTypeRedis, nil
	default:
		return StorageTypeUndefined, eris.Errorf("invalid snapshot storage type: %s", s)
	}
}
