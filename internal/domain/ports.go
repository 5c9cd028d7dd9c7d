package domain

import (
	"context"
	"time"
)

// ProjectionStore is the write surface shared by the repository and its
// transactions.
type ProjectionStore interface {
	UpsertProjection(ctx context.Context, p StoredProjection) error
}

type LocationRepository interface {
	ProjectionStore

	// WithinTx runs fn against a single transaction; a non-nil error from fn
	// rolls back every write made through the store passed to it.
	WithinTx(ctx context.Context, fn func(ProjectionStore) error) error
	LogFailure(ctx context.Context, f SyncFailure) error
	RecordRun(ctx context.Context, r RunRecord) error

	// Read paths
	Hashes(ctx context.Context) (map[RecordKey]ContentHash, error)
	GetLocation(ctx context.Context, key RecordKey, lang Language) (LocationView, error)
	GetCoords(ctx context.Context, key RecordKey) (Coords, error)
	LastRun(ctx context.Context) (RunRecord, error)
}

type SnapshotSource interface {
	FetchSnapshot(ctx context.Context) ([]RawRecord, error)
	FetchStatus(ctx context.Context) ([]StatusEntry, error)
}

// RunLock excludes overlapping sync runs. Acquire returns ErrRunInProgress
// when another holder exists.
type RunLock interface {
	Acquire(ctx context.Context, ttl time.Duration) (release func(context.Context) error, err error)
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, keys ...string) error
}
