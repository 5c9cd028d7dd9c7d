package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"navigatum_sync/internal/adapters/observability"
	"navigatum_sync/internal/domain"
	"navigatum_sync/internal/locale"
)

const defaultLockTTL = 15 * time.Minute

type SyncOptions struct {
	Mode            domain.SyncMode
	ContinueOnError bool // per-record mode only
	HashLangs       []domain.Language
	ExtractScalars  bool
	LockTTL         time.Duration
}

// SyncService copies one upstream snapshot into the per-language collections.
type SyncService struct {
	src   domain.SnapshotSource
	repo  domain.LocationRepository
	cache domain.Cache   // optional
	lock  domain.RunLock // optional
	w     *ProjectionWriter
	opts  SyncOptions
}

func NewSyncService(src domain.SnapshotSource, repo domain.LocationRepository, cache domain.Cache, lock domain.RunLock, opts SyncOptions) *SyncService {
	if opts.Mode == "" {
		opts.Mode = domain.ModeBatch
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	return &SyncService{
		src:   src,
		repo:  repo,
		cache: cache,
		lock:  lock,
		w:     NewProjectionWriter(opts.ExtractScalars, opts.HashLangs),
		opts:  opts,
	}
}

// Run performs one sync. Fetch errors abort before any write. There is no
// internal retry: a later run converges the store because writes are upserts.
func (s *SyncService) Run(ctx context.Context) (domain.RunResult, error) {
	start := time.Now()
	res := domain.RunResult{Mode: s.opts.Mode}
	lg := log.With().Str("component", "sync").Str("mode", string(s.opts.Mode)).Logger()

	release, err := s.acquire(ctx, lg)
	if err != nil {
		if errors.Is(err, domain.ErrRunInProgress) {
			observability.ObserveSyncRun(string(s.opts.Mode), "skipped", 0)
			lg.Warn().Msg("another sync run holds the lock; skipping")
			return res, err
		}
		return s.finish(ctx, lg, start, res, err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			lg.Warn().Err(err).Msg("release run lock")
		}
	}()

	records, err := s.src.FetchSnapshot(ctx)
	if err != nil {
		return s.finish(ctx, lg, start, res, err)
	}
	res.RecordsFetched = len(records)
	lg.Info().Int("records", len(records)).Msg("snapshot fetched")

	var written []domain.RecordKey
	switch s.opts.Mode {
	case domain.ModePerRecord:
		written, err = s.runPerRecord(ctx, lg, records, &res)
	default:
		written, err = s.runBatch(ctx, lg, records, &res)
	}
	s.invalidate(ctx, lg, written)
	return s.finish(ctx, lg, start, res, err)
}

func (s *SyncService) acquire(ctx context.Context, lg zerolog.Logger) (func(context.Context) error, error) {
	if s.lock == nil {
		lg.Warn().Msg("no run lock configured; overlapping runs are not excluded")
		return func(context.Context) error { return nil }, nil
	}
	return s.lock.Acquire(ctx, s.opts.LockTTL)
}

// runBatch writes every record in one transaction. The first failure rolls
// back the whole run.
func (s *SyncService) runBatch(ctx context.Context, lg zerolog.Logger, records []domain.RawRecord, res *domain.RunResult) ([]domain.RecordKey, error) {
	err := s.repo.WithinTx(ctx, func(tx domain.ProjectionStore) error {
		for _, rec := range records {
			if err := ctx.Err(); err != nil {
				return err
			}
			for _, lang := range domain.Languages {
				if err := s.w.Store(ctx, tx, rec.Key, lang, locale.Project(rec, lang), rec.Hash); err != nil {
					s.recordFailure(ctx, lg, rec.Key, lang, err)
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		res.RecordsFailed = 1
		lg.Error().Err(err).Str("kind", domain.ErrorKind(err)).Msg("batch rolled back")
		return nil, err
	}

	keys := make([]domain.RecordKey, len(records))
	for i, rec := range records {
		keys[i] = rec.Key
		for _, lang := range domain.Languages {
			observability.ObserveSyncRecord(string(lang), "ok")
		}
	}
	res.RecordsProcessed = len(records)
	return keys, nil
}

// runPerRecord commits each write on its own. Both languages of a record are
// always attempted; a failed record stops the run unless ContinueOnError.
func (s *SyncService) runPerRecord(ctx context.Context, lg zerolog.Logger, records []domain.RawRecord, res *domain.RunResult) ([]domain.RecordKey, error) {
	var (
		written  []domain.RecordKey
		firstErr error
	)
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		var errs []error
		wrote := false
		for _, lang := range domain.Languages {
			if err := s.w.Store(ctx, s.repo, rec.Key, lang, locale.Project(rec, lang), rec.Hash); err != nil {
				s.recordFailure(ctx, lg, rec.Key, lang, err)
				observability.ObserveSyncRecord(string(lang), "failed")
				errs = append(errs, err)
				continue
			}
			observability.ObserveSyncRecord(string(lang), "ok")
			wrote = true
		}
		if wrote {
			written = append(written, rec.Key)
		}
		if len(errs) == 0 {
			res.RecordsProcessed++
			continue
		}
		res.RecordsFailed++
		if firstErr == nil {
			firstErr = errors.Join(errs...)
		}
		if !s.opts.ContinueOnError {
			return written, firstErr
		}
	}
	if firstErr != nil {
		return written, fmt.Errorf("%d of %d records failed, first: %w", res.RecordsFailed, len(records), firstErr)
	}
	return written, nil
}

func (s *SyncService) recordFailure(ctx context.Context, lg zerolog.Logger, key domain.RecordKey, lang domain.Language, err error) {
	kind := domain.ErrorKind(err)
	lg.Error().Err(err).Str("key", string(key)).Str("lang", string(lang)).Str("kind", kind).Msg("write failed")
	if kind == "canceled" {
		return
	}
	f := domain.SyncFailure{Key: key, Lang: lang, Kind: kind, Reason: err.Error()}
	if lerr := s.repo.LogFailure(context.WithoutCancel(ctx), f); lerr != nil {
		lg.Warn().Err(lerr).Str("key", string(key)).Msg("log sync failure")
	}
}

// invalidate drops cached reads of every written key. Errors only degrade
// freshness until the TTL expires, so they are logged.
func (s *SyncService) invalidate(ctx context.Context, lg zerolog.Logger, keys []domain.RecordKey) {
	if s.cache == nil || len(keys) == 0 {
		return
	}
	cacheKeys := make([]string, 0, len(keys)*(len(domain.Languages)+1))
	for _, k := range keys {
		for _, lang := range domain.Languages {
			cacheKeys = append(cacheKeys, LocationCacheKey(k, lang))
		}
		cacheKeys = append(cacheKeys, CoordsCacheKey(k))
	}
	if err := s.cache.Del(context.WithoutCancel(ctx), cacheKeys...); err != nil {
		lg.Warn().Err(err).Int("keys", len(cacheKeys)).Msg("cache invalidation failed")
	}
}

func (s *SyncService) finish(ctx context.Context, lg zerolog.Logger, start time.Time, res domain.RunResult, runErr error) (domain.RunResult, error) {
	res.Elapsed = time.Since(start)
	outcome := "ok"
	switch {
	case runErr != nil && res.RecordsProcessed > 0:
		outcome = "partial"
	case runErr != nil:
		outcome = "failed"
	}

	rec := domain.RunRecord{
		StartedAt:  start,
		FinishedAt: start.Add(res.Elapsed),
		Mode:       res.Mode,
		Fetched:    res.RecordsFetched,
		Processed:  res.RecordsProcessed,
		Failed:     res.RecordsFailed,
		Outcome:    outcome,
	}
	if runErr != nil {
		msg := runErr.Error()
		rec.Error = &msg
	}
	if err := s.repo.RecordRun(context.WithoutCancel(ctx), rec); err != nil {
		lg.Warn().Err(err).Msg("record sync run")
	}
	observability.ObserveSyncRun(string(res.Mode), outcome, res.Elapsed)

	ev := lg.Info()
	if runErr != nil {
		ev = lg.Error().Err(runErr).Str("kind", domain.ErrorKind(runErr))
	}
	ev.Str("outcome", outcome).
		Int("fetched", res.RecordsFetched).
		Int("processed", res.RecordsProcessed).
		Int("failed", res.RecordsFailed).
		Dur("elapsed", res.Elapsed).
		Msg("sync finished")
	return res, runErr
}
