package app

import (
	"context"
	"slices"

	"golang.org/x/sync/errgroup"

	"navigatum_sync/internal/domain"
)

type statusSource interface {
	FetchStatus(ctx context.Context) ([]domain.StatusEntry, error)
}

type hashReader interface {
	Hashes(ctx context.Context) (map[domain.RecordKey]domain.ContentHash, error)
}

// StatusReport compares the upstream status snapshot with the stored hashes.
// Every list is sorted by key.
type StatusReport struct {
	Upstream  int                `json:"upstream"`
	Stored    int                `json:"stored"`
	Changed   []domain.RecordKey `json:"changed"`
	Added     []domain.RecordKey `json:"added"`
	Unchanged []domain.RecordKey `json:"unchanged"`
	Orphaned  []domain.RecordKey `json:"orphaned"`
}

// HasChanges reports whether a sync would write anything new.
func (r StatusReport) HasChanges() bool { return len(r.Changed) > 0 || len(r.Added) > 0 }

type StatusService struct {
	src    statusSource
	hashes hashReader
}

func NewStatusService(src statusSource, hashes hashReader) *StatusService {
	return &StatusService{src: src, hashes: hashes}
}

func (s *StatusService) Diff(ctx context.Context) (StatusReport, error) {
	var (
		upstream []domain.StatusEntry
		stored   map[domain.RecordKey]domain.ContentHash
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		upstream, err = s.src.FetchStatus(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		stored, err = s.hashes.Hashes(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return StatusReport{}, err
	}

	rep := StatusReport{Upstream: len(upstream), Stored: len(stored)}
	seen := make(map[domain.RecordKey]struct{}, len(upstream))
	for _, e := range upstream {
		if _, dup := seen[e.Key]; dup {
			continue
		}
		seen[e.Key] = struct{}{}
		h, ok := stored[e.Key]
		switch {
		case !ok:
			rep.Added = append(rep.Added, e.Key)
		case h != e.Hash:
			rep.Changed = append(rep.Changed, e.Key)
		default:
			rep.Unchanged = append(rep.Unchanged, e.Key)
		}
	}
	for k := range stored {
		if _, ok := seen[k]; !ok {
			rep.Orphaned = append(rep.Orphaned, k)
		}
	}
	for _, l := range [][]domain.RecordKey{rep.Changed, rep.Added, rep.Unchanged, rep.Orphaned} {
		slices.Sort(l)
	}
	return rep, nil
}
