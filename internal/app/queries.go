package app

import (
	"context"
	"fmt"
	"time"

	"navigatum_sync/internal/domain"
)

func LocationCacheKey(key domain.RecordKey, lang domain.Language) string {
	return fmt.Sprintf("location:%s:%s", key, lang)
}

func CoordsCacheKey(key domain.RecordKey) string {
	return fmt.Sprintf("coords:%s", key)
}

type QueryService struct {
	repo     domain.LocationRepository
	cache    domain.Cache // optional
	cacheTTL time.Duration
}

func NewQueryService(r domain.LocationRepository, c domain.Cache, ttl time.Duration) *QueryService {
	return &QueryService{repo: r, cache: c, cacheTTL: ttl}
}

func (s *QueryService) GetLocation(ctx context.Context, key domain.RecordKey, lang domain.Language) (domain.LocationView, error) {
	ck := LocationCacheKey(key, lang)
	var v domain.LocationView
	if s.cache != nil {
		if ok, _ := s.cache.Get(ctx, ck, &v); ok {
			return v, nil
		}
	}
	v, err := s.repo.GetLocation(ctx, key, lang)
	if err != nil {
		return domain.LocationView{}, err
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, ck, v, int(s.cacheTTL.Seconds()))
	}
	return v, nil
}

func (s *QueryService) GetCoords(ctx context.Context, key domain.RecordKey) (domain.Coords, error) {
	ck := CoordsCacheKey(key)
	var c domain.Coords
	if s.cache != nil {
		if ok, _ := s.cache.Get(ctx, ck, &c); ok {
			return c, nil
		}
	}
	c, err := s.repo.GetCoords(ctx, key)
	if err != nil {
		return domain.Coords{}, err
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, ck, c, int(s.cacheTTL.Seconds()))
	}
	return c, nil
}

// LastRun is read through; the history table is tiny and changes every run.
func (s *QueryService) LastRun(ctx context.Context) (domain.RunRecord, error) {
	return s.repo.LastRun(ctx)
}
