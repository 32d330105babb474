package service

import (
	"context"
	"sync"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/joeblew999/plat-wayfind/internal/wayfind"
)

// CatalogService memoizes a loader's successful fetches so every viewer
// session shares one read of the catalog. Concurrent misses for the same
// resource share a single fetch. Failures are not cached.
type CatalogService struct {
	loader wayfind.CatalogLoader
	log    zerolog.Logger
	group  singleflight.Group

	mu   sync.RWMutex
	memo map[string]any
}

// NewCatalogService wraps loader.
func NewCatalogService(loader wayfind.CatalogLoader, log zerolog.Logger) *CatalogService {
	return &CatalogService{
		loader: loader,
		log:    log.With().Str("component", "catalog").Logger(),
		memo:   map[string]any{},
	}
}

func (s *CatalogService) do(ctx context.Context, key string, fetch func(context.Context) (any, error)) (any, error) {
	s.mu.RLock()
	v, ok := s.memo[key]
	s.mu.RUnlock()
	if ok {
		return v, nil
	}
	v, err, shared := s.group.Do(key, func() (any, error) {
		s.mu.RLock()
		v, ok := s.memo[key]
		s.mu.RUnlock()
		if ok {
			return v, nil
		}
		v, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.memo[key] = v
		s.mu.Unlock()
		s.log.Debug().Str("resource", key).Msg("catalog resource cached")
		return v, nil
	})
	if shared {
		s.log.Debug().Str("resource", key).Msg("catalog fetch shared")
	}
	return v, err
}

func (s *CatalogService) FetchLevels(ctx context.Context) ([]wayfind.Level, error) {
	v, err := s.do(ctx, "levels", func(ctx context.Context) (any, error) { return s.loader.FetchLevels(ctx) })
	if err != nil {
		return nil, err
	}
	return append([]wayfind.Level(nil), v.([]wayfind.Level)...), nil
}

func (s *CatalogService) FetchCategories(ctx context.Context) ([]wayfind.Category, error) {
	v, err := s.do(ctx, "categories", func(ctx context.Context) (any, error) { return s.loader.FetchCategories(ctx) })
	if err != nil {
		return nil, err
	}
	return append([]wayfind.Category(nil), v.([]wayfind.Category)...), nil
}

// FetchPOIs returns the shared collection; callers must not modify it.
func (s *CatalogService) FetchPOIs(ctx context.Context) (*geojson.FeatureCollection, error) {
	v, err := s.do(ctx, "pois", func(ctx context.Context) (any, error) { return s.loader.FetchPOIs(ctx) })
	if err != nil {
		return nil, err
	}
	return v.(*geojson.FeatureCollection), nil
}

// FetchFloorOverlay returns the shared overlay; callers must not modify it.
func (s *CatalogService) FetchFloorOverlay(ctx context.Context, level wayfind.Level) (*geojson.FeatureCollection, error) {
	v, err := s.do(ctx, "overlay:"+level.ID, func(ctx context.Context) (any, error) {
		return s.loader.FetchFloorOverlay(ctx, level)
	})
	if err != nil {
		return nil, err
	}
	return v.(*geojson.FeatureCollection), nil
}

// Catalog builds an indexed catalog including decoded POIs.
func (s *CatalogService) Catalog(ctx context.Context) (*wayfind.Catalog, []wayfind.POI, error) {
	levels, err := s.FetchLevels(ctx)
	if err != nil {
		return nil, nil, err
	}
	cats, err := s.FetchCategories(ctx)
	if err != nil {
		return nil, nil, err
	}
	fc, err := s.FetchPOIs(ctx)
	if err != nil {
		return nil, nil, err
	}
	pois := wayfind.DecodePOIs(fc)
	return wayfind.NewCatalog(levels, cats).WithPOIs(pois), pois, nil
}

// Invalidate drops every memoized resource. Running sessions keep what
// they already loaded.
func (s *CatalogService) Invalidate() {
	s.mu.Lock()
	s.memo = map[string]any{}
	s.mu.Unlock()
	s.log.Info().Msg("catalog cache invalidated")
}

var _ wayfind.CatalogLoader = (*CatalogService)(nil)
