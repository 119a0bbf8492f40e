package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/samirrijal/voltmap/internal/core/domain"
	"github.com/samirrijal/voltmap/internal/core/ports"
	"github.com/samirrijal/voltmap/internal/pkg/metrics"
)

// StationConfig tunes station lookups.
type StationConfig struct {
	NearbyCacheTTL  time.Duration `mapstructure:"nearby_cache_ttl"`
	DetailsCacheTTL time.Duration `mapstructure:"details_cache_ttl"`
	MaxResults      int           `mapstructure:"max_results"`
}

// DefaultStationConfig caches both lookups for five minutes.
func DefaultStationConfig() StationConfig {
	return StationConfig{
		NearbyCacheTTL:  5 * time.Minute,
		DetailsCacheTTL: 5 * time.Minute,
		MaxResults:      500,
	}
}

// StationService handles station lookups. It is the data source behind the
// fetch coordinator.
type StationService struct {
	stations ports.StationRepository
	cache    ports.CacheService
	cfg      StationConfig
	details  singleflight.Group
}

// NewStationService creates a new StationService. cache may be nil.
func NewStationService(stations ports.StationRepository, cache ports.CacheService, cfg StationConfig) *StationService {
	def := DefaultStationConfig()
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = def.MaxResults
	}
	if cfg.NearbyCacheTTL <= 0 {
		cfg.NearbyCacheTTL = def.NearbyCacheTTL
	}
	if cfg.DetailsCacheTTL <= 0 {
		cfg.DetailsCacheTTL = def.DetailsCacheTTL
	}
	return &StationService{stations: stations, cache: cache, cfg: cfg}
}

// FindNearby returns stations within radiusMeters of the given point,
// nearest first.
func (s *StationService) FindNearby(ctx context.Context, lat, lon, radiusMeters float64, limit int) ([]domain.Station, error) {
	if !domain.ValidCoordinate(lat, lon) {
		return nil, fmt.Errorf("%w: coordinate %v,%v out of range", domain.ErrValidation, lat, lon)
	}
	if radiusMeters <= 0 {
		return nil, fmt.Errorf("%w: distance must be positive", domain.ErrValidation)
	}
	if limit <= 0 || limit > s.cfg.MaxResults {
		limit = s.cfg.MaxResults
	}

	// Try cache
	cacheKey := fmt.Sprintf("stations:nearby:%.4f:%.4f:%.0f:%d", lat, lon, radiusMeters, limit)
	var stations []domain.Station
	if s.cached(ctx, "nearby", cacheKey, &stations) {
		return stations, nil
	}

	stations, err := s.stations.FindNearby(ctx, lat, lon, radiusMeters, limit)
	if err != nil {
		return nil, err
	}

	s.store(ctx, cacheKey, stations, s.cfg.NearbyCacheTTL)
	return stations, nil
}

// FindNear answers a "stations near point" query.
func (s *StationService) FindNear(ctx context.Context, q domain.NearQuery) ([]domain.Station, error) {
	return s.FindNearby(ctx, q.Latitude, q.Longitude, q.Distance, 0)
}

// GetDetails returns the detail record for a station. Concurrent requests
// for the same id share one repository call.
func (s *StationService) GetDetails(ctx context.Context, id string) (*domain.StationDetails, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: station id must not be empty", domain.ErrValidation)
	}

	cacheKey := "stations:details:" + id
	var details domain.StationDetails
	if s.cached(ctx, "details", cacheKey, &details) {
		return &details, nil
	}

	v, err, shared := s.details.Do(id, func() (any, error) {
		// detached: the result is shared by every waiter
		ctx := context.WithoutCancel(ctx)
		d, err := s.stations.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if d == nil {
			return nil, fmt.Errorf("%w: station %s", domain.ErrNotFound, id)
		}
		s.store(ctx, cacheKey, d, s.cfg.DetailsCacheTTL)
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	d := *v.(*domain.StationDetails)
	if shared {
		metrics.CacheHits.WithLabelValues("details_inflight").Inc()
	}
	return &d, nil
}

func (s *StationService) cached(ctx context.Context, op, key string, dst any) bool {
	if s.cache == nil {
		return false
	}
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		metrics.CacheMisses.WithLabelValues(op).Inc()
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		metrics.CacheMisses.WithLabelValues(op).Inc()
		return false
	}
	metrics.CacheHits.WithLabelValues(op).Inc()
	return true
}

func (s *StationService) store(ctx context.Context, key string, v any, ttl time.Duration) {
	if s.cache == nil {
		return
	}
	if data, err := json.Marshal(v); err == nil {
		_ = s.cache.Set(ctx, key, data, int(ttl.Seconds()))
	}
}
