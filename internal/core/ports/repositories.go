package ports

import (
	"context"

	"github.com/samirrijal/voltmap/internal/core/domain"
)

// StationRepository persists charging stations.
type StationRepository interface {
	UpsertBatch(ctx context.Context, stations []domain.StationDetails) error
	GetByID(ctx context.Context, id string) (*domain.StationDetails, error)
	FindNearby(ctx context.Context, lat, lon, radiusMeters float64, limit int) ([]domain.Station, error)
}
