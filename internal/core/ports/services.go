package ports

import (
	"context"

	"github.com/samirrijal/voltmap/internal/core/domain"
)

// StationFinder is the "stations near point" data collaborator used by the
// fetch coordinator.
type StationFinder interface {
	FindNear(ctx context.Context, q domain.NearQuery) ([]domain.Station, error)
}

// StationIndexer is the cluster index as seen from a map session. The
// worker client implements it.
type StationIndexer interface {
	Load(ctx context.Context, points []domain.StationPoint) error
	GetClusters(ctx context.Context, bbox [4]float64, zoom float64) ([]domain.ClusterFeature, error)
	GetChildren(ctx context.Context, clusterID int) ([]domain.ClusterFeature, error)
	GetClusterExpansionZoom(ctx context.Context, clusterID int) (int, error)
}

// EventPublisher publishes domain events to a message broker.
type EventPublisher interface {
	PublishSessionState(ctx context.Context, state *domain.SessionState) error
	PublishFetchEvent(ctx context.Context, event *domain.FetchEvent) error
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}
