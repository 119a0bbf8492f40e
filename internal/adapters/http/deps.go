package http

import (
	"github.com/nats-io/nats.go"

	"github.com/samirrijal/voltmap/internal/adapters/postgres"
	"github.com/samirrijal/voltmap/internal/adapters/valkey"
	"github.com/samirrijal/voltmap/internal/cluster"
	"github.com/samirrijal/voltmap/internal/core/locator"
	"github.com/samirrijal/voltmap/internal/core/usecases"
)

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Stations *usecases.StationService
	Sessions *locator.Manager
	// Cluster configures the indexes behind /ws/index.
	Cluster cluster.Options
	NATS    *nats.Conn
	DB      *postgres.DB
	Cache   *valkey.Cache
}
