package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/voltmap/internal/pkg/metrics"
)

const requestTimeout = 15 * time.Second

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	// Prometheus metrics
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	// Response compression (gzip)
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed, // Balance speed vs compression ratio
	}))

	// Request ID
	app.Use(requestid.New())

	// Propagate request ID into slog context
	app.Use(RequestIDLogMiddleware())

	// Access logs (structured HTTP request logging)
	app.Use(AccessLogMiddleware())

	// Rate limiting: 600 requests per minute per IP (panning emits a viewport event per move)
	app.Use(limiter.New(limiter.Config{
		Max:        600,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return newError(c, 429, "rate_limited", "too many requests, please try again later")
		},
	}))

	// Security headers + API version
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	// ETag for conditional caching
	app.Use(ETagMiddleware())

	// Default Cache-Control headers
	app.Use(CachingMiddleware())

	// Health & readiness (no timeout: fast internal checks)
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	v1 := app.Group("/v1")

	// Stations
	v1.Get("/stations/nearby", timeout.NewWithContext(NearbyStationsHandler(deps), requestTimeout))
	v1.Get("/stations/:id", timeout.NewWithContext(GetStationHandler(deps), requestTimeout))

	// Map sessions
	sessions := v1.Group("/sessions")
	sessions.Post("/", CreateSessionHandler(deps))
	sessions.Delete("/:id", CloseSessionHandler(deps))
	sessions.Post("/:id/ready", timeout.NewWithContext(MapReadyHandler(deps), requestTimeout))
	sessions.Post("/:id/viewport", timeout.NewWithContext(ViewportHandler(deps), requestTimeout))
	sessions.Get("/:id/state", SessionStateHandler(deps))
	sessions.Get("/:id/regions", timeout.NewWithContext(RegionsHandler(deps), requestTimeout))
	sessions.Get("/:id/clusters", ClustersHandler(deps))
	sessions.Get("/:id/clusters/:clusterId/expansion-zoom", timeout.NewWithContext(ExpansionZoomHandler(deps), requestTimeout))
	sessions.Get("/:id/clusters/:clusterId/children", timeout.NewWithContext(ChildrenHandler(deps), requestTimeout))
	sessions.Get("/:id/sidebar", SidebarHandler(deps))
	sessions.Put("/:id/selection", SelectionHandler(deps))

	// GraphQL
	app.Post("/graphql", GraphQLHandler(deps))

	// API documentation (Swagger UI)
	SetupDocs(app)

	// WebSocket
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/sessions/:id", websocket.New(SessionSocketHandler(deps)))
	app.Get("/ws/index", websocket.New(IndexSocketHandler(deps.Cluster)))
}
