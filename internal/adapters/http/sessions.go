package http

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/voltmap/internal/core/domain"
	"github.com/samirrijal/voltmap/internal/core/locator"
)

// viewportRequest is the body of /ready and /viewport.
// BBox is [west, south, east, north].
type viewportRequest struct {
	BBox  [4]float64 `json:"bbox"`
	Zoom  float64    `json:"zoom"`
	Event string     `json:"event,omitempty"`
}

func (r viewportRequest) viewport() (domain.Viewport, error) {
	vp := domain.Viewport{West: r.BBox[0], South: r.BBox[1], East: r.BBox[2], North: r.BBox[3], Zoom: r.Zoom}
	if vp.South > vp.North {
		return vp, fmt.Errorf("%w: bbox south %v is above north %v", domain.ErrValidation, vp.South, vp.North)
	}
	return vp, nil
}

type sessionResponse struct {
	ID    string              `json:"id"`
	State domain.SessionState `json:"state"`
}

type viewportResponse struct {
	Decision locator.Decision    `json:"decision"`
	State    domain.SessionState `json:"state"`
}

type selectionRequest struct {
	StationID string `json:"stationId"`
}

func session(c *fiber.Ctx, deps *Dependencies) (*locator.Session, error) {
	return deps.Sessions.Get(c.Params("id"))
}

// CreateSessionHandler opens a map session.
func CreateSessionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		s := deps.Sessions.Create()
		return c.Status(201).JSON(sessionResponse{ID: s.ID, State: s.Snapshot()})
	}
}

// CloseSessionHandler closes a map session and its index worker.
func CloseSessionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := deps.Sessions.Close(c.Params("id")); err != nil {
			return errFrom(c, err)
		}
		return c.SendStatus(204)
	}
}

// MapReadyHandler reports that the client map exists with its first viewport.
func MapReadyHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		s, err := session(c, deps)
		if err != nil {
			return errFrom(c, err)
		}

		var req viewportRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		vp, err := req.viewport()
		if err != nil {
			return errFrom(c, err)
		}

		if err := s.MapReady(c.UserContext(), vp); err != nil {
			return errFrom(c, err)
		}
		return c.Status(202).JSON(sessionResponse{ID: s.ID, State: s.Snapshot()})
	}
}

// ViewportHandler reports the end of a pan or zoom and returns the fetch
// decision taken for it. A viewport whose center or zoom is out of range is
// ignored by the session and answered with the "invalid" decision.
func ViewportHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		s, err := session(c, deps)
		if err != nil {
			return errFrom(c, err)
		}

		var req viewportRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		kind := locator.EventKind(req.Event)
		switch kind {
		case "":
			kind = locator.EventMoveEnd
		case locator.EventMoveEnd, locator.EventZoomEnd:
		default:
			return errBadRequest(c, "event must be moveend or zoomend")
		}
		vp, err := req.viewport()
		if err != nil {
			return errFrom(c, err)
		}

		decision, err := s.ViewportChanged(c.UserContext(), vp, kind)
		if err != nil {
			return errFrom(c, err)
		}
		return c.JSON(viewportResponse{Decision: decision, State: s.Snapshot()})
	}
}

// SessionStateHandler returns the shared state of a session.
func SessionStateHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		s, err := session(c, deps)
		if err != nil {
			return errFrom(c, err)
		}
		return c.JSON(s.Snapshot())
	}
}

// ClustersHandler returns the displayed clusters as a GeoJSON FeatureCollection.
func ClustersHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		s, err := session(c, deps)
		if err != nil {
			return errFrom(c, err)
		}
		return c.JSON(featureCollection(s.Snapshot().Clusters))
	}
}

// ExpansionZoomHandler returns the zoom at which a cluster splits.
func ExpansionZoomHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		s, err := session(c, deps)
		if err != nil {
			return errFrom(c, err)
		}
		clusterID, err := c.ParamsInt("clusterId")
		if err != nil {
			return errBadRequest(c, "clusterId must be an integer")
		}

		zoom, err := s.ExpandCluster(c.UserContext(), clusterID)
		if err != nil {
			return errFrom(c, err)
		}
		return c.JSON(fiber.Map{"clusterId": clusterID, "expansionZoom": zoom})
	}
}

// ChildrenHandler returns the direct children of a cluster.
func ChildrenHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		s, err := session(c, deps)
		if err != nil {
			return errFrom(c, err)
		}
		clusterID, err := c.ParamsInt("clusterId")
		if err != nil {
			return errBadRequest(c, "clusterId must be an integer")
		}

		children, err := s.Children(c.UserContext(), clusterID)
		if err != nil {
			return errFrom(c, err)
		}
		return c.JSON(featureCollection(children))
	}
}

// RegionsHandler lists the areas the session has already fetched.
func RegionsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		s, err := session(c, deps)
		if err != nil {
			return errFrom(c, err)
		}
		regions, err := s.Regions(c.UserContext())
		if err != nil {
			return errFrom(c, err)
		}
		if regions == nil {
			regions = []domain.FetchedRegion{}
		}
		return c.JSON(regions)
	}
}

// SidebarHandler lists the displayed stations nearest the viewport center
// first, paginated.
func SidebarHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		s, err := session(c, deps)
		if err != nil {
			return errFrom(c, err)
		}
		entries := s.Sidebar()

		offset := c.QueryInt("offset", 0)
		limit := c.QueryInt("limit", 50)
		if offset < 0 {
			offset = 0
		}
		if limit <= 0 || limit > 200 {
			limit = 50
		}

		total := len(entries)
		page := []domain.SidebarEntry{}
		if offset < total {
			page = entries[offset:min(offset+limit, total)]
		}

		pg := Pagination{Offset: offset, Limit: limit, Total: total}
		SetLinkHeaders(c, pg)
		return c.JSON(PaginatedResponse{Data: page, Pagination: pg})
	}
}

// SelectionHandler selects a displayed station. An empty stationId clears
// the selection.
func SelectionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		s, err := session(c, deps)
		if err != nil {
			return errFrom(c, err)
		}

		var req selectionRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if err := s.Select(req.StationID); err != nil {
			return errFrom(c, err)
		}
		return c.JSON(s.Snapshot())
	}
}
