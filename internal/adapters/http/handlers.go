package http

import (
	"github.com/gofiber/fiber/v2"
)

const (
	defaultNearbyDistance = 5000.0
	maxNearbyDistance     = 50000.0
)

// NearbyStationsHandler returns stations within a distance of a point,
// nearest first.
func NearbyStationsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Query("latitude") == "" || c.Query("longitude") == "" {
			return errBadRequest(c, "latitude and longitude are required")
		}
		lat := c.QueryFloat("latitude")
		lon := c.QueryFloat("longitude")
		distance := c.QueryFloat("distance", defaultNearbyDistance)
		limit := c.QueryInt("limit", 100)

		if distance <= 0 || distance > maxNearbyDistance {
			return errBadRequest(c, "distance must be between 1 and 50000 meters")
		}

		stations, err := deps.Stations.FindNearby(c.UserContext(), lat, lon, distance, limit)
		if err != nil {
			return errFrom(c, err)
		}

		c.Set("Cache-Control", "public, max-age=300")
		return c.JSON(stations)
	}
}

// GetStationHandler returns the detail record of one station.
func GetStationHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if id == "" {
			return errBadRequest(c, "station id is required")
		}

		details, err := deps.Stations.GetDetails(c.UserContext(), id)
		if err != nil {
			return errFrom(c, err)
		}
		return c.JSON(details)
	}
}
