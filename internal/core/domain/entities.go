package domain

import (
	"time"
)

// Station is the basic record returned by a near-point query.
type Station struct {
	ID        string    `json:"id"`
	StationID string    `json:"station_id,omitempty"`
	Name      string    `json:"name,omitempty"`
	Location  GeoPoint  `json:"location"`
	Distance  *float64  `json:"distance,omitempty"` // computed field
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// StationStatus is the operational state reported for a station.
type StationStatus string

const (
	StationOnline      StationStatus = "online"
	StationOffline     StationStatus = "offline"
	StationMaintenance StationStatus = "maintenance"
)

// StationDetails enriches a Station with the fields shown in the detail panel.
type StationDetails struct {
	Station
	Address  string        `json:"address"`
	Chargers int           `json:"chargers"`
	Status   StationStatus `json:"status,omitempty"`
	Usage    *float64      `json:"usage,omitempty"`
}

// NearQuery is the request shape of the "stations near point" collaborator.
// Distance is in meters.
type NearQuery struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Distance  float64 `json:"distance"`
}

// SidebarEntry is a station row in the list shown next to the map.
type SidebarEntry struct {
	Point    StationPoint `json:"point"`
	Distance float64      `json:"distance"`
	Selected bool         `json:"selected"`
}
