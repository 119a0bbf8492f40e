package domain

import "time"

// SessionState is the shared state of one map session: everything the
// map, the sidebar and the loading indicator render from.
type SessionState struct {
	SessionID    string           `json:"sessionId"`
	Version      uint64           `json:"version"`
	Stations     []StationPoint   `json:"stations"`
	Clusters     []ClusterFeature `json:"clusters"`
	Loading      bool             `json:"loading"`
	Progress     int              `json:"progress"`
	Error        string           `json:"error,omitempty"`
	ClusterError string           `json:"clusterError,omitempty"`
	IndexReady   bool             `json:"indexReady"`
	Degraded     bool             `json:"degraded"`
	SelectedID   string           `json:"selectedId,omitempty"`
	Viewport     *Viewport        `json:"viewport,omitempty"`
}

// FetchEvent records the outcome of one station fetch.
type FetchEvent struct {
	SessionID string        `json:"sessionId"`
	Query     NearQuery     `json:"query"`
	Region    Bounds        `json:"region"`
	Stations  int           `json:"stations"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	At        time.Time     `json:"at"`
}
