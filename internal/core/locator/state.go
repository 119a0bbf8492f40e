package locator

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/samirrijal/voltmap/internal/core/domain"
	"github.com/samirrijal/voltmap/internal/core/ports"
)

// Store is the shared state of one map session. Each setter replaces one
// slice of the state atomically and bumps the version; readers only ever
// see complete snapshots.
type Store struct {
	mu        sync.RWMutex
	state     domain.SessionState
	publisher ports.EventPublisher
	log       *slog.Logger
}

// NewStore creates an empty store. publisher may be nil.
func NewStore(sessionID string, publisher ports.EventPublisher, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		state:     domain.SessionState{SessionID: sessionID},
		publisher: publisher,
		log:       logger,
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() domain.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

func (s *Store) copyLocked() domain.SessionState {
	out := s.state
	out.Stations = slices.Clone(s.state.Stations)
	out.Clusters = slices.Clone(s.state.Clusters)
	if s.state.Viewport != nil {
		vp := *s.state.Viewport
		out.Viewport = &vp
	}
	return out
}

func (s *Store) update(fn func(st *domain.SessionState) bool) {
	s.mu.Lock()
	if !fn(&s.state) {
		s.mu.Unlock()
		return
	}
	s.state.Version++
	snap := s.copyLocked()
	s.mu.Unlock()

	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishSessionState(context.Background(), &snap); err != nil {
		s.log.Debug("publish session state failed", "version", snap.Version, "error", err)
	}
}

// SetStations replaces the displayed station set. Points with invalid
// coordinates are dropped. It returns the admitted points.
func (s *Store) SetStations(points []domain.StationPoint) []domain.StationPoint {
	admitted := AdmitPoints(points)
	s.update(func(st *domain.SessionState) bool {
		st.Stations = admitted
		return true
	})
	return slices.Clone(admitted)
}

// SetClusters replaces the rendered features.
func (s *Store) SetClusters(features []domain.ClusterFeature, degraded bool) {
	s.update(func(st *domain.SessionState) bool {
		st.Clusters = slices.Clone(features)
		st.Degraded = degraded
		return true
	})
}

func (s *Store) SetLoading(loading bool) {
	s.update(func(st *domain.SessionState) bool {
		if st.Loading == loading {
			return false
		}
		st.Loading = loading
		return true
	})
}

// SetProgress records a progress estimate. Values never decrease while a
// fetch is loading; 0 resets at the start of a fetch.
func (s *Store) SetProgress(p int) {
	p = max(0, min(100, p))
	s.update(func(st *domain.SessionState) bool {
		if p == st.Progress || (p != 0 && p < st.Progress) {
			return false
		}
		st.Progress = p
		return true
	})
}

func (s *Store) SetError(msg string) {
	s.update(func(st *domain.SessionState) bool {
		if st.Error == msg {
			return false
		}
		st.Error = msg
		return true
	})
}

func (s *Store) SetClusterError(msg string) {
	s.update(func(st *domain.SessionState) bool {
		if st.ClusterError == msg {
			return false
		}
		st.ClusterError = msg
		return true
	})
}

func (s *Store) SetIndexReady(ready bool) {
	s.update(func(st *domain.SessionState) bool {
		if st.IndexReady == ready {
			return false
		}
		st.IndexReady = ready
		return true
	})
}

// Select marks a station as selected; an empty id clears the selection.
func (s *Store) Select(id string) {
	s.update(func(st *domain.SessionState) bool {
		if st.SelectedID == id {
			return false
		}
		st.SelectedID = id
		return true
	})
}

func (s *Store) SetViewport(vp domain.Viewport) {
	s.update(func(st *domain.SessionState) bool {
		st.Viewport = &vp
		return true
	})
}

// AdmitPoints drops points with invalid coordinates and fills missing ids,
// falling back to the external station id and then to a generated one.
func AdmitPoints(points []domain.StationPoint) []domain.StationPoint {
	out := make([]domain.StationPoint, 0, len(points))
	for _, p := range points {
		if !p.Valid() {
			continue
		}
		if p.ID == "" {
			p.ID = p.StationID
		}
		if p.ID == "" {
			p.ID = "station-" + uuid.NewString()
		}
		out = append(out, p)
	}
	return out
}
