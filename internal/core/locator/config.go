package locator

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/samirrijal/voltmap/internal/cluster"
	"github.com/samirrijal/voltmap/internal/core/ports"
)

// Config holds the per-session tuning of the locator.
type Config struct {
	Cluster           cluster.Options `mapstructure:"cluster"`
	MaxRegions        int             `mapstructure:"max_regions"`
	OverlapThreshold  float64         `mapstructure:"overlap_threshold"`
	MinZoom           float64         `mapstructure:"min_zoom"`
	MaxZoom           float64         `mapstructure:"max_zoom"`
	InitialFetchDelay time.Duration   `mapstructure:"initial_fetch_delay"`
	CompletionDelay   time.Duration   `mapstructure:"completion_delay"`
	ProgressInterval  time.Duration   `mapstructure:"progress_interval"`
	FetchTimeout      time.Duration   `mapstructure:"fetch_timeout"`
	IdleTimeout       time.Duration   `mapstructure:"session_idle_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Cluster:           cluster.DefaultOptions(),
		MaxRegions:        10,
		OverlapThreshold:  80,
		MinZoom:           1,
		MaxZoom:           20,
		InitialFetchDelay: 100 * time.Millisecond,
		CompletionDelay:   300 * time.Millisecond,
		ProgressInterval:  200 * time.Millisecond,
		FetchTimeout:      15 * time.Second,
		IdleTimeout:       30 * time.Minute,
	}
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Finder ports.StationFinder
	// Events receives state snapshots and fetch events. Optional.
	Events ports.EventPublisher
	Clock  clockwork.Clock
	Logger *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d
}
