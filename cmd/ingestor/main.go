package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/samirrijal/voltmap/internal/adapters/postgres"
	"github.com/samirrijal/voltmap/internal/pkg/config"
	"github.com/samirrijal/voltmap/internal/pkg/logging"
)

const batchSize = 500

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: ingestor <stations.csv|https://...> [more sources...]")
	}

	cfg, err := config.Load("voltmap-ingestor")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Telemetry.ServiceName, cfg.Log.Level, cfg.Log.Format)

	ctx := context.Background()
	db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	repo := postgres.NewStationRepo(db)
	client := &http.Client{Timeout: 120 * time.Second}

	var wg sync.WaitGroup
	sem := make(chan struct{}, 4) // max 4 concurrent sources

	for _, src := range os.Args[1:] {
		wg.Add(1)
		go func(src string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := ingest(ctx, repo, client, src); err != nil {
				slog.Error("ingest failed", "source", src, "error", err)
			}
		}(src)
	}

	wg.Wait()
	slog.Info("ingestion complete")
}

func ingest(ctx context.Context, repo *postgres.StationRepo, client *http.Client, src string) error {
	r, err := open(client, src)
	if err != nil {
		return err
	}
	defer r.Close()

	stations, skipped, err := parseStations(r)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	for start := 0; start < len(stations); start += batchSize {
		end := min(start+batchSize, len(stations))
		if err := repo.UpsertBatch(ctx, stations[start:end]); err != nil {
			return fmt.Errorf("upsert rows %d-%d: %w", start, end, err)
		}
	}

	slog.Info("source ingested", "source", src, "stations", len(stations), "skipped", skipped)
	return nil
}

func open(client *http.Client, src string) (io.ReadCloser, error) {
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		return os.Open(src)
	}

	slog.Info("downloading stations", "url", src)
	resp, err := client.Get(src)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP %d for %s", resp.StatusCode, src)
	}
	return resp.Body, nil
}
