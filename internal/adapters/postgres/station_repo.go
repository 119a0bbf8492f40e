package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/voltmap/internal/core/domain"
)

// StationRepo implements ports.StationRepository with pgx.
type StationRepo struct {
	db *DB
}

// NewStationRepo creates a new StationRepo.
func NewStationRepo(db *DB) *StationRepo {
	return &StationRepo{db: db}
}

const upsertStation = `
	INSERT INTO stations (station_id, name, address, chargers, status, usage, location)
	VALUES ($1, $2, $3, $4, $5, $6, ST_SetSRID(ST_MakePoint($7, $8), 4326)::geography)
	ON CONFLICT (station_id) DO UPDATE
	SET name = EXCLUDED.name, address = EXCLUDED.address,
	    chargers = EXCLUDED.chargers, status = EXCLUDED.status,
	    usage = EXCLUDED.usage, location = EXCLUDED.location,
	    updated_at = now()
`

// UpsertBatch inserts many stations using pgx.Batch.
func (r *StationRepo) UpsertBatch(ctx context.Context, stations []domain.StationDetails) error {
	if len(stations) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, s := range stations {
		status := s.Status
		if status == "" {
			status = domain.StationOnline
		}
		batch.Queue(upsertStation, s.StationID, s.Name, s.Address, s.Chargers, string(status), s.Usage,
			s.Location.Lon, s.Location.Lat)
	}
	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range stations {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch exec: %w", err)
		}
	}
	return nil
}

// GetByID returns a station by UUID or by its external station id.
func (r *StationRepo) GetByID(ctx context.Context, id string) (*domain.StationDetails, error) {
	var s domain.StationDetails
	var status string
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id::text, station_id, name,
		       ST_Y(location::geometry) as lat,
		       ST_X(location::geometry) as lon,
		       address, chargers, status, usage, created_at
		FROM stations WHERE id::text = $1 OR station_id = $1
		LIMIT 1
	`, id).Scan(
		&s.ID, &s.StationID, &s.Name,
		&s.Location.Lat, &s.Location.Lon,
		&s.Address, &s.Chargers, &status, &s.Usage, &s.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: station %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	s.Status = domain.StationStatus(status)
	return &s, nil
}

// FindNearby returns stations within radiusMeters using PostGIS ST_DWithin.
func (r *StationRepo) FindNearby(ctx context.Context, lat, lon, radiusMeters float64, limit int) ([]domain.Station, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id::text, station_id, name,
		       ST_Y(location::geometry) as lat,
		       ST_X(location::geometry) as lon,
		       ST_Distance(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography) as distance,
		       created_at
		FROM stations
		WHERE ST_DWithin(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
		ORDER BY distance
		LIMIT $4
	`, lon, lat, radiusMeters, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stations []domain.Station
	for rows.Next() {
		var s domain.Station
		var dist float64
		if err := rows.Scan(
			&s.ID, &s.StationID, &s.Name,
			&s.Location.Lat, &s.Location.Lon,
			&dist, &s.CreatedAt,
		); err != nil {
			return nil, err
		}
		s.Distance = &dist
		stations = append(stations, s)
	}
	return stations, rows.Err()
}
