package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/samirrijal/voltmap/internal/core/domain"
)

// required CSV columns; address, chargers, status and usage are optional
var requiredColumns = []string{"station_id", "latitude", "longitude"}

// parseStations reads a stations CSV with a header row. Rows with a missing
// id or an out-of-range coordinate are skipped and counted.
func parseStations(r io.Reader) (stations []domain.StationDetails, skipped int, err error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("read header: %w", err)
	}
	cols := indexColumns(header)
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, 0, fmt.Errorf("missing column %q", c)
		}
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			skipped++
			continue
		}

		s, ok := parseRow(record, cols)
		if !ok {
			skipped++
			continue
		}
		stations = append(stations, s)
	}
	return stations, skipped, nil
}

func parseRow(record []string, cols map[string]int) (domain.StationDetails, bool) {
	stationID := getField(record, cols, "station_id")
	lat, latErr := strconv.ParseFloat(getField(record, cols, "latitude"), 64)
	lon, lonErr := strconv.ParseFloat(getField(record, cols, "longitude"), 64)
	if stationID == "" || latErr != nil || lonErr != nil || !domain.ValidCoordinate(lat, lon) {
		return domain.StationDetails{}, false
	}

	s := domain.StationDetails{
		Station: domain.Station{
			StationID: stationID,
			Name:      getField(record, cols, "name"),
			Location:  domain.GeoPoint{Lat: lat, Lon: lon},
		},
		Address: getField(record, cols, "address"),
		Status:  domain.StationOnline,
	}
	if n, err := strconv.Atoi(getField(record, cols, "chargers")); err == nil && n >= 0 {
		s.Chargers = n
	}
	switch st := domain.StationStatus(strings.ToLower(getField(record, cols, "status"))); st {
	case domain.StationOnline, domain.StationOffline, domain.StationMaintenance:
		s.Status = st
	}
	if u, err := strconv.ParseFloat(getField(record, cols, "usage"), 64); err == nil {
		s.Usage = &u
	}
	return s, true
}

func indexColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		// strip UTF-8 BOM from the first column
		h = strings.TrimPrefix(h, "\ufeff")
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return cols
}

func getField(record []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}
