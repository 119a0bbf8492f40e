package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/voltmap/internal/core/domain"
)

// buildSchema creates the GraphQL schema wired to our services.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	geoPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoPoint",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lon": &graphql.Field{Type: graphql.Float},
		},
	})

	stationType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Station",
		Fields: graphql.Fields{
			"id":         &graphql.Field{Type: graphql.String},
			"station_id": &graphql.Field{Type: graphql.String},
			"name":       &graphql.Field{Type: graphql.String},
			"location":   &graphql.Field{Type: geoPointType},
			"distance":   &graphql.Field{Type: graphql.Float},
		},
	})

	stationDetailsType := graphql.NewObject(graphql.ObjectConfig{
		Name: "StationDetails",
		Fields: graphql.Fields{
			"id":         &graphql.Field{Type: graphql.String},
			"station_id": &graphql.Field{Type: graphql.String},
			"name":       &graphql.Field{Type: graphql.String},
			"location":   &graphql.Field{Type: geoPointType},
			"address":    &graphql.Field{Type: graphql.String},
			"chargers":   &graphql.Field{Type: graphql.Int},
			"status":     &graphql.Field{Type: graphql.String},
			"usage":      &graphql.Field{Type: graphql.Float},
		},
	})

	clusterType := graphql.NewObject(graphql.ObjectConfig{
		Name: "ClusterFeature",
		Fields: graphql.Fields{
			"cluster":               &graphql.Field{Type: graphql.Boolean},
			"clusterId":             &graphql.Field{Type: graphql.Int},
			"pointCount":            &graphql.Field{Type: graphql.Int},
			"pointCountAbbreviated": &graphql.Field{Type: graphql.String},
			"longitude":             &graphql.Field{Type: graphql.Float},
			"latitude":              &graphql.Field{Type: graphql.Float},
			"stationId":             &graphql.Field{Type: graphql.String},
		},
	})

	sessionType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Session",
		Fields: graphql.Fields{
			"id":           &graphql.Field{Type: graphql.String},
			"version":      &graphql.Field{Type: graphql.Int},
			"loading":      &graphql.Field{Type: graphql.Boolean},
			"progress":     &graphql.Field{Type: graphql.Int},
			"error":        &graphql.Field{Type: graphql.String},
			"clusterError": &graphql.Field{Type: graphql.String},
			"indexReady":   &graphql.Field{Type: graphql.Boolean},
			"degraded":     &graphql.Field{Type: graphql.Boolean},
			"selectedId":   &graphql.Field{Type: graphql.String},
			"stationCount": &graphql.Field{Type: graphql.Int},
			"clusters":     &graphql.Field{Type: graphql.NewList(clusterType)},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"stationsNear": &graphql.Field{
				Type:        graphql.NewList(stationType),
				Description: "Find charging stations near a point, nearest first",
				Args: graphql.FieldConfigArgument{
					"latitude":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"longitude": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"distance":  &graphql.ArgumentConfig{Type: graphql.Float, DefaultValue: defaultNearbyDistance},
					"limit":     &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 100},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					lat := p.Args["latitude"].(float64)
					lon := p.Args["longitude"].(float64)
					distance := p.Args["distance"].(float64)
					limit := p.Args["limit"].(int)
					stations, err := deps.Stations.FindNearby(p.Context, lat, lon, distance, limit)
					if err != nil {
						return nil, err
					}
					result := make([]map[string]interface{}, 0, len(stations))
					for _, s := range stations {
						result = append(result, stationFields(s))
					}
					return result, nil
				},
			},
			"station": &graphql.Field{
				Type:        stationDetailsType,
				Description: "Get the details of a station by ID",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					d, err := deps.Stations.GetDetails(p.Context, p.Args["id"].(string))
					if err != nil {
						return nil, err
					}
					m := stationFields(d.Station)
					m["address"] = d.Address
					m["chargers"] = d.Chargers
					m["status"] = string(d.Status)
					if d.Usage != nil {
						m["usage"] = *d.Usage
					}
					return m, nil
				},
			},
			"session": &graphql.Field{
				Type:        sessionType,
				Description: "Current state of a map session",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					s, err := deps.Sessions.Get(p.Args["id"].(string))
					if err != nil {
						return nil, err
					}
					st := s.Snapshot()
					clusters := make([]map[string]interface{}, 0, len(st.Clusters))
					for _, f := range st.Clusters {
						m := map[string]interface{}{
							"cluster":   f.Cluster,
							"longitude": f.Coordinates[0],
							"latitude":  f.Coordinates[1],
						}
						if f.Cluster {
							m["clusterId"] = f.ClusterID
							m["pointCount"] = f.PointCount
							m["pointCountAbbreviated"] = f.PointCountAbbreviated
						} else if f.Point != nil {
							m["stationId"] = f.Point.ID
						}
						clusters = append(clusters, m)
					}
					return map[string]interface{}{
						"id":           st.SessionID,
						"version":      int(st.Version),
						"loading":      st.Loading,
						"progress":     st.Progress,
						"error":        st.Error,
						"clusterError": st.ClusterError,
						"indexReady":   st.IndexReady,
						"degraded":     st.Degraded,
						"selectedId":   st.SelectedID,
						"stationCount": len(st.Stations),
						"clusters":     clusters,
					}, nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

// stationFields converts a station to the map shape the schema resolves.
func stationFields(s domain.Station) map[string]interface{} {
	m := map[string]interface{}{
		"id":         s.ID,
		"station_id": s.StationID,
		"name":       s.Name,
		"location":   map[string]interface{}{"lat": s.Location.Lat, "lon": s.Location.Lon},
	}
	if s.Distance != nil {
		m["distance"] = *s.Distance
	}
	return m
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}
