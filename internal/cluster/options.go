package cluster

// Options configures clustering. They are fixed for the life of an Index.
type Options struct {
	// Radius is the cluster radius in pixels at the tile extent.
	Radius float64 `mapstructure:"radius" json:"radius"`
	// MaxZoom is the highest zoom at which points are clustered.
	MaxZoom int `mapstructure:"max_zoom" json:"maxZoom"`
	// MinZoom is the lowest zoom at which clusters are generated.
	MinZoom int `mapstructure:"min_zoom" json:"minZoom"`
	// MinPoints is the minimum number of points that form a cluster.
	MinPoints int `mapstructure:"min_points" json:"minPoints"`
	// Extent is the tile extent the radius is measured against.
	Extent int `mapstructure:"extent" json:"extent"`
	// NodeSize bounds the fan-out of each level's R-tree.
	NodeSize int `mapstructure:"node_size" json:"nodeSize"`
}

// DefaultOptions mirrors the settings used by the map front end.
func DefaultOptions() Options {
	return Options{
		Radius:    60,
		MaxZoom:   16,
		MinZoom:   0,
		MinPoints: 2,
		Extent:    512,
		NodeSize:  64,
	}
}

// normalize fills zero values with defaults and keeps zooms inside the
// range the cluster id encoding can represent.
func (o Options) normalize() Options {
	def := DefaultOptions()
	if o.Radius <= 0 {
		o.Radius = def.Radius
	}
	if o.MaxZoom <= 0 {
		o.MaxZoom = def.MaxZoom
	}
	if o.MaxZoom > 30 {
		o.MaxZoom = 30
	}
	if o.MinZoom < 0 {
		o.MinZoom = 0
	}
	if o.MinZoom > o.MaxZoom {
		o.MinZoom = o.MaxZoom
	}
	if o.MinPoints <= 0 {
		o.MinPoints = def.MinPoints
	}
	if o.Extent <= 0 {
		o.Extent = def.Extent
	}
	if o.NodeSize < 4 {
		o.NodeSize = def.NodeSize
	}
	return o
}
