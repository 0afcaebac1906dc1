package export

import (
	"time"

	"github.com/agazso/runtracker/internal/tracking"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// GeoJSON encodes the path as a FeatureCollection holding one styled LineString.
func GeoJSON(path tracking.SealedPath) ([]byte, error) {
	line := make(orb.LineString, 0, len(path.Fixes))
	for _, f := range path.Fixes {
		line = append(line, orb.Point{f.Lng, f.Lat})
	}

	feature := geojson.NewFeature(line)
	feature.ID = path.ID
	feature.Properties["device_id"] = path.DeviceID
	feature.Properties["distance_km"] = path.DistanceKm
	feature.Properties["sealed_at"] = path.SealedAt.UTC().Format(time.RFC3339)
	feature.Properties["stroke"] = "#000"
	feature.Properties["stroke-width"] = 5

	fc := geojson.NewFeatureCollection()
	fc.Append(feature)
	return fc.MarshalJSON()
}
