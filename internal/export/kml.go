package export

import (
	"bytes"
	"fmt"
	"image/color"

	"github.com/agazso/runtracker/internal/shared/geo"
	"github.com/agazso/runtracker/internal/tracking"

	kml "github.com/twpayne/go-kml/v3"
)

func KML(path tracking.SealedPath) ([]byte, error) {
	coords := make([]kml.Coordinate, len(path.Fixes))
	for i, f := range path.Fixes {
		coords[i] = kml.Coordinate{Lon: f.Lng, Lat: f.Lat, Alt: f.AltitudeM}
	}

	doc := kml.KML(
		kml.Document(
			kml.Name(path.ID),
			kml.Placemark(
				kml.Name(path.ID),
				kml.Description(fmt.Sprintf("%s, sealed %s", geo.FormatKm(path.DistanceKm), path.SealedAt.UTC().Format("2006-01-02 15:04:05"))),
				kml.Style(
					kml.LineStyle(
						kml.Color(color.RGBA{R: 0, G: 0, B: 0, A: 255}),
						kml.Width(5),
					),
				),
				kml.LineString(
					kml.Coordinates(coords...),
				),
			),
		),
	)

	var buf bytes.Buffer
	if err := doc.WriteIndent(&buf, "", "  "); err != nil {
		return nil, fmt.Errorf("encode kml: %w", err)
	}
	return buf.Bytes(), nil
}
