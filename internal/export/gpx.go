package export

import (
	"fmt"

	"github.com/agazso/runtracker/internal/tracking"

	"github.com/tkrajina/gpxgo/gpx"
)

func GPX(path tracking.SealedPath) ([]byte, error) {
	points := make([]gpx.GPXPoint, 0, len(path.Fixes))
	for _, f := range path.Fixes {
		points = append(points, gpx.GPXPoint{
			Point:     gpx.Point{Latitude: f.Lat, Longitude: f.Lng},
			Timestamp: f.RecordedAt,
		})
	}

	doc := &gpx.GPX{
		Version: "1.1",
		Creator: "runtracker",
		Tracks: []gpx.GPXTrack{{
			Name:     path.ID,
			Type:     "running",
			Segments: []gpx.GPXTrackSegment{{Points: points}},
		}},
	}

	data, err := doc.ToXml(gpx.ToXmlParams{Version: "1.1", Indent: true})
	if err != nil {
		return nil, fmt.Errorf("encode gpx: %w", err)
	}
	return data, nil
}

// ParseGPX reads every track point of a GPX document as fixes, in file order.
func ParseGPX(data []byte) ([]tracking.Fix, error) {
	doc, err := gpx.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parse gpx: %w", err)
	}

	var fixes []tracking.Fix
	for _, track := range doc.Tracks {
		for _, segment := range track.Segments {
			for _, p := range segment.Points {
				fixes = append(fixes, tracking.Fix{
					Lat:        p.Latitude,
					Lng:        p.Longitude,
					RecordedAt: p.Timestamp,
				})
			}
		}
	}
	return fixes, nil
}
