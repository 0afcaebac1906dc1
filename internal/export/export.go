package export

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agazso/runtracker/internal/tracking"
)

var ErrUnknownFormat = errors.New("unknown export format")

type Format string

const (
	FormatGeoJSON Format = "geojson"
	FormatGPX     Format = "gpx"
	FormatKML     Format = "kml"
	FormatFIT     Format = "fit"
)

// Formats lists every format Encode accepts.
var Formats = []Format{FormatGeoJSON, FormatGPX, FormatKML, FormatFIT}

func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

func (f Format) ContentType() string {
	switch f {
	case FormatGeoJSON:
		return "application/geo+json"
	case FormatGPX:
		return "application/gpx+xml"
	case FormatKML:
		return "application/vnd.google-earth.kml+xml"
	case FormatFIT:
		return "application/vnd.ant.fit"
	}
	return "application/octet-stream"
}

// FileName is the object name used for downloads and uploads, e.g. "<id>.gpx".
func (f Format) FileName(pathID string) string {
	return pathID + "." + string(f)
}

func Encode(f Format, path tracking.SealedPath) ([]byte, error) {
	switch f {
	case FormatGeoJSON:
		return GeoJSON(path)
	case FormatGPX:
		return GPX(path)
	case FormatKML:
		return KML(path)
	case FormatFIT:
		return FIT(path)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
}

// Download parses format and encodes path, returning the body, its content
// type and the attachment file name.
func Download(format string, path tracking.SealedPath) ([]byte, string, string, error) {
	f, err := ParseFormat(format)
	if err != nil {
		return nil, "", "", err
	}
	data, err := Encode(f, path)
	if err != nil {
		return nil, "", "", err
	}
	return data, f.ContentType(), f.FileName(path.ID), nil
}
