package tracking

import (
	"time"

	"github.com/agazso/runtracker/internal/shared/geo"
)

type Fix struct {
	Lat        float64   `json:"latitude"`
	Lng        float64   `json:"longitude"`
	Accuracy   float64   `json:"accuracy,omitempty"`
	AltitudeM  float64   `json:"altitude,omitempty"`
	SpeedMps   float64   `json:"speed,omitempty"`
	Bearing    float64   `json:"bearing,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	RecordedAt time.Time `json:"time,omitempty"`
}

func (f Fix) Point() geo.Point {
	return geo.Point{Lat: f.Lat, Lng: f.Lng}
}

type Status string

const (
	StatusIdle     Status = "idle"
	StatusTracking Status = "tracking"
)

// StartPolicy decides what happens to a leftover current path when tracking starts.
type StartPolicy string

const (
	// StartResume keeps the current path and distance.
	StartResume StartPolicy = "resume"
	// StartFresh discards the current path and zeroes the distance.
	StartFresh StartPolicy = "fresh"
)

func ParseStartPolicy(s string) StartPolicy {
	if StartPolicy(s) == StartFresh {
		return StartFresh
	}
	return StartResume
}

type SealedPath struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	Fixes      []Fix     `json:"fixes"`
	DistanceKm float64   `json:"distance_km"`
	SealedAt   time.Time `json:"sealed_at"`
}

func (p SealedPath) Points() []geo.Point {
	points := make([]geo.Point, len(p.Fixes))
	for i, f := range p.Fixes {
		points[i] = f.Point()
	}
	return points
}

// State is the whole tracker state. It is replaced, never patched.
type State struct {
	Paths      []SealedPath `json:"paths"`
	Current    []Fix        `json:"current"`
	Tracking   bool         `json:"tracking"`
	Region     geo.Region   `json:"region"`
	DistanceKm float64      `json:"distance_km"`
}

func (s State) Status() Status {
	if s.Tracking {
		return StatusTracking
	}
	return StatusIdle
}

func (s State) clone() State {
	out := s
	out.Current = append([]Fix{}, s.Current...)
	out.Paths = make([]SealedPath, len(s.Paths))
	for i, p := range s.Paths {
		p.Fixes = append([]Fix{}, p.Fixes...)
		out.Paths[i] = p
	}
	return out
}

type Polyline struct {
	Key         string      `json:"key"`
	Coordinates []geo.Point `json:"coordinates"`
	StrokeColor string      `json:"strokeColor"`
	FillColor   string      `json:"fillColor"`
	StrokeWidth int         `json:"strokeWidth"`
}

type Button struct {
	Action string `json:"action"`
	Label  string `json:"label"`
}

// View is what the map client draws: viewport, overlays, controls and the distance readout.
type View struct {
	DeviceID      string     `json:"device_id"`
	Status        Status     `json:"status"`
	Region        geo.Region `json:"region"`
	Polylines     []Polyline `json:"polylines"`
	Buttons       []Button   `json:"buttons"`
	Distance      string     `json:"distance"`
	DistanceColor string     `json:"distance_color"`
	DistanceKm    float64    `json:"distance_km"`
}
