package geo

import (
	"fmt"
	"math"
)

const EarthRadiusKm = 6371.0

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Lat float64 `json:"latitude"`
	Lng float64 `json:"longitude"`
}

// Region is the visible map window: a center and a span in degrees.
type Region struct {
	Lat      float64 `json:"latitude"`
	Lng      float64 `json:"longitude"`
	LatDelta float64 `json:"latitudeDelta"`
	LngDelta float64 `json:"longitudeDelta"`
}

// CenteredOn returns a region centered on p with the same span.
func (r Region) CenteredOn(p Point) Region {
	return Region{
		Lat:      p.Lat,
		Lng:      p.Lng,
		LatDelta: r.LatDelta,
		LngDelta: r.LngDelta,
	}
}

// HaversineKm returns the great-circle distance between two points in kilometers.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	rLat1 := toRad(lat1)
	rLat2 := toRad(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

func PathLengthKm(points []Point) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += HaversineKm(points[i-1].Lat, points[i-1].Lng, points[i].Lat, points[i].Lng)
	}
	return total
}

// FormatKm renders a distance readout such as "1.23 km".
func FormatKm(km float64) string {
	return fmt.Sprintf("%.2f km", km)
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
