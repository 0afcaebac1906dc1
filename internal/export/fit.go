package export

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/agazso/runtracker/internal/shared/geo"
	"github.com/agazso/runtracker/internal/tracking"

	"github.com/muktihari/fit/encoder"
	"github.com/muktihari/fit/profile/mesgdef"
	"github.com/muktihari/fit/profile/typedef"
	"github.com/muktihari/fit/proto"
)

var ErrEmptyPath = errors.New("path has no fixes")

// FIT encodes the path as a running activity: one record per fix with the
// cumulative distance, followed by a single session.
func FIT(path tracking.SealedPath) ([]byte, error) {
	if len(path.Fixes) == 0 {
		return nil, ErrEmptyPath
	}

	start := fixTime(path.Fixes[0], path.SealedAt)
	end := fixTime(path.Fixes[len(path.Fixes)-1], path.SealedAt)
	if end.Before(start) {
		end = start
	}

	fit := &proto.FIT{Messages: []proto.Message{}}

	fileID := mesgdef.NewFileId(nil).
		SetType(typedef.FileActivity).
		SetManufacturer(typedef.ManufacturerDevelopment).
		SetProduct(1).
		SetTimeCreated(start)
	fit.Messages = append(fit.Messages, fileID.ToMesg(nil))

	distanceKm := 0.0
	for i, f := range path.Fixes {
		if i > 0 {
			prev := path.Fixes[i-1]
			distanceKm += geo.HaversineKm(prev.Lat, prev.Lng, f.Lat, f.Lng)
		}
		record := mesgdef.NewRecord(nil).
			SetTimestamp(fixTime(f, start)).
			SetPositionLat(semicircles(f.Lat)).
			SetPositionLong(semicircles(f.Lng)).
			SetDistance(fitUint32(distanceKm * 1000 * 100))
		fit.Messages = append(fit.Messages, record.ToMesg(nil))
	}

	elapsedMs := fitUint32(float64(end.Sub(start).Milliseconds()))
	session := mesgdef.NewSession(nil).
		SetTimestamp(end).
		SetStartTime(start).
		SetSport(typedef.SportRunning).
		SetTotalElapsedTime(elapsedMs).
		SetTotalTimerTime(elapsedMs).
		SetTotalDistance(fitUint32(path.DistanceKm * 1000 * 100))
	fit.Messages = append(fit.Messages, session.ToMesg(nil))

	activity := mesgdef.NewActivity(nil).
		SetTimestamp(end).
		SetType(typedef.ActivityManual).
		SetNumSessions(1)
	fit.Messages = append(fit.Messages, activity.ToMesg(nil))

	var buf bytes.Buffer
	if err := encoder.New(&buf).Encode(fit); err != nil {
		return nil, fmt.Errorf("encode fit: %w", err)
	}
	return buf.Bytes(), nil
}

// semicircles converts degrees to FIT semicircles. 180 and -180 are the same
// meridian and both map to math.MinInt32; math.MaxInt32 is FIT's invalid value.
func semicircles(deg float64) int32 {
	v := math.Round(deg * (math.Pow(2, 31) / 180))
	switch {
	case v >= math.Pow(2, 31):
		return math.MinInt32
	case v > math.MaxInt32-1:
		return math.MaxInt32 - 1
	case v < math.MinInt32:
		return math.MinInt32
	}
	return int32(v)
}

// fitUint32 clamps v into range, below FIT's invalid value math.MaxUint32.
func fitUint32(v float64) uint32 {
	switch {
	case v <= 0:
		return 0
	case v >= math.MaxUint32-1:
		return math.MaxUint32 - 1
	}
	return uint32(v)
}

func fixTime(f tracking.Fix, fallback time.Time) time.Time {
	if f.RecordedAt.IsZero() {
		return fallback
	}
	return f.RecordedAt
}
