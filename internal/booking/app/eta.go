package app

import (
	"fmt"
	"math"
	"time"

	"service-dispatch/internal/booking/domain"
	"service-dispatch/internal/shared/util"
)

// DefaultAverageSpeedKmh is assumed when no usable speed is configured.
const DefaultAverageSpeedKmh = 40.0

// HaversineEstimator divides the great-circle distance by a flat average speed.
type HaversineEstimator struct {
	SpeedKmh float64
}

func (e HaversineEstimator) Estimate(from, to domain.Point) domain.Estimate {
	speed := e.SpeedKmh
	if speed < 10 {
		speed = DefaultAverageSpeedKmh
	}
	distance := util.Haversine(from.Lat, from.Lng, to.Lat, to.Lng)
	hours := distance / speed
	return domain.Estimate{
		Duration:   time.Duration(hours * float64(time.Hour)),
		DistanceKm: distance,
	}
}

// ETA is the wire form of an estimate. Time is the human-readable form.
type ETA struct {
	Time      string    `json:"time"`
	Minutes   int       `json:"minutes"`
	Distance  float64   `json:"distance"`
	ArrivesAt time.Time `json:"arrivesAt"`
}

func newETA(now time.Time, est domain.Estimate) ETA {
	minutes := int(math.Ceil(est.Duration.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	return ETA{
		Time:      humanMinutes(minutes),
		Minutes:   minutes,
		Distance:  math.Round(est.DistanceKm*100) / 100,
		ArrivesAt: now.Add(time.Duration(minutes) * time.Minute),
	}
}

func humanMinutes(m int) string {
	switch {
	case m == 1:
		return "1 min"
	case m < 60:
		return fmt.Sprintf("%d mins", m)
	case m%60 == 0:
		return fmt.Sprintf("%d h", m/60)
	default:
		return fmt.Sprintf("%d h %d mins", m/60, m%60)
	}
}
