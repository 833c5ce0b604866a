package prediction

import (
	"math"
	"sort"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/scheduler"
)

// empirical returns the linearly interpolated p50/p80/p95 of samples.
// Non-finite samples are ignored; ok is false when fewer than minCount remain.
func empirical(samples []float64, minCount int) (scheduler.QuantileDistribution, bool) {
	clean := make([]float64, 0, len(samples))
	for _, v := range samples {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			clean = append(clean, v)
		}
	}
	if len(clean) < minCount || len(clean) == 0 {
		return scheduler.QuantileDistribution{}, false
	}
	sort.Float64s(clean)
	d, err := scheduler.NewQuantileDistribution(at(clean, 0.5), at(clean, 0.8), at(clean, 0.95))
	if err != nil {
		return scheduler.QuantileDistribution{}, false
	}
	return d, true
}

func at(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// haversineKm is the great-circle distance between two coordinates.
func haversineKm(a, b scheduler.LatLng) float64 {
	const earthRadiusKm = 6371.0
	rad := math.Pi / 180
	dLat := (b.Lat - a.Lat) * rad
	dLng := (b.Lng - a.Lng) * rad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*rad)*math.Cos(b.Lat*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
