package prediction

import (
	"math"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/scheduler"
)

const (
	minArrivalSamples   = 5
	arrivalRadiusKm     = 2.0
	minTrafficFactor    = 0.5
	maxTrafficFactor    = 3.0
	maxPunctualitySwing = 0.25
)

// modeFactor stretches the distance prior for slower modes.
var modeFactor = map[scheduler.TransportMode]float64{
	scheduler.ModeDriving:   1.0,
	scheduler.ModeTransit:   1.3,
	scheduler.ModeBicycling: 1.5,
	scheduler.ModeWalking:   3.0,
}

// ETAInput carries the signals behind one arrival prediction.
type ETAInput struct {
	Origin         *scheduler.LatLng
	DoctorLocation *scheduler.LatLng
	DistanceKm     float64
	Mode           scheduler.TransportMode
	Punctuality    float64
	// TrafficMultiplier scales delays; zero means no live signal (1.0).
	TrafficMultiplier float64
}

// Distance returns DistanceKm, or the great-circle distance when only
// coordinates are known.
func (in ETAInput) Distance() float64 {
	if in.DistanceKm > 0 {
		return in.DistanceKm
	}
	if in.Origin != nil && in.DoctorLocation != nil {
		return haversineKm(*in.Origin, *in.DoctorLocation)
	}
	return 0
}

// PredictETA estimates the arrival offset in minutes relative to the
// scheduled time. Arrivals of patients travelling a similar distance are used
// when there are enough of them; otherwise a distance prior applies.
func PredictETA(in ETAInput, history []scheduler.ArrivalRecord) scheduler.QuantileDistribution {
	km := in.Distance()
	m := in.TrafficMultiplier
	if m <= 0 || math.IsNaN(m) || math.IsInf(m, 0) {
		m = 1
	}
	m = clamp(m, minTrafficFactor, maxTrafficFactor)

	var delays []float64
	for _, r := range history {
		if math.Abs(r.DistanceKm-km) <= arrivalRadiusKm {
			delays = append(delays, r.DelayMinutes())
		}
	}

	d, ok := empirical(delays, minArrivalSamples)
	if ok {
		d = scaleLateness(d, m)
	} else {
		d = distancePrior(km, in.Mode, m)
	}
	return adjustForPunctuality(d, in.Punctuality)
}

func distancePrior(km float64, mode scheduler.TransportMode, m float64) scheduler.QuantileDistribution {
	f, ok := modeFactor[mode]
	if !ok {
		f = 1
	}
	base := math.Max(0, 2*km-5) * f
	spread := math.Max(5, 1.5*km) * f
	return scheduler.MustQuantiles(base*m, (base+spread)*m, (base+2*spread)*m)
}

// scaleLateness multiplies only the late side, so early arrivals are not
// pushed earlier by heavy traffic. Order is preserved.
func scaleLateness(d scheduler.QuantileDistribution, m float64) scheduler.QuantileDistribution {
	f := func(v float64) float64 {
		if v > 0 {
			return v * m
		}
		return v
	}
	out, err := scheduler.NewQuantileDistribution(f(d.P50()), f(d.P80()), f(d.P95()))
	if err != nil {
		return d
	}
	return out
}

// adjustForPunctuality widens the upper spread for unreliable patients and
// narrows it for reliable ones, by at most a quarter either way.
func adjustForPunctuality(d scheduler.QuantileDistribution, score float64) scheduler.QuantileDistribution {
	score = clamp(score, 0, 1)
	return d.WidenUpper(1 + 2*maxPunctualitySwing*(0.5-score))
}
