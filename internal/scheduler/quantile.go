package scheduler

import (
	"encoding/json"
	"fmt"
	"math"
)

// QuantileDistribution summarises an uncertain quantity (minutes) by its
// p50/p80/p95 points. The zero value is a valid point mass at zero.
// Values are only constructed through NewQuantileDistribution so p50 <= p80 <= p95
// always holds.
type QuantileDistribution struct {
	p50 float64
	p80 float64
	p95 float64
}

// NewQuantileDistribution validates and builds a distribution.
func NewQuantileDistribution(p50, p80, p95 float64) (QuantileDistribution, error) {
	for _, v := range []float64{p50, p80, p95} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return QuantileDistribution{}, fmt.Errorf("%w: non-finite value", ErrInvalidDistribution)
		}
	}
	if p50 > p80 || p80 > p95 {
		return QuantileDistribution{}, fmt.Errorf("%w: p50=%.2f p80=%.2f p95=%.2f", ErrInvalidDistribution, p50, p80, p95)
	}
	return QuantileDistribution{p50: p50, p80: p80, p95: p95}, nil
}

// MustQuantiles is NewQuantileDistribution for constant priors; it panics on bad input.
func MustQuantiles(p50, p80, p95 float64) QuantileDistribution {
	d, err := NewQuantileDistribution(p50, p80, p95)
	if err != nil {
		panic(err)
	}
	return d
}

func (d QuantileDistribution) P50() float64 { return d.p50 }
func (d QuantileDistribution) P80() float64 { return d.p80 }
func (d QuantileDistribution) P95() float64 { return d.p95 }

// IsZero reports whether every quantile is zero.
func (d QuantileDistribution) IsZero() bool {
	return d.p50 == 0 && d.p80 == 0 && d.p95 == 0
}

// Quantile evaluates the piecewise-linear inverse CDF through the three points.
// Below the median it falls to p50-(p80-p50), floored at zero when the median is
// non-negative; above p95 it extrapolates the p80..p95 slope.
func (d QuantileDistribution) Quantile(q float64) float64 {
	switch {
	case math.IsNaN(q) || q < 0:
		q = 0
	case q > 1:
		q = 1
	}
	lower := d.p50 - (d.p80 - d.p50)
	if d.p50 >= 0 && lower < 0 {
		lower = 0
	}
	switch {
	case q <= 0.5:
		return lower + (d.p50-lower)*(q/0.5)
	case q <= 0.8:
		return d.p50 + (d.p80-d.p50)*((q-0.5)/0.3)
	case q <= 0.95:
		return d.p80 + (d.p95-d.p80)*((q-0.8)/0.15)
	default:
		return d.p95 + (d.p95-d.p80)*((q-0.95)/0.05)
	}
}

// Shift adds delta minutes to every quantile.
func (d QuantileDistribution) Shift(delta float64) QuantileDistribution {
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return d
	}
	return QuantileDistribution{p50: d.p50 + delta, p80: d.p80 + delta, p95: d.p95 + delta}
}

// Scale multiplies every quantile by m. Negative or non-finite m is treated as 1.
func (d QuantileDistribution) Scale(m float64) QuantileDistribution {
	if m < 0 || math.IsNaN(m) || math.IsInf(m, 0) {
		return d
	}
	return QuantileDistribution{p50: d.p50 * m, p80: d.p80 * m, p95: d.p95 * m}
}

// WidenUpper multiplies the p50..p80 and p80..p95 spreads by f, keeping p50.
func (d QuantileDistribution) WidenUpper(f float64) QuantileDistribution {
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return d
	}
	p80 := d.p50 + (d.p80-d.p50)*f
	return QuantileDistribution{p50: d.p50, p80: p80, p95: p80 + (d.p95-d.p80)*f}
}

func (d QuantileDistribution) String() string {
	return fmt.Sprintf("{p50:%.1f p80:%.1f p95:%.1f}", d.p50, d.p80, d.p95)
}

type quantileJSON struct {
	P50 float64 `json:"p50"`
	P80 float64 `json:"p80"`
	P95 float64 `json:"p95"`
}

func (d QuantileDistribution) MarshalJSON() ([]byte, error) {
	return json.Marshal(quantileJSON{P50: d.p50, P80: d.p80, P95: d.p95})
}

// UnmarshalJSON rejects non-monotonic triples at the decoding boundary.
func (d *QuantileDistribution) UnmarshalJSON(b []byte) error {
	var raw quantileJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("scheduler: decode distribution: %w", err)
	}
	parsed, err := NewQuantileDistribution(raw.P50, raw.P80, raw.P95)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
