package scheduler

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQuantileDistribution(t *testing.T) {
	tests := []struct {
		name          string
		p50, p80, p95 float64
		wantErr       bool
	}{
		{name: "ordered", p50: 5, p80: 10, p95: 20},
		{name: "point mass", p50: 3, p80: 3, p95: 3},
		{name: "negative offsets", p50: -5, p80: -2, p95: 1},
		{name: "p50 above p80", p50: 12, p80: 10, p95: 20, wantErr: true},
		{name: "p80 above p95", p50: 1, p80: 30, p95: 20, wantErr: true},
		{name: "nan", p50: math.NaN(), p80: 1, p95: 2, wantErr: true},
		{name: "inf", p50: 0, p80: 1, p95: math.Inf(1), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewQuantileDistribution(tt.p50, tt.p80, tt.p95)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidDistribution))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.p50, d.P50())
			assert.Equal(t, tt.p80, d.P80())
			assert.Equal(t, tt.p95, d.P95())
		})
	}
}

func TestQuantileInterpolation(t *testing.T) {
	d := MustQuantiles(10, 16, 22)

	assert.InDelta(t, 4, d.Quantile(0), 1e-9)
	assert.InDelta(t, 10, d.Quantile(0.5), 1e-9)
	assert.InDelta(t, 13, d.Quantile(0.65), 1e-9)
	assert.InDelta(t, 16, d.Quantile(0.8), 1e-9)
	assert.InDelta(t, 22, d.Quantile(0.95), 1e-9)
	assert.InDelta(t, 28, d.Quantile(1), 1e-9)
	assert.InDelta(t, 28, d.Quantile(7), 1e-9)
	assert.InDelta(t, 4, d.Quantile(-1), 1e-9)
}

func TestQuantileLowerAnchorFloorsAtZero(t *testing.T) {
	d := MustQuantiles(5, 15, 30)
	assert.Equal(t, 0.0, d.Quantile(0))

	neg := MustQuantiles(-4, 0, 6)
	assert.InDelta(t, -8, neg.Quantile(0), 1e-9)
}

func TestQuantileIsMonotone(t *testing.T) {
	d := MustQuantiles(2, 9, 25)
	prev := math.Inf(-1)
	for q := 0.0; q <= 1.0; q += 0.01 {
		v := d.Quantile(q)
		assert.GreaterOrEqual(t, v, prev, "q=%.2f", q)
		prev = v
	}
}

func TestQuantileTransforms(t *testing.T) {
	d := MustQuantiles(10, 20, 30)

	s := d.Shift(5)
	assert.Equal(t, []float64{15, 25, 35}, []float64{s.P50(), s.P80(), s.P95()})

	sc := d.Scale(1.5)
	assert.Equal(t, []float64{15, 30, 45}, []float64{sc.P50(), sc.P80(), sc.P95()})
	assert.Equal(t, d, d.Scale(-1))

	w := d.WidenUpper(0.5)
	assert.Equal(t, []float64{10, 15, 20}, []float64{w.P50(), w.P80(), w.P95()})
}

func TestQuantileJSONRejectsDisorder(t *testing.T) {
	var d QuantileDistribution
	require.NoError(t, json.Unmarshal([]byte(`{"p50":1,"p80":2,"p95":3}`), &d))
	assert.Equal(t, 2.0, d.P80())

	err := json.Unmarshal([]byte(`{"p50":5,"p80":2,"p95":3}`), &d)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidDistribution)
}
