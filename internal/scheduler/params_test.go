package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultParamsAreValid(t *testing.T) {
	p := DefaultParams()
	assert.NoError(t, p.Validate())
	assert.Equal(t, 10.0, p.AlphaPriority.For(PriorityEmergency))
	assert.Equal(t, 0.5, p.AlphaPriority.For(PriorityLow))
	assert.Equal(t, 1.0, p.AlphaPriority.For(Priority(0)))
}

func TestParamsValidate(t *testing.T) {
	cases := map[string]func(p *Params){
		"negative idle weight":    func(p *Params) { p.BetaIdle = -1 },
		"quantile at one":         func(p *Params) { p.ETAQuantile = 1 },
		"buffer bounds inverted":  func(p *Params) { p.MinBufferMinutes = 30 },
		"zero hourly budget":      func(p *Params) { p.MaxReoptimizationsPerHour = 0 },
		"negative reschedule cap": func(p *Params) { p.MaxReschedulesPerPatientPerDay = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := DefaultParams()
			mutate(&p)
			assert.ErrorIs(t, p.Validate(), ErrInvalidParams)
		})
	}
}

func TestBufferFor(t *testing.T) {
	p := DefaultParams()
	assert.Equal(t, 5.0, p.BufferFor(MustQuantiles(10, 12, 13)))
	assert.Equal(t, 10.0, p.BufferFor(MustQuantiles(20, 30, 40)))
	assert.Equal(t, 20.0, p.BufferFor(MustQuantiles(20, 30, 90)))

	p.BufferMultiplier = 1.5
	assert.Equal(t, 15.0, p.BufferFor(MustQuantiles(20, 30, 40)))
}
