package prediction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"googlemaps.github.io/maps"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/scheduler"
)

type stubDirections struct {
	routes []maps.Route
	err    error
	last   *maps.DirectionsRequest
}

func (s *stubDirections) Directions(_ context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error) {
	s.last = r
	return s.routes, nil, s.err
}

func TestGoogleTrafficETA(t *testing.T) {
	stub := &stubDirections{routes: []maps.Route{{Legs: []*maps.Leg{{
		Duration:          20 * time.Minute,
		DurationInTraffic: 30 * time.Minute,
	}}}}}
	g := newGoogleTrafficWithAPI(stub)

	est, err := g.ETA(context.Background(), scheduler.LatLng{Lat: -23.5, Lng: -46.6}, scheduler.LatLng{Lat: -23.6, Lng: -46.7}, scheduler.ModeTransit)
	require.NoError(t, err)
	assert.Equal(t, 20.0, est.DurationMinutes)
	assert.Equal(t, 30.0, est.DurationInTrafficMinutes)
	assert.Equal(t, 0.9, est.Confidence)
	assert.InDelta(t, 1.5, est.Multiplier(), 1e-9)

	require.NotNil(t, stub.last)
	assert.Equal(t, maps.TravelModeTransit, stub.last.Mode)
	assert.Equal(t, "now", stub.last.DepartureTime)
	assert.Equal(t, "-23.500000,-46.600000", stub.last.Origin)
}

func TestGoogleTrafficWithoutTrafficData(t *testing.T) {
	stub := &stubDirections{routes: []maps.Route{{Legs: []*maps.Leg{{Duration: 12 * time.Minute}}}}}
	est, err := newGoogleTrafficWithAPI(stub).ETA(context.Background(), scheduler.LatLng{}, scheduler.LatLng{}, scheduler.ModeDriving)
	require.NoError(t, err)
	assert.Equal(t, 0.6, est.Confidence)
	assert.Equal(t, 1.0, est.Multiplier())
}

func TestGoogleTrafficErrors(t *testing.T) {
	_, err := newGoogleTrafficWithAPI(&stubDirections{}).ETA(context.Background(), scheduler.LatLng{}, scheduler.LatLng{}, scheduler.ModeDriving)
	assert.ErrorIs(t, err, ErrNoRoute)

	boom := errors.New("quota exceeded")
	_, err = newGoogleTrafficWithAPI(&stubDirections{err: boom}).ETA(context.Background(), scheduler.LatLng{}, scheduler.LatLng{}, scheduler.ModeDriving)
	assert.ErrorIs(t, err, boom)
}

func TestTravelEstimateMultiplierClamp(t *testing.T) {
	assert.Equal(t, 3.0, TravelEstimate{DurationMinutes: 10, DurationInTrafficMinutes: 100}.Multiplier())
	assert.Equal(t, 0.5, TravelEstimate{DurationMinutes: 100, DurationInTrafficMinutes: 10}.Multiplier())
}
