package prediction

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"googlemaps.github.io/maps"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/scheduler"
)

var tracer = otel.Tracer("scheduler/prediction")

// ErrNoRoute is returned when the provider knows no route between two points.
var ErrNoRoute = errors.New("prediction: no route found")

// TravelEstimate is a provider's answer for one trip.
type TravelEstimate struct {
	DurationMinutes          float64
	DurationInTrafficMinutes float64
	Confidence               float64
}

// Multiplier is the ratio of congested to free-flow travel time, clamped to
// [0.5, 3]. Without a traffic-aware figure it is 1.
func (e TravelEstimate) Multiplier() float64 {
	if e.DurationMinutes <= 0 || e.DurationInTrafficMinutes <= 0 {
		return 1
	}
	return clamp(e.DurationInTrafficMinutes/e.DurationMinutes, minTrafficFactor, maxTrafficFactor)
}

// TrafficProvider estimates live travel time.
type TrafficProvider interface {
	ETA(ctx context.Context, origin, destination scheduler.LatLng, mode scheduler.TransportMode) (TravelEstimate, error)
}

type directionsAPI interface {
	Directions(ctx context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error)
}

// GoogleTraffic asks the Google Maps Directions API for traffic-aware durations.
type GoogleTraffic struct {
	api directionsAPI
}

// NewGoogleTraffic creates a GoogleTraffic with the given API key.
func NewGoogleTraffic(apiKey string) (*GoogleTraffic, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("prediction: create maps client: %w", err)
	}
	return newGoogleTrafficWithAPI(client), nil
}

func newGoogleTrafficWithAPI(api directionsAPI) *GoogleTraffic {
	if api == nil {
		panic("prediction: directions api cannot be nil")
	}
	return &GoogleTraffic{api: api}
}

var travelModes = map[scheduler.TransportMode]maps.Mode{
	scheduler.ModeDriving:   maps.TravelModeDriving,
	scheduler.ModeWalking:   maps.TravelModeWalking,
	scheduler.ModeTransit:   maps.TravelModeTransit,
	scheduler.ModeBicycling: maps.TravelModeBicycling,
}

func (g *GoogleTraffic) ETA(ctx context.Context, origin, destination scheduler.LatLng, mode scheduler.TransportMode) (TravelEstimate, error) {
	ctx, span := tracer.Start(ctx, "prediction.google_traffic")
	defer span.End()
	span.SetAttributes(attribute.String("mode", mode.String()))

	travelMode, ok := travelModes[mode]
	if !ok {
		travelMode = maps.TravelModeDriving
	}
	req := &maps.DirectionsRequest{
		Origin:        origin.String(),
		Destination:   destination.String(),
		Mode:          travelMode,
		DepartureTime: "now",
		Region:        "BR",
	}
	routes, _, err := g.api.Directions(ctx, req)
	if err != nil {
		span.RecordError(err)
		return TravelEstimate{}, fmt.Errorf("prediction: directions: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return TravelEstimate{}, ErrNoRoute
	}

	leg := routes[0].Legs[0]
	est := TravelEstimate{
		DurationMinutes: leg.Duration.Minutes(),
		Confidence:      0.6,
	}
	if leg.DurationInTraffic > 0 {
		est.DurationInTrafficMinutes = leg.DurationInTraffic.Minutes()
		est.Confidence = 0.9
	}
	return est, nil
}
