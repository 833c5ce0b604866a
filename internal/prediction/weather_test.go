package prediction

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/scheduler"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/pkg/logging"
)

func TestWeatherClientCurrentConditions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/current", r.URL.Path)
		assert.Equal(t, "-23.550000", r.URL.Query().Get("lat"))
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"condition":"storm","temperature":21.5,"precipitation_probability":0.5}`))
	}))
	defer srv.Close()

	c := NewWeatherClient(srv.URL+"/", "secret", logging.Discard())
	cond, err := c.CurrentConditions(context.Background(), scheduler.LatLng{Lat: -23.55, Lng: -46.63})
	require.NoError(t, err)
	assert.Equal(t, "storm", cond.Condition)
	assert.Equal(t, 21.5, cond.TemperatureC)
	assert.True(t, cond.Severe())
	assert.InDelta(t, 1.2, cond.Multiplier(), 1e-9)
}

func TestWeatherClientNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewWeatherClient(srv.URL, "", logging.Discard())
	_, err := c.CurrentConditions(context.Background(), scheduler.LatLng{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestConditionsMultiplier(t *testing.T) {
	assert.Equal(t, 1.0, Conditions{Condition: "clear"}.Multiplier())
	assert.InDelta(t, 1.2, Conditions{Condition: "rain", PrecipitationProbability: 1}.Multiplier(), 1e-9)
	assert.InDelta(t, 1.3, Conditions{Condition: "snow", PrecipitationProbability: 1}.Multiplier(), 1e-9)
}
