package mainconfig

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/config"
)

func TestLoadAWSConfigEndpointOverride(t *testing.T) {
	cfg := &appconfig.Config{
		AWSRegion:           "us-east-1",
		AWSAccessKeyID:      "test",
		AWSSecretAccessKey:  "test",
		AWSEndpointOverride: "http://localstack:4566",
	}
	awsCfg, err := LoadAWSConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", awsCfg.Region)

	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test", creds.AccessKeyID)

	require.NotNil(t, awsCfg.EndpointResolverWithOptions)
	for _, service := range []string{sqs.ServiceID, s3.ServiceID} {
		ep, err := awsCfg.EndpointResolverWithOptions.ResolveEndpoint(service, "us-east-1")
		require.NoError(t, err)
		assert.Equal(t, "http://localstack:4566", ep.URL)
	}
	_, err = awsCfg.EndpointResolverWithOptions.ResolveEndpoint("bedrock", "us-east-1")
	assert.Error(t, err)
}

func TestLoadAWSConfigWithoutOverride(t *testing.T) {
	awsCfg, err := LoadAWSConfig(context.Background(), &appconfig.Config{AWSRegion: "sa-east-1"})
	require.NoError(t, err)
	assert.Equal(t, "sa-east-1", awsCfg.Region)
	assert.Nil(t, awsCfg.EndpointResolverWithOptions)
}

func TestFromConfigValidatesWorkerSettings(t *testing.T) {
	t.Setenv("USE_MEMORY_QUEUE", "true")
	t.Setenv("CLINIC_TIMEZONE", "America/Sao_Paulo")
	t.Setenv("SCHEDULER_MAX_REOPTIMIZATIONS_PER_HOUR", "6")

	w, err := FromConfig(appconfig.Load())
	require.NoError(t, err)
	assert.Equal(t, 6, w.Params.MaxReoptimizationsPerHour)
	assert.Equal(t, "America/Sao_Paulo", w.Location.String())

	fields := w.LogFields()
	require.Zero(t, len(fields)%2)
	byKey := map[any]any{}
	for i := 0; i < len(fields); i += 2 {
		byKey[fields[i]] = fields[i+1]
	}
	assert.Equal(t, 6, byKey["max_reoptimizations_per_hour"])
	assert.Equal(t, true, byKey["memory_queue"])
	assert.Equal(t, (500 * time.Millisecond).String(), byKey["optimization_budget"])
}

func TestFromConfigRejectsBadSettings(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing queue", map[string]string{"USE_MEMORY_QUEUE": "false", "SCHEDULER_EVENT_QUEUE_URL": ""}, "SCHEDULER_EVENT_QUEUE_URL"},
		{"no workers", map[string]string{"USE_MEMORY_QUEUE": "true", "WORKER_COUNT": "0"}, "WORKER_COUNT"},
		{"bad timezone", map[string]string{"USE_MEMORY_QUEUE": "true", "CLINIC_TIMEZONE": "Mars/Olympus"}, "timezone"},
		{"bad quantile", map[string]string{"USE_MEMORY_QUEUE": "true", "SCHEDULER_ETA_QUANTILE": "1.5"}, "invalid worker config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromConfig(appconfig.Load())
			require.ErrorIs(t, err, ErrInvalidWorkerConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := FromConfig(nil)
	assert.ErrorIs(t, err, ErrInvalidWorkerConfig)
}
