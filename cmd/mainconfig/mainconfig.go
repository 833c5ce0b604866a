// Package mainconfig turns the environment into the scheduler worker's startup
// configuration: validated engine parameters, clinic location and the AWS SDK
// setup shared by the queue, dedupe and archive clients.
package mainconfig

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"

	appconfig "github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/config"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/scheduler"
)

// ErrInvalidWorkerConfig wraps every startup validation failure.
var ErrInvalidWorkerConfig = errors.New("mainconfig: invalid worker config")

// Worker is everything the scheduler worker needs to know before it connects
// to anything.
type Worker struct {
	App      *appconfig.Config
	Params   scheduler.Params
	Location *time.Location
}

// Load reads .env when present, then the environment, and validates the
// result.
func Load() (*Worker, error) {
	_ = godotenv.Load()
	return FromConfig(appconfig.Load())
}

// FromConfig validates an already loaded config.
func FromConfig(cfg *appconfig.Config) (*Worker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", ErrInvalidWorkerConfig)
	}
	params, err := cfg.SchedulerParams()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWorkerConfig, err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWorkerConfig, err)
	}

	var problems []string
	if cfg.WorkerCount < 1 {
		problems = append(problems, "WORKER_COUNT must be at least 1")
	}
	if cfg.EventBatchSize < 1 {
		problems = append(problems, "EVENT_BATCH_SIZE must be at least 1")
	}
	if cfg.SimulationScenarios < 0 {
		problems = append(problems, "SIMULATION_SCENARIOS cannot be negative")
	}
	if cfg.AdminRateLimit < 0 {
		problems = append(problems, "ADMIN_RATE_LIMIT cannot be negative")
	}
	if !cfg.UseMemoryQueue && cfg.EventQueueURL == "" {
		problems = append(problems, "SCHEDULER_EVENT_QUEUE_URL is required unless USE_MEMORY_QUEUE is set")
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWorkerConfig, strings.Join(problems, "; "))
	}
	return &Worker{App: cfg, Params: params, Location: loc}, nil
}

// LogFields summarises the engine, throttle and worker settings for the
// startup log line.
func (w *Worker) LogFields() []any {
	return []any{
		"env", w.App.Env,
		"workers", w.App.WorkerCount,
		"memory_queue", w.App.UseMemoryQueue,
		"event_batch_size", w.App.EventBatchSize,
		"clinic_timezone", w.Location.String(),
		"max_reoptimizations_per_hour", w.Params.MaxReoptimizationsPerHour,
		"reoptimize_threshold_minutes", w.Params.ReoptimizeThresholdMinutes,
		"eta_quantile", w.Params.ETAQuantile,
		"duration_quantile", w.Params.DurationQuantile,
		"optimization_budget", w.Params.OptimizationBudget.String(),
		"simulation_scenarios", w.App.SimulationScenarios,
		"archive_enabled", w.App.ArchiveBucket != "",
	}
}

// awsServices are the clients the worker builds; only these are redirected by
// AWS_ENDPOINT_OVERRIDE.
var awsServices = map[string]bool{
	sqs.ServiceID:      true,
	dynamodb.ServiceID: true,
	s3.ServiceID:       true,
}

// LoadAWSConfig builds the SDK config for the queue, dedupe and archive
// clients.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	loaders := []func(*config.LoadOptions) error{config.WithRegion(cfg.AWSRegion)}
	if strings.TrimSpace(cfg.AWSAccessKeyID) != "" && strings.TrimSpace(cfg.AWSSecretAccessKey) != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("mainconfig: load default config: %w", err)
	}
	if endpoint := strings.TrimSpace(cfg.AWSEndpointOverride); endpoint != "" {
		awsCfg.EndpointResolverWithOptions = localEndpoint(endpoint, cfg.AWSRegion)
	}
	return awsCfg, nil
}

// localEndpoint points the worker's services at a LocalStack-style endpoint.
func localEndpoint(url, region string) aws.EndpointResolverWithOptions {
	return aws.EndpointResolverWithOptionsFunc(func(service, _ string, _ ...interface{}) (aws.Endpoint, error) {
		if !awsServices[service] {
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		}
		return aws.Endpoint{URL: url, PartitionID: "aws", SigningRegion: region}, nil
	})
}
