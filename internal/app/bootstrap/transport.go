package bootstrap

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/cmd/mainconfig"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/archive"
	appconfig "github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/config"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/dispatch"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/pkg/logging"
)

// Transport is the queue side of the worker.
type Transport struct {
	Inbound  dispatch.Queue
	Outbound dispatch.Queue
	Deduper  dispatch.Deduper
	Archive  *archive.Store
}

// BuildTransport wires SQS, DynamoDB and S3, or in-process queues when
// USE_MEMORY_QUEUE is set.
func BuildTransport(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*Transport, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.UseMemoryQueue {
		logger.Info("using in-memory queues")
		return &Transport{
			Inbound:  dispatch.NewMemoryQueue(1024),
			Outbound: dispatch.NewMemoryQueue(1024),
			Deduper:  dispatch.NewMemoryDeduper(dispatch.DefaultDedupeTTL),
			Archive:  archive.NewStore(nil, "", logger),
		}, nil
	}
	if cfg.EventQueueURL == "" {
		return nil, fmt.Errorf("bootstrap: SCHEDULER_EVENT_QUEUE_URL is required")
	}

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load aws config: %w", err)
	}
	sqsClient := sqs.NewFromConfig(awsCfg)

	t := &Transport{Inbound: dispatch.NewSQSQueue(sqsClient, cfg.EventQueueURL)}
	if cfg.OutboundQueueURL != "" {
		t.Outbound = dispatch.NewSQSQueue(sqsClient, cfg.OutboundQueueURL)
	} else {
		logger.Warn("SCHEDULER_OUTBOUND_QUEUE_URL not set; schedules are not published")
	}
	if cfg.DedupeTable != "" {
		t.Deduper = dispatch.NewDynamoDeduper(dynamodb.NewFromConfig(awsCfg), cfg.DedupeTable, dispatch.DefaultDedupeTTL)
	} else {
		t.Deduper = dispatch.NewMemoryDeduper(dispatch.DefaultDedupeTTL)
	}
	var s3Client archive.S3API
	if cfg.ArchiveBucket != "" {
		s3Client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = cfg.AWSEndpointOverride != ""
		})
	}
	t.Archive = archive.NewStore(s3Client, cfg.ArchiveBucket, logger)
	return t, nil
}
