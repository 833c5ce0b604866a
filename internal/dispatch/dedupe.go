package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DefaultDedupeTTL is how long a processed message id is remembered.
const DefaultDedupeTTL = 48 * time.Hour

// Deduper remembers message ids so redelivered messages are applied once.
type Deduper interface {
	// Claim returns false when id was already claimed.
	Claim(ctx context.Context, id string) (bool, error)
	// Release forgets a claim whose message could not be handed over.
	Release(ctx context.Context, id string) error
}

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

type dedupeRecord struct {
	MessageID string `dynamodbav:"messageId"`
	ClaimedAt string `dynamodbav:"claimedAt"`
	ExpiresAt int64  `dynamodbav:"expiresAt"`
}

// DynamoDeduper claims ids with a conditional put; expiry is left to the
// table's TTL on expiresAt.
type DynamoDeduper struct {
	client    dynamoAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

func NewDynamoDeduper(client dynamoAPI, tableName string, ttl time.Duration) *DynamoDeduper {
	if client == nil {
		panic("dispatch: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("dispatch: table name cannot be empty")
	}
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &DynamoDeduper{client: client, tableName: tableName, ttl: ttl, now: time.Now}
}

func (d *DynamoDeduper) Claim(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, errors.New("dispatch: message id required")
	}
	now := d.now().UTC()
	item, err := attributevalue.MarshalMap(dedupeRecord{
		MessageID: id,
		ClaimedAt: now.Format(time.RFC3339Nano),
		ExpiresAt: now.Add(d.ttl).Unix(),
	})
	if err != nil {
		return false, fmt.Errorf("dispatch: failed to marshal claim: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(messageId)"),
	})
	if err != nil {
		var conflict *types.ConditionalCheckFailedException
		if errors.As(err, &conflict) {
			return false, nil
		}
		return false, fmt.Errorf("dispatch: failed to claim message: %w", err)
	}
	return true, nil
}

func (d *DynamoDeduper) Release(ctx context.Context, id string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"messageId": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return fmt.Errorf("dispatch: failed to release claim: %w", err)
	}
	return nil
}

const memoryDedupeSweepAt = 10000

// MemoryDeduper keeps claims in process.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &MemoryDeduper{seen: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

func (d *MemoryDeduper) Claim(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if exp, ok := d.seen[id]; ok && now.Before(exp) {
		return false, nil
	}
	if len(d.seen) >= memoryDedupeSweepAt {
		for k, exp := range d.seen {
			if !now.Before(exp) {
				delete(d.seen, k)
			}
		}
	}
	d.seen[id] = now.Add(d.ttl)
	return true, nil
}

func (d *MemoryDeduper) Release(_ context.Context, id string) error {
	d.mu.Lock()
	delete(d.seen, id)
	d.mu.Unlock()
	return nil
}
