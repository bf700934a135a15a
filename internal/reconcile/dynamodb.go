package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// DynamoDBConfig is decoded from reconcile.dynamodb.
type DynamoDBConfig struct {
	Table string        `mapstructure:"table"`
	TTL   time.Duration `mapstructure:"ttl"`
}

// PutItemAPI is the slice of the DynamoDB client the journal needs.
type PutItemAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoDBRecorder writes orphans to a DynamoDB table keyed by id. Entries
// expire through the table's TTL attribute expires_at when TTL is set.
type DynamoDBRecorder struct {
	client    PutItemAPI
	tableName string
	ttl       time.Duration
}

// NewDynamoDBRecorder creates a new DynamoDBRecorder.
func NewDynamoDBRecorder(client PutItemAPI, cfg DynamoDBConfig) *DynamoDBRecorder {
	return &DynamoDBRecorder{client: client, tableName: cfg.Table, ttl: cfg.TTL}
}

// Record logs the orphan and stores it. The log entry is written first so
// the orphan is never lost silently when DynamoDB is unreachable.
func (r *DynamoDBRecorder) Record(ctx context.Context, o Orphan) error {
	stamp(&o)
	if r.ttl > 0 {
		o.ExpiresAt = o.RecordedAt.Add(r.ttl).Unix()
	}
	_ = LogRecorder{}.Record(ctx, o)

	item, err := attributevalue.MarshalMap(o)
	if err != nil {
		return fmt.Errorf("failed to marshal orphan: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to record orphan: %w", err)
	}
	return nil
}
