// Package dynamo stores mirror records in a single DynamoDB table.
//
// Layout: PK = USER#<uid>#<collection>, SK = <record id>. The record body is
// kept as an opaque JSON string so the remote never has to understand it.
package dynamo

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aschepis/backscratcher/lifebook/mirror"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog"
)

// API is the part of the DynamoDB client the backend uses.
type API interface {
	dynamodb.QueryAPIClient
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

type item struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	SortKey   string `dynamodbav:"SortKey"`
	Payload   string `dynamodbav:"Payload"`
	UpdatedAt string `dynamodbav:"UpdatedAt"`
}

// Backend implements mirror.Backend on DynamoDB.
type Backend struct {
	client    API
	tableName string
	logger    zerolog.Logger
	now       func() time.Time
}

// Config selects the table and, for local testing, an endpoint override.
type Config struct {
	Table    string
	Region   string
	Endpoint string
}

// NewClient builds a DynamoDB client from the default AWS credential chain.
func NewClient(ctx context.Context, cfg Config) (*dynamodb.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// New creates a backend over client and table.
func New(client API, table string, logger zerolog.Logger) *Backend {
	return &Backend{
		client:    client,
		tableName: table,
		logger:    logger.With().Str("component", "mirror_dynamo").Logger(),
		now:       time.Now,
	}
}

func partitionKey(uid, collection string) string {
	return fmt.Sprintf("USER#%s#%s", uid, collection)
}

// Put replaces the record.
func (b *Backend) Put(ctx context.Context, uid, collection string, rec mirror.Record) error {
	av, err := attributevalue.MarshalMap(item{
		PK:        partitionKey(uid, collection),
		SK:        rec.ID,
		SortKey:   rec.SortKey,
		Payload:   string(rec.Payload),
		UpdatedAt: b.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.ID, err)
	}

	_, err = b.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(b.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("put record %s: %w", rec.ID, err)
	}
	return nil
}

// List returns every record of the collection ordered by sort key.
func (b *Backend) List(ctx context.Context, uid, collection string) ([]mirror.Record, error) {
	keyExpr := expression.Key("PK").Equal(expression.Value(partitionKey(uid, collection)))
	expr, err := expression.NewBuilder().WithKeyCondition(keyExpr).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(b.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}

	var out []mirror.Record
	pages := dynamodb.NewQueryPaginator(b.client, input)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", collection, err)
		}
		for _, raw := range page.Items {
			var it item
			if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
				b.logger.Warn().Err(err).Str("collection", collection).Msg("Skipping unreadable item")
				continue
			}
			out = append(out, mirror.Record{ID: it.SK, SortKey: it.SortKey, Payload: []byte(it.Payload)})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SortKey != out[j].SortKey {
			return out[i].SortKey < out[j].SortKey
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
