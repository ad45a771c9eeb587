package batch

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ignite/apex-triage/internal/pkg/logger"
)

// DynamoRetrySet is the optional durable backing store for the read-retry
// set (see SPEC_FULL.md DOMAIN STACK): a multi-replica deployment that sets
// BatchConfig.DynamoTableName does not lose retry entries on restart. It
// implements the same RetrySet interface as MemoryRetrySet.
type DynamoRetrySet struct {
	client *dynamodb.Client
	table  string
}

type retryItem struct {
	Mailbox    string `dynamodbav:"mailbox"`
	ProviderID string `dynamodbav:"provider_id"`
}

// NewDynamoRetrySet builds a retry set backed by the named DynamoDB table,
// which must have a composite key (mailbox, provider_id).
func NewDynamoRetrySet(ctx context.Context, table, region string) (*DynamoRetrySet, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("batch: load aws config: %w", err)
	}
	return &DynamoRetrySet{client: dynamodb.NewFromConfig(cfg), table: table}, nil
}

func (d *DynamoRetrySet) Add(mailbox, providerID string) {
	item, err := attributevalue.MarshalMap(retryItem{Mailbox: mailbox, ProviderID: providerID})
	if err != nil {
		logger.Error("dynamo retry set marshal failed", "error", err.Error())
		return
	}
	_, err = d.client.PutItem(context.Background(), &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      item,
	})
	if err != nil {
		logger.Error("dynamo retry set put failed", "error", err.Error())
	}
}

func (d *DynamoRetrySet) Remove(mailbox, providerID string) {
	_, err := d.client.DeleteItem(context.Background(), &dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			"mailbox":     stringAttr(mailbox),
			"provider_id": stringAttr(providerID),
		},
	})
	if err != nil {
		logger.Error("dynamo retry set delete failed", "error", err.Error())
	}
}

func (d *DynamoRetrySet) Snapshot() map[string][]string {
	out := make(map[string][]string)
	paginator := dynamodb.NewScanPaginator(d.client, &dynamodb.ScanInput{TableName: aws.String(d.table)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(context.Background())
		if err != nil {
			logger.Error("dynamo retry set scan failed", "error", err.Error())
			return out
		}
		var items []retryItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			logger.Error("dynamo retry set unmarshal failed", "error", err.Error())
			continue
		}
		for _, it := range items {
			out[it.Mailbox] = append(out[it.Mailbox], it.ProviderID)
		}
	}
	return out
}

func stringAttr(v string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: v}
}
