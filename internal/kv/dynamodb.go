package kv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Attribute keys of the backing table. The table's partition key is the
// bucket, the sort key is the item id, and "expires" is registered as
// the table's TTL attribute.
const (
	bucketAttribute  = "bucket"
	idAttribute      = "id"
	expiresAttribute = "expires"
)

// dynamoClient captures the DynamoDB API methods of interest so calls
// can be mocked in tests.
type dynamoClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

type storableItem struct {
	Bucket  string `dynamodbav:"bucket"`
	ID      string `dynamodbav:"id"`
	Value   []byte `dynamodbav:"value"`
	Expires *int64 `dynamodbav:"expires,omitempty"`
}

// Dynamo is a Store backed by one DynamoDB table. DynamoDB's TTL sweep
// is eventually consistent, so expiry is also enforced on read.
type Dynamo struct {
	client    dynamoClient
	tableName string
	now       func() time.Time
}

// NewDynamo creates a Store over the given AWS configuration and table.
func NewDynamo(cfg aws.Config, tableName string) *Dynamo {
	return &Dynamo{
		client:    dynamodb.NewFromConfig(cfg),
		tableName: tableName,
		now:       time.Now,
	}
}

func (d *Dynamo) Set(ctx context.Context, key Key, value []byte, ttlSeconds *int64) error {
	item := storableItem{
		Bucket: key.Bucket,
		ID:     key.ID,
		Value:  value,
	}
	if ttlSeconds != nil {
		expires := d.now().Unix() + *ttlSeconds
		item.Expires = &expires
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshaling item %s/%s: %w", key.Bucket, key.ID, err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("dynamodb put %s/%s: %w", key.Bucket, key.ID, err)
	}
	return nil
}

// Create performs a conditional put so that two concurrent writers
// cannot both win: the write succeeds only when no item exists under the
// key, or the one that does has already passed its TTL and is awaiting
// the table's sweep.
func (d *Dynamo) Create(ctx context.Context, key Key, value []byte, ttlSeconds *int64) error {
	item := storableItem{
		Bucket: key.Bucket,
		ID:     key.ID,
		Value:  value,
	}
	if ttlSeconds != nil {
		expires := d.now().Unix() + *ttlSeconds
		item.Expires = &expires
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshaling item %s/%s: %w", key.Bucket, key.ID, err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(#b) OR #e <= :now"),
		ExpressionAttributeNames: map[string]string{
			"#b": bucketAttribute,
			"#e": expiresAttribute,
		},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":now": &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(d.now().Unix(), 10)},
		},
	})
	if err != nil {
		var conditionFailed *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("dynamodb conditional put %s/%s: %w", key.Bucket, key.ID, err)
	}
	return nil
}

func (d *Dynamo) Get(ctx context.Context, key Key) ([]byte, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		ConsistentRead: aws.Bool(true),
		Key:            d.tableKey(key),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb get %s/%s: %w", key.Bucket, key.ID, err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	var item storableItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling item %s/%s: %w", key.Bucket, key.ID, err)
	}
	if d.hasExpired(item) {
		return nil, ErrNotFound
	}
	return item.Value, nil
}

func (d *Dynamo) Delete(ctx context.Context, key Key) error {
	out, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(d.tableName),
		Key:          d.tableKey(key),
		ReturnValues: ddbtypes.ReturnValueAllOld,
	})
	if err != nil {
		return fmt.Errorf("dynamodb delete %s/%s: %w", key.Bucket, key.ID, err)
	}
	if out.Attributes == nil {
		return ErrNotFound
	}
	return nil
}

func (d *Dynamo) ListIDs(ctx context.Context, bucket string) ([]string, error) {
	var ids []string
	var startKey map[string]ddbtypes.AttributeValue
	for {
		out, err := d.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(d.tableName),
			KeyConditionExpression: aws.String("#b = :bucket"),
			ExpressionAttributeNames: map[string]string{
				"#b": bucketAttribute,
			},
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":bucket": &ddbtypes.AttributeValueMemberS{Value: bucket},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("dynamodb query %s: %w", bucket, err)
		}
		for _, raw := range out.Items {
			var item storableItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("unmarshaling listed item in %s: %w", bucket, err)
			}
			if d.hasExpired(item) {
				continue
			}
			ids = append(ids, item.ID)
		}
		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	sort.Strings(ids)
	return ids, nil
}

func (d *Dynamo) hasExpired(item storableItem) bool {
	return item.Expires != nil && *item.Expires <= d.now().Unix()
}

func (d *Dynamo) tableKey(key Key) map[string]ddbtypes.AttributeValue {
	return map[string]ddbtypes.AttributeValue{
		bucketAttribute: &ddbtypes.AttributeValueMemberS{Value: key.Bucket},
		idAttribute:     &ddbtypes.AttributeValueMemberS{Value: key.ID},
	}
}
