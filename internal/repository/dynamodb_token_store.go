package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"
)

// DynamoDBAPI is the subset of *dynamodb.Client used by the repositories.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

type refreshTokenItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	Subject   string `dynamodbav:"Subject"`
	Token     string `dynamodbav:"Token"`
	CreatedAt string `dynamodbav:"CreatedAt"`
	TTL       int64  `dynamodbav:"TTL"`
}

// DynamoDBTokenStore keeps registry and revocation entries in a single table
// keyed by PK/SK with a TTL attribute. DynamoDB removes expired items lazily,
// so reads also compare TTL against the clock.
type DynamoDBTokenStore struct {
	client    DynamoDBAPI
	tableName string
	logger    *logrus.Logger
	now       func() time.Time
}

func NewDynamoDBTokenStore(client DynamoDBAPI, tableName string, logger *logrus.Logger) *DynamoDBTokenStore {
	return &DynamoDBTokenStore{
		client:    client,
		tableName: tableName,
		logger:    logger,
		now:       time.Now,
	}
}

func refreshPK(subject string) string {
	return fmt.Sprintf("REFRESH_TOKEN#%s", subject)
}

func revokedPK(token string) string {
	return fmt.Sprintf("REVOKED_TOKEN#%s", tokenDigest(token))
}

func metadataKey(pk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: "METADATA"},
	}
}

// PutRefresh stores the refresh token for subject with TTL
func (s *DynamoDBTokenStore) PutRefresh(ctx context.Context, subject, token string, ttl time.Duration) error {
	now := s.now()
	item, err := attributevalue.MarshalMap(refreshTokenItem{
		PK:        refreshPK(subject),
		SK:        "METADATA",
		Subject:   subject,
		Token:     token,
		CreatedAt: now.Format(time.RFC3339),
		TTL:       now.Add(ttl).Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal refresh token: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		s.logger.WithError(err).WithField("subject", subject).Error("Failed to store refresh token in DynamoDB")
		return fmt.Errorf("%w: store refresh token: %v", ErrStoreUnavailable, err)
	}

	return nil
}

// GetRefresh retrieves the live refresh token for subject
func (s *DynamoDBTokenStore) GetRefresh(ctx context.Context, subject string) (string, bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            metadataKey(refreshPK(subject)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		s.logger.WithError(err).WithField("subject", subject).Error("Failed to get refresh token from DynamoDB")
		return "", false, fmt.Errorf("%w: get refresh token: %v", ErrStoreUnavailable, err)
	}

	if result.Item == nil {
		return "", false, nil
	}

	var item refreshTokenItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return "", false, fmt.Errorf("failed to unmarshal refresh token: %w", err)
	}

	if item.TTL <= s.now().Unix() {
		return "", false, nil
	}

	return item.Token, true, nil
}

// DeleteRefresh removes the refresh token for subject
func (s *DynamoDBTokenStore) DeleteRefresh(ctx context.Context, subject string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       metadataKey(refreshPK(subject)),
	})
	if err != nil {
		s.logger.WithError(err).WithField("subject", subject).Error("Failed to delete refresh token from DynamoDB")
		return fmt.Errorf("%w: delete refresh token: %v", ErrStoreUnavailable, err)
	}

	return nil
}

// Revoke writes a revoked marker unless a live one already exists
func (s *DynamoDBTokenStore) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	now := s.now()
	item := metadataKey(revokedPK(token))
	item["RevokedAt"] = &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)}
	item["TTL"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(ttl).Unix(), 10)}

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) OR #ttl <= :now"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": "TTL",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil
		}
		s.logger.WithError(err).Error("Failed to mark token revoked in DynamoDB")
		return fmt.Errorf("%w: revoke token: %v", ErrStoreUnavailable, err)
	}

	return nil
}

// IsRevoked checks for a live revoked marker
func (s *DynamoDBTokenStore) IsRevoked(ctx context.Context, token string) (bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            metadataKey(revokedPK(token)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		s.logger.WithError(err).Error("Failed to check token revocation in DynamoDB")
		return false, fmt.Errorf("%w: check revocation: %v", ErrStoreUnavailable, err)
	}

	if result.Item == nil {
		return false, nil
	}

	ttlAttr, ok := result.Item["TTL"].(*types.AttributeValueMemberN)
	if !ok {
		return true, nil
	}
	expiresAt, err := strconv.ParseInt(ttlAttr.Value, 10, 64)
	if err != nil {
		return true, nil
	}

	return expiresAt > s.now().Unix(), nil
}
