package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"

	"github.com/credstack/credstack/internal/models"
)

// ErrAlreadyUsed is returned when a conditional mark-used write loses the
// race: the row was consumed by a concurrent caller.
var ErrAlreadyUsed = errors.New("token already used")

type VerificationTokenRepository struct {
	client    *dynamodb.Client
	tableName string
	logger    *logrus.Logger
}

func NewVerificationTokenRepository(client *dynamodb.Client, tableName string, logger *logrus.Logger) *VerificationTokenRepository {
	return &VerificationTokenRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

func (r *VerificationTokenRepository) Create(ctx context.Context, token *models.VerificationToken) error {
	item, err := attributevalue.MarshalMap(token)
	if err != nil {
		return fmt.Errorf("failed to marshal verification token: %w", err)
	}

	item["PK"] = &types.AttributeValueMemberS{Value: token.GetPK()}
	item["SK"] = &types.AttributeValueMemberS{Value: token.GetSK()}
	item["TTL"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", token.ExpiresAt.Unix())}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})

	if err != nil {
		r.logger.WithError(err).Error("Failed to store verification token in DynamoDB")
		return fmt.Errorf("failed to store verification token: %w", err)
	}

	return nil
}

// FindLatest returns the most recently created token for (userID, channel),
// used or not, or nil when the user has never been sent a code.
func (r *VerificationTokenRepository) FindLatest(ctx context.Context, userID string, channel models.Channel) (*models.VerificationToken, error) {
	probe := models.VerificationToken{UserID: userID, Channel: channel}

	result, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: probe.GetPK()},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})

	if err != nil {
		return nil, fmt.Errorf("failed to query latest verification token: %w", err)
	}

	if len(result.Items) == 0 {
		return nil, nil
	}

	var token models.VerificationToken
	if err := attributevalue.UnmarshalMap(result.Items[0], &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal verification token: %w", err)
	}

	return &token, nil
}

// FindValid returns the most recent unused token matching (userID, channel,
// code), or nil when no such row exists. Expiry is not filtered here; the
// service checks freshness on every read.
func (r *VerificationTokenRepository) FindValid(ctx context.Context, userID string, channel models.Channel, code string) (*models.VerificationToken, error) {
	probe := models.VerificationToken{UserID: userID, Channel: channel}

	result, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		FilterExpression:       aws.String("#token = :code AND is_used = :unused"),
		ExpressionAttributeNames: map[string]string{
			"#token": "token",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: probe.GetPK()},
			":code":   &types.AttributeValueMemberS{Value: code},
			":unused": &types.AttributeValueMemberBOOL{Value: false},
		},
		ScanIndexForward: aws.Bool(false),
	})

	if err != nil {
		return nil, fmt.Errorf("failed to query verification token: %w", err)
	}

	if len(result.Items) == 0 {
		return nil, nil
	}

	var token models.VerificationToken
	if err := attributevalue.UnmarshalMap(result.Items[0], &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal verification token: %w", err)
	}

	return &token, nil
}

// MarkUsed flips is_used to true exactly once. The conditional write is the
// atomic guard against concurrent double-validation of the same code.
func (r *VerificationTokenRepository) MarkUsed(ctx context.Context, token *models.VerificationToken) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: token.GetPK()},
			"SK": &types.AttributeValueMemberS{Value: token.GetSK()},
		},
		UpdateExpression:    aws.String("SET is_used = :used"),
		ConditionExpression: aws.String("is_used = :unused"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":used":   &types.AttributeValueMemberBOOL{Value: true},
			":unused": &types.AttributeValueMemberBOOL{Value: false},
		},
	})

	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return ErrAlreadyUsed
		}
		r.logger.WithError(err).Error("Failed to mark verification token used")
		return fmt.Errorf("failed to mark verification token used: %w", err)
	}

	token.IsUsed = true
	return nil
}

// DeleteExpired removes every verification token row with expires_at <= now
// and returns how many rows were removed. DynamoDB TTL lags by hours; the
// periodic sweep keeps validation queries from walking dead rows.
func (r *VerificationTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	return deleteExpiredByPrefix(ctx, r.client, r.tableName, "OTP#", now)
}
