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

type ResetTokenRepository struct {
	client    *dynamodb.Client
	tableName string
	logger    *logrus.Logger
}

func NewResetTokenRepository(client *dynamodb.Client, tableName string, logger *logrus.Logger) *ResetTokenRepository {
	return &ResetTokenRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

func (r *ResetTokenRepository) Create(ctx context.Context, token *models.PasswordResetToken) error {
	item, err := attributevalue.MarshalMap(token)
	if err != nil {
		return fmt.Errorf("failed to marshal reset token: %w", err)
	}

	item["PK"] = &types.AttributeValueMemberS{Value: token.GetPK()}
	item["SK"] = &types.AttributeValueMemberS{Value: token.GetSK()}
	item["TTL"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", token.ExpiresAt.Unix())}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})

	if err != nil {
		r.logger.WithError(err).Error("Failed to store reset token in DynamoDB")
		return fmt.Errorf("failed to store reset token: %w", err)
	}

	return nil
}

// FindValidByToken looks a token up by value alone and returns nil when the
// row is absent or already used. Expiry is the caller's check.
func (r *ResetTokenRepository) FindValidByToken(ctx context.Context, value string) (*models.PasswordResetToken, error) {
	probe := models.PasswordResetToken{Token: value}

	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: probe.GetPK()},
			"SK": &types.AttributeValueMemberS{Value: probe.GetSK()},
		},
	})

	if err != nil {
		return nil, fmt.Errorf("failed to get reset token: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var token models.PasswordResetToken
	if err := attributevalue.UnmarshalMap(result.Item, &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reset token: %w", err)
	}

	if token.IsUsed {
		return nil, nil
	}

	return &token, nil
}

// FindValidByUserAndToken is the owner-scoped variant of FindValidByToken.
func (r *ResetTokenRepository) FindValidByUserAndToken(ctx context.Context, userID, value string) (*models.PasswordResetToken, error) {
	token, err := r.FindValidByToken(ctx, value)
	if err != nil || token == nil {
		return nil, err
	}
	if token.UserID != userID {
		return nil, nil
	}
	return token, nil
}

// MarkUsed flips is_used exactly once; losing the conditional write returns
// ErrAlreadyUsed. Reset tokens must never survive a double-use race.
func (r *ResetTokenRepository) MarkUsed(ctx context.Context, token *models.PasswordResetToken) error {
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
		r.logger.WithError(err).Error("Failed to mark reset token used")
		return fmt.Errorf("failed to mark reset token used: %w", err)
	}

	token.IsUsed = true
	return nil
}

// DeleteExpired removes reset token rows with expires_at <= now.
func (r *ResetTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	return deleteExpiredByPrefix(ctx, r.client, r.tableName, "RESET#", now)
}
