package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// deleteExpiredByPrefix scans for rows under a PK prefix whose TTL attribute
// is at or before now and deletes them one by one. Expired-token volume is
// bounded by the short code lifetimes, so a filtered scan is adequate.
func deleteExpiredByPrefix(ctx context.Context, client *dynamodb.Client, tableName, prefix string, now time.Time) (int, error) {
	result, err := client.Scan(ctx, &dynamodb.ScanInput{
		TableName:            aws.String(tableName),
		FilterExpression:     aws.String("begins_with(PK, :prefix) AND #ttl <= :now"),
		ProjectionExpression: aws.String("PK, SK"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": "TTL",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":prefix": &types.AttributeValueMemberS{Value: prefix},
			":now":    &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Unix())},
		},
	})

	if err != nil {
		return 0, fmt.Errorf("failed to scan expired rows: %w", err)
	}

	deleted := 0
	for _, item := range result.Items {
		_, err := client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(tableName),
			Key: map[string]types.AttributeValue{
				"PK": item["PK"],
				"SK": item["SK"],
			},
		})
		if err != nil {
			return deleted, fmt.Errorf("failed to delete expired row: %w", err)
		}
		deleted++
	}

	return deleted, nil
}
