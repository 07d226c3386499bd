package database

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imyashkale/fleetd/internal/logger"
	"github.com/imyashkale/fleetd/internal/models"
	"github.com/sirupsen/logrus"
)

// Key attributes of the executions table. Deployment is the partition key,
// ExecutionKey (sortable creation time plus id) the sort key.
const (
	attrDeployment   = "Deployment"
	attrExecutionKey = "ExecutionKey"
)

const executionKeyTimeFormat = "2006-01-02T15:04:05.000Z"

// ExecutionOperations handles all DynamoDB operations for execution records
type ExecutionOperations struct {
	client    *Client
	tableName string
}

// NewExecutionOperations creates a new ExecutionOperations instance
func NewExecutionOperations(client *Client, tableName string) *ExecutionOperations {
	return &ExecutionOperations{
		client:    client,
		tableName: tableName,
	}
}

func executionKey(rec *models.ExecutionRecord) string {
	return rec.CreatedAt.UTC().Format(executionKeyTimeFormat) + "#" + rec.ID
}

// PutExecution stores a finished execution record. Records are written once.
func (eo *ExecutionOperations) PutExecution(ctx context.Context, rec *models.ExecutionRecord) error {
	av, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}
	av[attrExecutionKey] = &types.AttributeValueMemberS{Value: executionKey(rec)}

	_, err = eo.client.DynamoDB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(eo.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(#key)"),
		ExpressionAttributeNames: map[string]string{
			"#key": attrExecutionKey,
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrAlreadyExists
		}
		logger.WithFields(logrus.Fields{
			"execution_id": rec.ID,
			"deployment":   rec.Deployment,
			"error":        err.Error(),
		}).Error("Failed to store execution in DynamoDB")
		return fmt.Errorf("failed to store execution: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"execution_id": rec.ID,
		"deployment":   rec.Deployment,
		"status":       rec.Status,
	}).Debug("Execution stored in DynamoDB")
	return nil
}

// ListExecutions returns the newest records first. An empty deployment
// lists across all deployments.
func (eo *ExecutionOperations) ListExecutions(ctx context.Context, deployment string, limit int) ([]*models.ExecutionRecord, error) {
	var items []map[string]types.AttributeValue

	if deployment != "" {
		out, err := eo.client.DynamoDB.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(eo.tableName),
			KeyConditionExpression: aws.String("#dep = :dep"),
			ExpressionAttributeNames: map[string]string{
				"#dep": attrDeployment,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":dep": &types.AttributeValueMemberS{Value: deployment},
			},
			ScanIndexForward: aws.Bool(false),
			Limit:            aws.Int32(int32(limit)),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query executions: %w", err)
		}
		items = out.Items
	} else {
		out, err := eo.client.DynamoDB.Scan(ctx, &dynamodb.ScanInput{
			TableName: aws.String(eo.tableName),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan executions: %w", err)
		}
		items = out.Items
	}

	records := make([]*models.ExecutionRecord, 0, len(items))
	for _, item := range items {
		rec := &models.ExecutionRecord{}
		if err := attributevalue.UnmarshalMap(item, rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}
