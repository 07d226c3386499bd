package repository

import (
	"context"

	"github.com/imyashkale/fleetd/internal/database"
	"github.com/imyashkale/fleetd/internal/models"
)

// ExecutionRepository defines the interface for execution history
type ExecutionRepository interface {
	Save(ctx context.Context, rec *models.ExecutionRecord) error
	List(ctx context.Context, deployment string, limit int) ([]*models.ExecutionRecord, error)
}

// dynamoExecutionRepository implements ExecutionRepository using DynamoDB
type dynamoExecutionRepository struct {
	db *database.ExecutionOperations
}

// NewExecutionRepository creates a new DynamoDB-backed execution repository
func NewExecutionRepository(db *database.ExecutionOperations) ExecutionRepository {
	return &dynamoExecutionRepository{
		db: db,
	}
}

// Save stores a finished record
func (r *dynamoExecutionRepository) Save(ctx context.Context, rec *models.ExecutionRecord) error {
	return r.db.PutExecution(ctx, rec)
}

// List returns the newest records first
func (r *dynamoExecutionRepository) List(ctx context.Context, deployment string, limit int) ([]*models.ExecutionRecord, error) {
	return r.db.ListExecutions(ctx, deployment, limit)
}
