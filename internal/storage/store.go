package storage

import (
	"context"

	"github.com/dannaaduna/oacd-core/internal/types"
	"github.com/rs/zerolog"
)

// Store defines the reporting storage interface. The session core itself
// persists nothing; state records exist only for downstream reporting
type Store interface {
	SaveStateRecord(record types.StateRecord) error
	GetStateRecords(dateKey string) ([]types.StateRecord, error)
	GetAgentStatesByDate(login, dateKey string) ([]types.StateRecord, error)
	TruncateAll() error
}

// NoopStore is a no-op implementation when DynamoDB is disabled
type NoopStore struct{}

func NewNoopStore() *NoopStore { return &NoopStore{} }

func (s *NoopStore) SaveStateRecord(_ types.StateRecord) error { return nil }
func (s *NoopStore) GetStateRecords(_ string) ([]types.StateRecord, error) {
	return nil, nil
}
func (s *NoopStore) GetAgentStatesByDate(_, _ string) ([]types.StateRecord, error) {
	return nil, nil
}
func (s *NoopStore) TruncateAll() error { return nil }

// NewStore creates the appropriate store based on configuration
func NewStore(ctx context.Context, logger zerolog.Logger) (Store, error) {
	cfg := LoadDynamoConfig()

	switch cfg.Mode {
	case DynamoModeLocal, DynamoModeAWS:
		return NewDynamoDBStore(ctx, cfg, logger)
	default:
		logger.Info().Msg("DynamoDB disabled (DYNAMO_MODE=none)")
		return NewNoopStore(), nil
	}
}
