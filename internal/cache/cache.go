package cache

import (
	"context"
	"time"

	"kasirpro/backend/internal/domain"
)

type ReceiptConfigCache interface {
	Get(ctx context.Context, key string) (*domain.ReceiptConfig, bool, error)
	Set(ctx context.Context, key string, value *domain.ReceiptConfig, ttl time.Duration) error
}

type NoopReceiptConfigCache struct{}

func (NoopReceiptConfigCache) Get(_ context.Context, _ string) (*domain.ReceiptConfig, bool, error) {
	return nil, false, nil
}

func (NoopReceiptConfigCache) Set(_ context.Context, _ string, _ *domain.ReceiptConfig, _ time.Duration) error {
	return nil
}
