package state

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

type StateManager interface {
	GetLastProcessedPage(ctx context.Context) (int, error)
	SetLastProcessedPage(ctx context.Context, pageNumber int) error
}

type redisStateManager struct {
	redisClient *redis.Client
	key         string
}

func NewRedisStateManager(redisClient *redis.Client, keyPrefix string) StateManager {
	return &redisStateManager{
		redisClient: redisClient,
		key:         keyPrefix + "progress:list_page",
	}
}

func (s *redisStateManager) GetLastProcessedPage(ctx context.Context) (int, error) {
	val, err := s.redisClient.Get(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil // No progress saved yet
		}
		return 0, fmt.Errorf("failed to get last processed page: %w", err)
	}

	page, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("failed to parse last processed page %q: %w", val, err)
	}

	return page, nil
}

func (s *redisStateManager) SetLastProcessedPage(ctx context.Context, pageNumber int) error {
	if err := s.redisClient.Set(ctx, s.key, pageNumber, 0).Err(); err != nil {
		return fmt.Errorf("failed to set last processed page: %w", err)
	}
	return nil
}
