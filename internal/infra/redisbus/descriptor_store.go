package redisbus

import (
	"context"
	"encoding/json"
	"fmt"

	"walking_bus_notifier/internal/app"

	"github.com/redis/go-redis/v9"
)

// DescriptorStore resolves test notification job keys against the TTL'd
// key-value entries written by the admin surface.
type DescriptorStore struct {
	client *redis.Client
}

func NewDescriptorStore(client *redis.Client) *DescriptorStore {
	return &DescriptorStore{client: client}
}

// Fetch returns nil (not an error) when the descriptor expired or never
// existed; the TTL expiring between publish and consume is a normal race.
func (s *DescriptorStore) Fetch(ctx context.Context, jobKey string) (*app.TestDescriptor, error) {
	val, err := s.client.Get(ctx, jobKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read test descriptor %s: %w", jobKey, err)
	}

	desc := app.TestDescriptor{}
	if err := json.Unmarshal([]byte(val), &desc); err != nil {
		return nil, fmt.Errorf("invalid test descriptor %s: %w", jobKey, err)
	}
	if desc.BusID <= 0 {
		return nil, fmt.Errorf("test descriptor %s names no walking bus", jobKey)
	}
	return &desc, nil
}
