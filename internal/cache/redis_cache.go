package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"salepa/backend/internal/domain"
)

type RedisScheduleCache struct {
	client *redis.Client
}

func NewRedisScheduleCache(addr string, password string, db int) *RedisScheduleCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisScheduleCache{client: client}
}

func (c *RedisScheduleCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisScheduleCache) Close() error {
	return c.client.Close()
}

func dayKey(date string) string {
	return "schedule:day:" + date
}

func (c *RedisScheduleCache) GetDay(ctx context.Context, date string) ([]domain.Appointment, bool, error) {
	val, err := c.client.Get(ctx, dayKey(date)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var appointments []domain.Appointment
	if err := json.Unmarshal([]byte(val), &appointments); err != nil {
		return nil, false, err
	}
	return appointments, true, nil
}

func (c *RedisScheduleCache) SetDay(ctx context.Context, date string, appointments []domain.Appointment, ttl time.Duration) error {
	payload, err := json.Marshal(appointments)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, dayKey(date), payload, ttl).Err()
}

func (c *RedisScheduleCache) InvalidateDay(ctx context.Context, date string) error {
	return c.client.Del(ctx, dayKey(date)).Err()
}
