package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"tidbyt.dev/caltrain/model"
)

const (
	DefaultRedisPrefix    = "caltrain:"
	DefaultRedisOpTimeout = 5 * time.Second

	redisGenerationField = "_generation"
)

// Departure cache and shared state in Redis, for deployments where
// several processes serve the same riders.
//
// Departures live in a single hash keyed by station ID. A refresh
// writes a fresh staging hash and RENAMEs it over the live one, so
// readers never see a partially written set.
type RedisStorage struct {
	OpTimeout time.Duration

	client *redis.Client
	prefix string
	logger *slog.Logger
}

func NewRedisStorage(addr, password string, db int, logger *slog.Logger) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), DefaultRedisOpTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &RedisStorage{
		OpTimeout: DefaultRedisOpTimeout,
		client:    client,
		prefix:    DefaultRedisPrefix,
		logger:    logger.With("component", "redis_storage"),
	}, nil
}

func (s *RedisStorage) Close() error {
	return s.client.Close()
}

func (s *RedisStorage) key(k string) string {
	return s.prefix + k
}

func (s *RedisStorage) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.OpTimeout)
}

func (s *RedisStorage) ReplaceDepartures(departures []model.LiveDeparture) error {
	byStation := map[string][]model.LiveDeparture{}
	for _, d := range departures {
		if d.StationID == "" {
			return fmt.Errorf("departure '%s' has no station", d.ID)
		}
		byStation[d.StationID] = append(byStation[d.StationID], d)
	}

	generation := uuid.New().String()
	fields := map[string]interface{}{redisGenerationField: generation}
	for stationID, ds := range byStation {
		sortDepartures(ds)
		data, err := json.Marshal(ds)
		if err != nil {
			return fmt.Errorf("marshaling departures: %w", err)
		}
		fields[stationID] = data
	}

	ctx, cancel := s.ctx()
	defer cancel()

	staging := s.key("departures:staging:" + generation)
	if err := s.client.HSet(ctx, staging, fields).Err(); err != nil {
		s.client.Del(ctx, staging)
		return fmt.Errorf("writing staging departures: %w", err)
	}

	if err := s.client.Rename(ctx, staging, s.key("departures")).Err(); err != nil {
		s.client.Del(ctx, staging)
		return fmt.Errorf("publishing departures: %w", err)
	}

	s.logger.Debug("departures replaced", "generation", generation, "stations", len(byStation), "departures", len(departures))
	return nil
}

func (s *RedisStorage) DeparturesForStation(stationID string) ([]model.LiveDeparture, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	data, err := s.client.HGet(ctx, s.key("departures"), stationID).Bytes()
	if err == redis.Nil {
		return []model.LiveDeparture{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading departures: %w", err)
	}

	departures := []model.LiveDeparture{}
	if err := json.Unmarshal(data, &departures); err != nil {
		return nil, fmt.Errorf("unmarshaling departures: %w", err)
	}
	return departures, nil
}

func (s *RedisStorage) GetState(key string) (string, bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	value, err := s.client.HGet(ctx, s.key("state"), key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading state '%s': %w", key, err)
	}
	return value, true, nil
}

func (s *RedisStorage) PutState(key string, value string) error {
	ctx, cancel := s.ctx()
	defer cancel()

	if err := s.client.HSet(ctx, s.key("state"), key, value).Err(); err != nil {
		return fmt.Errorf("writing state '%s': %w", key, err)
	}
	return nil
}
