package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/naka0519/TownReady/internal/logger"
	"github.com/naka0519/TownReady/internal/pipeline"
	"github.com/naka0519/TownReady/internal/transport"
)

// Redis scheduler defaults
const (
	DefaultRedisKey     = "townready:retries"
	DefaultPollInterval = 500 * time.Millisecond
	drainBatch          = 100
	// requeueDelay is applied when a due retry fails to publish
	requeueDelay = time.Second
)

type parkedMessage struct {
	ID         string            `json:"id"`
	JobID      string            `json:"job_id"`
	Task       string            `json:"task"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Redis parks retries in a sorted set scored by due time. Any number of
// instances may poll the same key; ZREM decides which one publishes.
type Redis struct {
	rdb          *redis.Client
	pub          transport.Publisher
	key          string
	pollInterval time.Duration
	now          func() time.Time
}

// NewRedis creates a redis scheduler on the default key
func NewRedis(rdb *redis.Client, pub transport.Publisher) *Redis {
	return &Redis{
		rdb:          rdb,
		pub:          pub,
		key:          DefaultRedisKey,
		pollInterval: DefaultPollInterval,
		now:          time.Now,
	}
}

// Schedule implements Scheduler
func (s *Redis) Schedule(ctx context.Context, msg transport.Message, delay time.Duration) error {
	return s.park(ctx, delayApplied(withDelay(msg, delay)), s.now().Add(delay))
}

func (s *Redis) park(ctx context.Context, msg transport.Message, due time.Time) error {
	member, err := json.Marshal(parkedMessage{
		ID:         uuid.NewString(),
		JobID:      msg.JobID,
		Task:       msg.Task.String(),
		Attributes: msg.Attributes,
	})
	if err != nil {
		return fmt.Errorf("failed to encode retry: %w", err)
	}

	err = s.rdb.ZAdd(ctx, s.key, redis.Z{Score: float64(due.UnixMilli()), Member: string(member)}).Err()
	if err != nil {
		return fmt.Errorf("failed to park retry: %w", err)
	}
	return nil
}

// Run polls for due retries until ctx is done
func (s *Redis) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	logger.Infof("redis retry scheduler polling %s every %s", s.key, s.pollInterval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Drain(ctx); err != nil {
				logger.Warnf("failed to drain due retries: %v", err)
			}
		}
	}
}

// Drain publishes every retry that is due and returns how many this instance claimed
func (s *Redis) Drain(ctx context.Context) (int, error) {
	members, err := s.rdb.ZRangeByScore(ctx, s.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(s.now().UnixMilli(), 10),
		Count: drainBatch,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read due retries: %w", err)
	}

	claimed := 0
	for _, member := range members {
		removed, err := s.rdb.ZRem(ctx, s.key, member).Result()
		if err != nil {
			return claimed, fmt.Errorf("failed to claim retry: %w", err)
		}
		if removed == 0 {
			// another instance got it
			continue
		}
		claimed++

		var parked parkedMessage
		if err := json.Unmarshal([]byte(member), &parked); err != nil {
			logger.Errorf("dropping unreadable retry %q: %v", member, err)
			continue
		}
		msg := transport.Message{
			JobID:      parked.JobID,
			Task:       pipeline.Parse(parked.Task),
			Attributes: parked.Attributes,
		}
		if err := s.pub.Publish(ctx, msg); err != nil {
			logger.ForJob(msg.JobID, parked.Task).Warnf("failed to publish due retry, requeueing: %v", err)
			if err := s.park(ctx, msg, s.now().Add(requeueDelay)); err != nil {
				return claimed, err
			}
		}
	}
	return claimed, nil
}
