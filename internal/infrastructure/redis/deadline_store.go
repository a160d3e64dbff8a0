package redis

import (
	"context"
	"strconv"
	"strings"
	"time"

	"procureflow/internal/core/ports"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisDeadlineStore keeps stage deadlines in a sorted set scored by expiry
// unix time. It is only a wake-up index: the authoritative expires_at lives on
// the stage row, and the scheduler re-arms from the database after a restart.
type RedisDeadlineStore struct {
	client *redis.Client
	key    string
}

func NewRedisDeadlineStore(client *redis.Client) *RedisDeadlineStore {
	return &RedisDeadlineStore{
		client: client,
		key:    "approval:deadlines",
	}
}

func (s *RedisDeadlineStore) Arm(ctx context.Context, deadline ports.Deadline, expiresAt time.Time) error {
	return s.client.ZAdd(ctx, s.key, redis.Z{
		Score:  float64(expiresAt.Unix()),
		Member: member(deadline),
	}).Err()
}

func (s *RedisDeadlineStore) Disarm(ctx context.Context, deadline ports.Deadline) error {
	return s.client.ZRem(ctx, s.key, member(deadline)).Err()
}

func (s *RedisDeadlineStore) Due(ctx context.Context, now time.Time) ([]ports.Deadline, error) {
	members, err := s.client.ZRangeByScore(ctx, s.key, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}

	var due []ports.Deadline
	for _, m := range members {
		deadline, ok := parseMember(m)
		if !ok {
			// Corrupt member, drop it so it stops coming back every tick
			s.client.ZRem(ctx, s.key, m)
			continue
		}
		due = append(due, deadline)
	}
	return due, nil
}

func member(d ports.Deadline) string {
	return d.ExecutionID.String() + "/" + d.StageID.String()
}

func parseMember(m string) (ports.Deadline, bool) {
	parts := strings.SplitN(m, "/", 2)
	if len(parts) != 2 {
		return ports.Deadline{}, false
	}
	executionID, err := uuid.Parse(parts[0])
	if err != nil {
		return ports.Deadline{}, false
	}
	stageID, err := uuid.Parse(parts[1])
	if err != nil {
		return ports.Deadline{}, false
	}
	return ports.Deadline{ExecutionID: executionID, StageID: stageID}, true
}
