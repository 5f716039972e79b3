package statestore

import (
    "context"
    "fmt"
    "strings"
    "time"

    "github.com/go-redis/redis/v8"
    "github.com/workpulse/workpulse/internal/domain"
)

const keyPrefix = "oauth:state:"

// Redis backs the state registry with redis, letting the callback land
// on any instance behind a load balancer.
type Redis struct {
    rdb *redis.Client
    ttl time.Duration
}

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
    return &Redis{rdb: rdb, ttl: ttl}
}

func (s *Redis) Issue(ctx context.Context, userID string, provider domain.Provider) (string, error) {
    tok, err := newToken()
    if err != nil { return "", err }
    val := userID + "|" + string(provider)
    if err := s.rdb.Set(ctx, keyPrefix+tok, val, s.ttl).Err(); err != nil {
        return "", fmt.Errorf("statestore: set: %w", err)
    }
    return tok, nil
}

func (s *Redis) Consume(ctx context.Context, state string) (string, domain.Provider, error) {
    val, err := s.rdb.GetDel(ctx, keyPrefix+state).Result()
    if err == redis.Nil { return "", "", domain.ErrInvalidState }
    if err != nil { return "", "", fmt.Errorf("statestore: getdel: %w", err) }
    userID, prov, ok := strings.Cut(val, "|")
    if !ok { return "", "", domain.ErrInvalidState }
    p, err := domain.ParseProvider(prov)
    if err != nil { return "", "", domain.ErrInvalidState }
    return userID, p, nil
}
