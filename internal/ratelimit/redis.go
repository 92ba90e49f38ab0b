package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript はキーのカウンタを増やし、初回のみ有効期限を設定する。
// 上限を超えた分は戻すため、拒否されたリクエストは数えない。
// 戻り値は {増加後のカウント, 残りミリ秒}。
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
if current > tonumber(ARGV[2]) then
	redis.call("DECR", KEYS[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

// RedisStore はRedisの固定窓カウンタでレート制限を行う。
// 複数インスタンスで制限状態を共有する構成向け。
type RedisStore struct {
	client    redis.Scripter
	keyPrefix string
}

// NewRedisStore はRedisStoreを生成する。
func NewRedisStore(client redis.Scripter) *RedisStore {
	return &RedisStore{client: client, keyPrefix: "scriptlabs:ratelimit:"}
}

// OpenRedis はREDIS_URL形式のURLからクライアントを生成し、疎通を確認する。
func OpenRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Allow はキーの現在の窓のカウンタを1増やし、上限以内かを判定する。
// Maxが0以下のポリシーは無効とみなし常に許可する。
func (s *RedisStore) Allow(ctx context.Context, policy Policy, key string) (Result, error) {
	if policy.Max <= 0 || policy.Window <= 0 {
		return Result{Allowed: true}, nil
	}

	redisKey := s.keyPrefix + policy.Name + ":" + key
	vals, err := fixedWindowScript.Run(ctx, s.client,
		[]string{redisKey},
		policy.Window.Milliseconds(), policy.Max,
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit script failed: %w", err)
	}
	if len(vals) != 2 {
		return Result{}, fmt.Errorf("unexpected rate limit script result: %v", vals)
	}

	count, ttlMs := int(vals[0]), vals[1]
	if ttlMs < 0 {
		ttlMs = policy.Window.Milliseconds()
	}

	used := min(count, policy.Max)
	return Result{
		Allowed:    count <= policy.Max,
		Limit:      policy.Max,
		Remaining:  policy.Max - used,
		ResetAfter: time.Duration(ttlMs) * time.Millisecond,
	}, nil
}

var _ Store = (*RedisStore)(nil)
