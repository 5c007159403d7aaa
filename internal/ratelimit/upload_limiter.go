package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"genomevault/internal/config"
)

// UploadLimiter throttles upload admission per client. Bucket state
// lives in Redis so the limit holds across replicas of the intake
// server; each client gets a burst of RateLimitCapacity uploads that
// refills at RateLimitRefill per second.
type UploadLimiter struct {
	client *redis.Client
	burst  int
	rate   float64 // uploads per second
	env    string
}

// Decision is the outcome of an admission check. RetryAfter is how
// long the client must wait for the next token when rejected.
type Decision struct {
	Allowed    bool
	Remaining  float64
	RetryAfter time.Duration
}

// NewUploadLimiter builds a limiter from the server configuration.
func NewUploadLimiter(client *redis.Client, cfg config.Config) *UploadLimiter {
	burst := cfg.RateLimitCapacity
	if burst <= 0 {
		burst = 20
	}
	rate := cfg.RateLimitRefill
	if rate <= 0 {
		rate = 5
	}
	return &UploadLimiter{
		client: client,
		burst:  burst,
		rate:   rate,
		env:    cfg.Env,
	}
}

// bucketKey namespaces per-client state by deployment environment so
// staging and production sharing one Redis never collide.
func (l *UploadLimiter) bucketKey(clientKey string) string {
	return fmt.Sprintf("%s:upload-bucket:%s", l.env, clientKey)
}

// idleTTL is how long an untouched bucket survives: long enough to
// refill completely, with a floor so very fast refill rates still
// leave state around for inspection.
func (l *UploadLimiter) idleTTL() time.Duration {
	full := time.Duration(float64(l.burst)/l.rate*1000) * time.Millisecond
	if full < 10*time.Minute {
		return 10 * time.Minute
	}
	return full
}

// Allow spends one upload token for the client if the bucket has one.
func (l *UploadLimiter) Allow(ctx context.Context, clientKey string) (Decision, error) {
	res, err := admitScript.Run(ctx, l.client,
		[]string{l.bucketKey(clientKey)},
		l.burst,
		l.rate/1000, // tokens per millisecond, matching the script clock
		time.Now().UnixMilli(),
		l.idleTTL().Milliseconds(),
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("upload limiter: %w", err)
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) != 3 {
		return Decision{}, fmt.Errorf("upload limiter: unexpected reply %v", res)
	}
	granted, _ := reply[0].(int64)
	var remaining float64
	if s, ok := reply[1].(string); ok {
		remaining, _ = strconv.ParseFloat(s, 64)
	}
	waitMS, _ := reply[2].(int64)

	return Decision{
		Allowed:    granted == 1,
		Remaining:  remaining,
		RetryAfter: time.Duration(waitMS) * time.Millisecond,
	}, nil
}

// admitScript refills the bucket for the elapsed time, then either
// grants a token or reports the wait until one accrues. The level is
// returned as a string so fractional tokens survive Lua's integer
// reply conversion.
var admitScript = redis.NewScript(`
local bucket = KEYS[1]
local burst = tonumber(ARGV[1])
local rate_per_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local idle_ttl_ms = tonumber(ARGV[4])

local level = tonumber(redis.call('HGET', bucket, 'level'))
local seen = tonumber(redis.call('HGET', bucket, 'seen_ms'))
if level == nil or seen == nil or seen > now_ms then
  level = burst
  seen = now_ms
end

level = level + (now_ms - seen) * rate_per_ms
if level > burst then
  level = burst
end

local granted = 0
local wait_ms = 0
if level >= 1 then
  granted = 1
  level = level - 1
else
  wait_ms = math.ceil((1 - level) / rate_per_ms)
end

redis.call('HSET', bucket, 'level', level, 'seen_ms', now_ms)
redis.call('PEXPIRE', bucket, idle_ttl_ms)
return {granted, tostring(level), wait_ms}
`)
