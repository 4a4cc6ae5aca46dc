package store

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key layout for the live cache.
const (
	liveTelemetryKey = "live:telemetry" // hash machine_id -> TelemetryRow json
	liveShiftwiseKey = "live:shiftwise" // hash machine_id -> ShiftwiseEnergy json
	idempotencyNS    = "idem:"
)

// LiveCache keeps the one-row-per-machine live state in Redis so the 1s
// detector loops poll the cache instead of hammering Postgres. Postgres
// stays authoritative; the cache is rebuilt from it on startup.
type LiveCache struct {
	client *redis.Client
}

// NewLiveCache connects and verifies the Redis backend.
func NewLiveCache(addr, password string, db int) (*LiveCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &LiveCache{client: client}, nil
}

// NewLiveCacheFromClient wraps an existing client (tests use miniredis).
func NewLiveCacheFromClient(client *redis.Client) *LiveCache {
	return &LiveCache{client: client}
}

func (c *LiveCache) Close() error { return c.client.Close() }

// SetTelemetry stores the live row for one machine.
func (c *LiveCache) SetTelemetry(ctx context.Context, row *TelemetryRow) error {
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return c.client.HSet(ctx, liveTelemetryKey, strconv.FormatInt(row.MachineID, 10), data).Err()
}

// AllTelemetry returns the live row of every machine currently in the set.
func (c *LiveCache) AllTelemetry(ctx context.Context) (map[int64]*TelemetryRow, error) {
	raw, err := c.client.HGetAll(ctx, liveTelemetryKey).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[int64]*TelemetryRow, len(raw))
	for field, val := range raw {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		var row TelemetryRow
		if err := json.Unmarshal([]byte(val), &row); err != nil {
			return nil, err
		}
		out[id] = &row
	}
	return out, nil
}

// RemoveTelemetry drops a machine from the live set. Detectors turn the
// removal into a synthetic OFFLINE event.
func (c *LiveCache) RemoveTelemetry(ctx context.Context, machineID int64) error {
	return c.client.HDel(ctx, liveTelemetryKey, strconv.FormatInt(machineID, 10)).Err()
}

// SetShiftwise stores the live shiftwise-energy row for one machine.
func (c *LiveCache) SetShiftwise(ctx context.Context, e *ShiftwiseEnergy) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.client.HSet(ctx, liveShiftwiseKey, strconv.FormatInt(e.MachineID, 10), data).Err()
}

// AllShiftwise returns every machine's live shiftwise row.
func (c *LiveCache) AllShiftwise(ctx context.Context) (map[int64]*ShiftwiseEnergy, error) {
	raw, err := c.client.HGetAll(ctx, liveShiftwiseKey).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[int64]*ShiftwiseEnergy, len(raw))
	for field, val := range raw {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		var e ShiftwiseEnergy
		if err := json.Unmarshal([]byte(val), &e); err != nil {
			return nil, err
		}
		out[id] = &e
	}
	return out, nil
}

// --- Idempotency records (X-Idempotency-Key) ---

// GetIdempotencyRecord returns the cached response for a key, "" if absent.
func (c *LiveCache) GetIdempotencyRecord(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, idempotencyNS+key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

// SetIdempotencyRecordNX stores a response only if the key is unused.
func (c *LiveCache) SetIdempotencyRecordNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, idempotencyNS+key, value, ttl).Result()
}
