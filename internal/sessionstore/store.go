// Package sessionstore implements the ephemeral key/value adapter: call
// session records and short-TTL customer/VIN lookup caches backed by
// Redis. Every operation has a bounded deadline and never panics on a miss
// or a connection problem — failures are logged and returned as a defined
// negative result.
package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// OpTimeout bounds every adapter operation.
	OpTimeout = 2 * time.Second

	sessionTTL  = time.Hour
	customerTTL = 5 * time.Minute
	vinTTL      = 7 * 24 * time.Hour
)

func sessionKey(callSID string) string { return "session:" + callSID }
func customerKey(phone string) string  { return "customer:" + phone }
func vinKey(vin string) string         { return "vin:" + vin }

// Store is the typed Redis-backed session/cache adapter. The zero value
// never reaches Redis: its initialized flag is false, so every method
// returns its defined negative result. Construct with [New] to connect.
type Store struct {
	client      redis.UniversalClient
	initialized bool
	updateScript *redis.Script
}

// Config configures a [Store].
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int // default ~50, matching the orchestrator's per-call fan-out
}

// New constructs a [Store] and pings the server once to validate the
// connection, setting the initialized flag accordingly. A failed ping does
// not return an error: per the adapter's initialization invariant, every
// subsequent operation checks initialized and returns a defined negative
// result rather than ever panicking on a dead connection.
func New(ctx context.Context, cfg Config) *Store {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 50
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	s := &Store{
		client:       client,
		updateScript: redis.NewScript(updateSessionScript),
	}

	pingCtx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		slog.Error("sessionstore: initial ping failed", "error", err)
		s.initialized = false
		return s
	}
	s.initialized = true
	return s
}

// Health pings the Redis server. It returns (false, nil) when the store was
// never initialized and (false, err) when the ping fails.
func (s *Store) Health(ctx context.Context) (bool, error) {
	if s == nil || !s.initialized {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return false, err
	}
	return true, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// SessionRecord is the ephemeral per-call record keyed by call_sid.
type SessionRecord struct {
	CallSID            string          `json:"call_sid"`
	StreamSID          string          `json:"stream_sid"`
	CallerPhone        string          `json:"caller_phone"`
	CustomerID         *int64          `json:"customer_id,omitempty"`
	ConversationHistory []HistoryTurn  `json:"conversation_history"`
	CurrentState       string          `json:"current_state"`
	CollectedSlots     map[string]any  `json:"collected_slots"`
	Intent             string          `json:"intent,omitempty"`
	Speaking           bool            `json:"speaking"`
	CreatedAt          time.Time       `json:"created_at"`
	LastUpdated        time.Time       `json:"last_updated"`
}

// HistoryTurn is one entry in a SessionRecord's conversation history.
type HistoryTurn struct {
	Role       string `json:"role"` // system | user | assistant | tool
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolCalls  []byte `json:"tool_calls,omitempty"`
}

// SetSession overwrites the session record for callSID with a fresh TTL.
// TTL is clamped to at most one hour, the adapter-wide cap.
func (s *Store) SetSession(ctx context.Context, callSID string, rec *SessionRecord, ttl time.Duration) error {
	if s == nil || !s.initialized {
		return nil
	}
	if ttl <= 0 || ttl > sessionTTL {
		ttl = sessionTTL
	}
	rec.LastUpdated = time.Now().UTC()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("sessionstore: marshal session: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()
	if err := s.client.Set(ctx, sessionKey(callSID), data, ttl).Err(); err != nil {
		slog.Warn("sessionstore: set_session failed", "call_sid", callSID, "error", err)
		return err
	}
	return nil
}

// GetSession returns the session record for callSID, or (nil, nil) on a
// miss or timeout — a miss is never an error condition callers must
// special-case.
func (s *Store) GetSession(ctx context.Context, callSID string) (*SessionRecord, error) {
	if s == nil || !s.initialized {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	data, err := s.client.Get(ctx, sessionKey(callSID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		slog.Warn("sessionstore: get_session failed", "call_sid", callSID, "error", err)
		return nil, nil
	}

	var rec SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("sessionstore: unmarshal session: %w", err)
	}
	return &rec, nil
}

// DeleteSession removes the session record for callSID. Deleting a record
// that does not exist is not an error.
func (s *Store) DeleteSession(ctx context.Context, callSID string) error {
	if s == nil || !s.initialized {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()
	if err := s.client.Del(ctx, sessionKey(callSID)).Err(); err != nil {
		slog.Warn("sessionstore: delete_session failed", "call_sid", callSID, "error", err)
		return err
	}
	return nil
}

// updateSessionScript is the Lua body for [Store.UpdateSession]'s atomic
// read-modify-write. KEYS[1] is the session key; ARGV[1] is the JSON patch
// object; ARGV[2] is the fallback TTL in seconds if the remaining TTL is
// non-positive.
//
// It GETs the current record, fails with no write if the key is absent,
// shallow-merges the patch keys over the decoded record, stamps
// last_updated, and SETs the merged JSON back with the original TTL
// preserved (or reset to the fallback). This is the only path allowed to
// mutate a session record: client-side read-modify-write would race the
// orchestrator's two per-call tasks.
const updateSessionScript = `
local raw = redis.call('GET', KEYS[1])
if raw == false then
  return redis.error_reply('sessionstore: no session for key')
end
local record = cjson.decode(raw)
local patch = cjson.decode(ARGV[1])
for k, v in pairs(patch) do
  record[k] = v
end
record['last_updated'] = ARGV[3]
local ttl = tonumber(redis.call('TTL', KEYS[1]))
if ttl == nil or ttl <= 0 then
  ttl = tonumber(ARGV[2])
end
local merged = cjson.encode(record)
redis.call('SET', KEYS[1], merged, 'EX', ttl)
return merged
`

// UpdateSession atomically merges patch into the stored record for
// callSID via a server-side script, preserving the remaining TTL (or
// resetting to one hour if it has already expired or is unset). It never
// extends the TTL beyond one hour. Returns an error if no session exists
// for callSID.
func (s *Store) UpdateSession(ctx context.Context, callSID string, patch map[string]any) (*SessionRecord, error) {
	if s == nil || !s.initialized {
		return nil, fmt.Errorf("sessionstore: not initialized")
	}
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: marshal patch: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	result, err := s.updateScript.Run(ctx, s.client,
		[]string{sessionKey(callSID)},
		string(patchJSON), int(sessionTTL.Seconds()), now,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("sessionstore: update_session: %w", err)
	}

	var rec SessionRecord
	if err := json.Unmarshal([]byte(result.(string)), &rec); err != nil {
		return nil, fmt.Errorf("sessionstore: unmarshal updated session: %w", err)
	}
	return &rec, nil
}

// CustomerCacheRecord is a denormalized snapshot of a customer and their
// vehicles/upcoming appointments, cached by phone for 300 s.
type CustomerCacheRecord struct {
	CustomerJSON     json.RawMessage `json:"customer"`
	VehiclesJSON     json.RawMessage `json:"vehicles"`
	AppointmentsJSON json.RawMessage `json:"appointments"`
	CachedAt         time.Time       `json:"cached_at"`
}

// CacheCustomer stores a customer snapshot keyed by phone with a 300 s TTL.
func (s *Store) CacheCustomer(ctx context.Context, phone string, snapshot *CustomerCacheRecord) error {
	if s == nil || !s.initialized {
		return nil
	}
	snapshot.CachedAt = time.Now().UTC()
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("sessionstore: marshal customer cache: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()
	if err := s.client.Set(ctx, customerKey(phone), data, customerTTL).Err(); err != nil {
		slog.Warn("sessionstore: cache_customer failed", "phone", maskPhone(phone), "error", err)
		return err
	}
	return nil
}

// GetCachedCustomer returns the cached snapshot for phone, or (nil, nil) on
// a miss.
func (s *Store) GetCachedCustomer(ctx context.Context, phone string) (*CustomerCacheRecord, error) {
	if s == nil || !s.initialized {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	data, err := s.client.Get(ctx, customerKey(phone)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		slog.Warn("sessionstore: get_cached_customer failed", "phone", maskPhone(phone), "error", err)
		return nil, nil
	}
	var rec CustomerCacheRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("sessionstore: unmarshal customer cache: %w", err)
	}
	return &rec, nil
}

// InvalidateCustomerCache removes phone's cached snapshot. Called after
// every tool write that changes a customer's snapshot: book_appointment,
// cancel_appointment, reschedule_appointment and create_vehicle.
func (s *Store) InvalidateCustomerCache(ctx context.Context, phone string) error {
	if s == nil || !s.initialized {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()
	return s.client.Del(ctx, customerKey(phone)).Err()
}

// VINDecodeCacheRecord is a cached VIN-decode response, kept for 7 days.
type VINDecodeCacheRecord struct {
	VIN       string          `json:"vin"`
	Decoded   json.RawMessage `json:"decoded"`
	CachedAt  time.Time       `json:"cached_at"`
}

// CacheVINDecode stores a successful VIN decode result for 7 days.
func (s *Store) CacheVINDecode(ctx context.Context, vin string, rec *VINDecodeCacheRecord) error {
	if s == nil || !s.initialized {
		return nil
	}
	rec.CachedAt = time.Now().UTC()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("sessionstore: marshal vin cache: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()
	if err := s.client.Set(ctx, vinKey(vin), data, vinTTL).Err(); err != nil {
		slog.Warn("sessionstore: cache_vin_decode failed", "vin", vin, "error", err)
		return err
	}
	return nil
}

// GetCachedVINDecode returns the cached decode for vin, or (nil, nil) on a
// miss.
func (s *Store) GetCachedVINDecode(ctx context.Context, vin string) (*VINDecodeCacheRecord, error) {
	if s == nil || !s.initialized {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	data, err := s.client.Get(ctx, vinKey(vin)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		slog.Warn("sessionstore: get_cached_vin_decode failed", "vin", vin, "error", err)
		return nil, nil
	}
	var rec VINDecodeCacheRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("sessionstore: unmarshal vin cache: %w", err)
	}
	return &rec, nil
}

// maskPhone redacts all but the last two digits of a phone number for logs.
func maskPhone(phone string) string {
	if len(phone) < 2 {
		return "**"
	}
	masked := make([]byte, len(phone)-2)
	for i := range masked {
		masked[i] = '*'
	}
	return string(masked) + phone[len(phone)-2:]
}
