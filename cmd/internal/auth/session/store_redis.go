package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Each transition is a single script so the conditional update is atomic on
// the Redis side. The family script touches record keys derived from the
// user index, so all keys of a deployment must live on one node.

const insertRecordScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
local fields = {}
for i = 3, #ARGV do
  fields[#fields + 1] = ARGV[i]
end
redis.call("HSET", KEYS[1], unpack(fields))
redis.call("PEXPIRE", KEYS[1], ARGV[2])
redis.call("SADD", KEYS[2], ARGV[1])
if redis.call("PTTL", KEYS[2]) < tonumber(ARGV[2]) then
  redis.call("PEXPIRE", KEYS[2], ARGV[2])
end
return 1
`

const revokeIfActiveScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if redis.call("HEXISTS", KEYS[1], "revoked_at") == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "revoked_at", ARGV[1], "reason", ARGV[2])
return 1
`

const rotateScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if redis.call("HEXISTS", KEYS[1], "revoked_at") == 1 then
  return 0
end
if redis.call("EXISTS", KEYS[2]) == 1 then
  return -2
end
local fields = {}
for i = 4, #ARGV do
  fields[#fields + 1] = ARGV[i]
end
redis.call("HSET", KEYS[2], unpack(fields))
redis.call("PEXPIRE", KEYS[2], ARGV[3])
redis.call("SADD", KEYS[3], ARGV[2])
if redis.call("PTTL", KEYS[3]) < tonumber(ARGV[3]) then
  redis.call("PEXPIRE", KEYS[3], ARGV[3])
end
redis.call("HSET", KEYS[1], "revoked_at", ARGV[1], "reason", "rotated", "replaced_by", ARGV[2])
return 1
`

const revokeAllForUserScript = `
local ids = redis.call("SMEMBERS", KEYS[1])
local n = 0
for _, id in ipairs(ids) do
  local k = ARGV[3] .. id
  if redis.call("EXISTS", k) == 0 then
    redis.call("SREM", KEYS[1], id)
  elseif redis.call("HEXISTS", k, "revoked_at") == 0 then
    redis.call("HSET", k, "revoked_at", ARGV[1], "reason", ARGV[2])
    n = n + 1
  end
end
return n
`

var (
	insertRecordLua     = redis.NewScript(insertRecordScript)
	revokeIfActiveLua   = redis.NewScript(revokeIfActiveScript)
	rotateLua           = redis.NewScript(rotateScript)
	revokeAllForUserLua = redis.NewScript(revokeAllForUserScript)
)

// RedisStore keeps records as hashes under <prefix>:rec:<id> and indexes
// them per user under <prefix>:user:<userID>. Keys expire at the chain's
// absolute deadline, which is the passive reclamation of the record.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "sf:sess"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) recPrefix() string { return s.prefix + ":rec:" }

func (s *RedisStore) recKey(id string) string { return s.recPrefix() + id }

func (s *RedisStore) userKey(userID string) string { return s.prefix + ":user:" + userID }

func (s *RedisStore) Insert(ctx context.Context, rec Record) error {
	args := append([]any{rec.ID, ttlMillis(rec, rec.CreatedAt)}, encodeRecord(rec)...)
	res, err := insertRecordLua.Run(ctx, s.redis, []string{s.recKey(rec.ID), s.userKey(rec.UserID)}, args...).Int64()
	if err != nil {
		return unavailable("insert", err)
	}
	if res == 0 {
		return fmt.Errorf("session: duplicate id %s", rec.ID)
	}
	return nil
}

func (s *RedisStore) FindByID(ctx context.Context, id string) (Record, error) {
	m, err := s.redis.HGetAll(ctx, s.recKey(id)).Result()
	if err != nil {
		return Record{}, unavailable("find", err)
	}
	if len(m) == 0 {
		return Record{}, ErrTokenNotFound
	}
	rec, err := decodeRecord(id, m)
	if err != nil {
		return Record{}, fmt.Errorf("session: corrupt record %s: %w", id, err)
	}
	return rec, nil
}

func (s *RedisStore) RevokeIfActive(ctx context.Context, id string, now time.Time, reason RevocationReason) (bool, error) {
	res, err := revokeIfActiveLua.Run(ctx, s.redis, []string{s.recKey(id)}, now.UnixMilli(), string(reason)).Int64()
	if err != nil {
		return false, unavailable("revoke", err)
	}
	switch res {
	case -1:
		return false, ErrTokenNotFound
	case 1:
		return true, nil
	default:
		return false, nil
	}
}

func (s *RedisStore) Rotate(ctx context.Context, oldID string, next Record, now time.Time) error {
	keys := []string{s.recKey(oldID), s.recKey(next.ID), s.userKey(next.UserID)}
	args := append([]any{now.UnixMilli(), next.ID, ttlMillis(next, now)}, encodeRecord(next)...)

	res, err := rotateLua.Run(ctx, s.redis, keys, args...).Int64()
	if err != nil {
		return unavailable("rotate", err)
	}
	switch res {
	case 1:
		return nil
	case 0:
		return ErrRotationConflict
	case -1:
		return ErrTokenNotFound
	default:
		return fmt.Errorf("session: duplicate id %s", next.ID)
	}
}

func (s *RedisStore) RevokeAllActiveForUser(ctx context.Context, userID string, now time.Time, reason RevocationReason) (int, error) {
	n, err := revokeAllForUserLua.Run(ctx, s.redis, []string{s.userKey(userID)}, now.UnixMilli(), string(reason), s.recPrefix()).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, unavailable("revoke_all", err)
	}
	return int(n), nil
}

// ttlMillis keeps a record until its chain's absolute deadline, so a rotated
// record stays visible to reuse detection for the life of the chain.
func ttlMillis(rec Record, now time.Time) int64 {
	ms := rec.SessionExpiresAt.Sub(now).Milliseconds()
	if rec.ExpiresAt.After(rec.SessionExpiresAt) {
		ms = rec.ExpiresAt.Sub(now).Milliseconds()
	}
	if ms < 1 {
		ms = 1
	}
	return ms
}

func encodeRecord(rec Record) []any {
	out := []any{
		"user_id", rec.UserID,
		"family_id", rec.FamilyID,
		"secret_hash", rec.SecretHash,
		"created_at", rec.CreatedAt.UnixMilli(),
		"expires_at", rec.ExpiresAt.UnixMilli(),
		"session_expires_at", rec.SessionExpiresAt.UnixMilli(),
	}
	if rec.Meta.IP != "" {
		out = append(out, "ip", rec.Meta.IP)
	}
	if rec.Meta.UserAgent != "" {
		out = append(out, "user_agent", rec.Meta.UserAgent)
	}
	if rec.Meta.DeviceID != "" {
		out = append(out, "device_id", rec.Meta.DeviceID)
	}
	return out
}

func decodeRecord(id string, m map[string]string) (Record, error) {
	rec := Record{
		ID:         id,
		UserID:     m["user_id"],
		FamilyID:   m["family_id"],
		SecretHash: m["secret_hash"],
		Meta: Meta{
			IP:        m["ip"],
			UserAgent: m["user_agent"],
			DeviceID:  m["device_id"],
		},
	}
	if rec.UserID == "" || rec.SecretHash == "" {
		return Record{}, errors.New("missing fields")
	}

	var err error
	if rec.CreatedAt, err = parseMillis(m["created_at"]); err != nil {
		return Record{}, err
	}
	if rec.ExpiresAt, err = parseMillis(m["expires_at"]); err != nil {
		return Record{}, err
	}
	if rec.SessionExpiresAt, err = parseMillis(m["session_expires_at"]); err != nil {
		return Record{}, err
	}
	if v, ok := m["revoked_at"]; ok {
		t, err := parseMillis(v)
		if err != nil {
			return Record{}, err
		}
		rec.RevokedAt = &t
		rec.RevocationReason = RevocationReason(m["reason"])
	}
	if v, ok := m["replaced_by"]; ok && v != "" {
		rec.ReplacedByID = &v
	}
	return rec, nil
}

func parseMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q", s)
	}
	return time.UnixMilli(ms).UTC(), nil
}
