package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/auxmon/authcore/kv"
)

// Lua keeps consume atomic: read, check status, and rewrite happen in a
// single Redis turn, so concurrent rotations of the same token resolve
// to exactly one winner. Return codes: 0 missing, 1 already revoked,
// 2 consumed (with the updated record).
const consumeScript = `
local data = redis.call('GET', KEYS[1])
if not data then
  return {0}
end
local rec = cjson.decode(data)
if rec.revoked then
  return {1}
end
rec.revoked = true
rec.revoked_at = ARGV[1]
if ARGV[2] ~= '' then
  rec.replaced_by = ARGV[2]
end
local updated = cjson.encode(rec)
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
  redis.call('SET', KEYS[1], updated, 'PX', ttl)
else
  redis.call('SET', KEYS[1], updated)
end
return {2, updated}
`

// revokeFamilyScript marks every record in the family set revoked.
// Record keys are derived from the prefix in ARGV, the same way the
// session scripts build user keys.
const revokeFamilyScript = `
local ids = redis.call('SMEMBERS', KEYS[1])
local revoked = 0
for _, id in ipairs(ids) do
  local key = ARGV[2] .. id
  local data = redis.call('GET', key)
  if data then
    local rec = cjson.decode(data)
    if not rec.revoked then
      rec.revoked = true
      rec.revoked_at = ARGV[1]
      local updated = cjson.encode(rec)
      local ttl = redis.call('PTTL', key)
      if ttl > 0 then
        redis.call('SET', key, updated, 'PX', ttl)
      else
        redis.call('SET', key, updated)
      end
      revoked = revoked + 1
    end
  end
end
return revoked
`

var (
	consumeLua      = redis.NewScript(consumeScript)
	revokeFamilyLua = redis.NewScript(revokeFamilyScript)
)

// RedisStore is the durable TokenStore for multi-node deployments.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a token store on the given client. prefix
// namespaces every key; empty means "rt:".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "rt:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) recordKey(id string) string   { return s.prefix + id }
func (s *RedisStore) familyKey(fam string) string  { return s.prefix + "fam:" + fam }
func (s *RedisStore) userKey(userID string) string { return s.prefix + "usr:" + userID }

func (s *RedisStore) Save(ctx context.Context, rec *Record, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(rec.ID), data, ttl)
		pipe.SAdd(ctx, s.familyKey(rec.Family), rec.ID)
		pipe.Expire(ctx, s.familyKey(rec.Family), ttl)
		pipe.SAdd(ctx, s.userKey(rec.UserID), rec.Family)
		pipe.Expire(ctx, s.userKey(rec.UserID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", kv.ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	data, err := s.client.Get(ctx, s.recordKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", kv.ErrUnavailable, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode refresh record %s: %w", id, err)
	}
	return &rec, nil
}

func (s *RedisStore) Consume(ctx context.Context, id, replacedBy string, at time.Time) (*Record, error) {
	res, err := consumeLua.Run(ctx, s.client,
		[]string{s.recordKey(id)},
		at.UTC().Format(time.RFC3339Nano), replacedBy,
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kv.ErrUnavailable, err)
	}
	if len(res) == 0 {
		return nil, ErrNotFound
	}
	code, _ := res[0].(int64)
	switch code {
	case 0:
		return nil, ErrNotFound
	case 1:
		return nil, ErrRevoked
	}
	raw, _ := res[1].(string)
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode refresh record %s: %w", id, err)
	}
	return &rec, nil
}

func (s *RedisStore) RevokeFamily(ctx context.Context, family string, at time.Time) (int, error) {
	res, err := revokeFamilyLua.Run(ctx, s.client,
		[]string{s.familyKey(family)},
		at.UTC().Format(time.RFC3339Nano), s.prefix,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", kv.ErrUnavailable, err)
	}
	return res, nil
}

func (s *RedisStore) RevokeUser(ctx context.Context, userID string, at time.Time) (int, error) {
	families, err := s.client.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", kv.ErrUnavailable, err)
	}
	revoked := 0
	for _, family := range families {
		n, err := s.RevokeFamily(ctx, family, at)
		if err != nil {
			return revoked, err
		}
		revoked += n
	}
	return revoked, nil
}

func (s *RedisStore) FamilyRecords(ctx context.Context, family string) ([]*Record, error) {
	ids, err := s.client.SMembers(ctx, s.familyKey(family)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kv.ErrUnavailable, err)
	}
	records := make([]*Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
