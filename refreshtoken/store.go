package refreshtoken

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sentinel errors for row disposition. Callers that must not leak state
// detail collapse these before anything crosses a trust boundary.
var (
	ErrNotFound = errors.New("refreshtoken: not found")
	ErrExpired  = errors.New("refreshtoken: expired")
	ErrRevoked  = errors.New("refreshtoken: revoked")
)

// Rotation statuses returned by the rotate script.
const (
	rotateNotFound = 0
	rotateExpired  = 1
	rotateRevoked  = 2
	rotateOK       = 3
)

// Store keeps token rows as Redis hashes plus two secondary index sets, one
// per family and one per user. Row keys carry a TTL of expiry plus the
// retention window so revoked rows stay visible to reuse detection before
// Redis reclaims them.
type Store struct {
	rdb       redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewStore wires a store against rdb. prefix namespaces every key; retention
// is how long rows outlive their expiry for forensics and reuse detection.
func NewStore(rdb redis.UniversalClient, prefix string, retention time.Duration) *Store {
	if prefix == "" {
		prefix = "art"
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Store{rdb: rdb, prefix: prefix, retention: retention}
}

func (s *Store) tokenKey(hash string) string  { return s.prefix + ":t:" + hash }
func (s *Store) familyKey(fam string) string  { return s.prefix + ":f:" + fam }
func (s *Store) userKey(userID string) string { return s.prefix + ":u:" + userID }

// rotateScript atomically retires the presented row and writes its
// successor. Running inside Redis means concurrent rotations of the same
// token serialize: the first caller sees status 3, every later caller sees
// status 2 and triggers family revocation upstream.
//
// KEYS: 1 old row, 2 new row, 3 family set, 4 user set
// ARGV: 1 now(ms), 2 row ttl(ms), 3 new id, 4 user id, 5 family,
//
//	6 new expiry(ms), 7 device, 8 ip, 9 new hash
//
// Returns {status, generation|family}.
var rotateScript = redis.NewScript(`
local row = redis.call("HMGET", KEYS[1], "expires_at", "revoked", "gen", "family")
if not row[1] then
  return {0}
end
if row[2] == "1" then
  return {2, row[4] or ""}
end
if tonumber(row[1]) <= tonumber(ARGV[1]) then
  return {1}
end
local gen = tonumber(row[3] or "0") + 1
redis.call("HSET", KEYS[1],
  "revoked", "1",
  "revoked_at", ARGV[1],
  "reason", "rotation")
redis.call("PEXPIRE", KEYS[1], ARGV[2])
redis.call("HSET", KEYS[2],
  "id", ARGV[3],
  "user_id", ARGV[4],
  "family", ARGV[5],
  "gen", tostring(gen),
  "issued_at", ARGV[1],
  "expires_at", ARGV[6],
  "revoked", "0",
  "device", ARGV[7],
  "ip", ARGV[8])
redis.call("PEXPIRE", KEYS[2], ARGV[2])
redis.call("SADD", KEYS[3], ARGV[9])
redis.call("SADD", KEYS[4], ARGV[9])
redis.call("PEXPIRE", KEYS[3], ARGV[2])
redis.call("PEXPIRE", KEYS[4], ARGV[2])
return {3, gen}
`)

// revokeSetScript marks every live row referenced by an index set as
// revoked. KEYS: 1 index set. ARGV: 1 now(ms), 2 reason, 3 token key prefix.
// Returns the number of rows newly revoked.
var revokeSetScript = redis.NewScript(`
local members = redis.call("SMEMBERS", KEYS[1])
local n = 0
for _, hash in ipairs(members) do
  local key = ARGV[3] .. hash
  if redis.call("EXISTS", key) == 1 and redis.call("HGET", key, "revoked") ~= "1" then
    redis.call("HSET", key,
      "revoked", "1",
      "revoked_at", ARGV[1],
      "reason", ARGV[2])
    n = n + 1
  end
end
return n
`)

// revokeOneScript revokes a single live row. KEYS: 1 row.
// ARGV: 1 now(ms), 2 reason. Returns 1 when the row transitioned.
var revokeOneScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if redis.call("HGET", KEYS[1], "revoked") == "1" then
  return 0
end
redis.call("HSET", KEYS[1],
  "revoked", "1",
  "revoked_at", ARGV[1],
  "reason", ARGV[2])
return 1
`)

// Save persists a freshly issued row and registers it in both indexes.
func (s *Store) Save(ctx context.Context, t *Token) error {
	if t.TokenHash == "" || t.UserID == "" || t.Family == "" {
		return fmt.Errorf("refreshtoken: incomplete row")
	}
	ttl := time.Until(t.ExpiresAt) + s.retention
	if ttl <= 0 {
		return fmt.Errorf("refreshtoken: row already expired")
	}
	key := s.tokenKey(t.TokenHash)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"id", t.ID,
			"user_id", t.UserID,
			"family", t.Family,
			"gen", strconv.FormatInt(t.Generation, 10),
			"issued_at", strconv.FormatInt(t.IssuedAt.UnixMilli(), 10),
			"expires_at", strconv.FormatInt(t.ExpiresAt.UnixMilli(), 10),
			"revoked", "0",
			"device", t.DeviceInfo,
			"ip", t.IPAddress,
		)
		pipe.PExpire(ctx, key, ttl)
		pipe.SAdd(ctx, s.familyKey(t.Family), t.TokenHash)
		pipe.PExpire(ctx, s.familyKey(t.Family), ttl)
		pipe.SAdd(ctx, s.userKey(t.UserID), t.TokenHash)
		pipe.PExpire(ctx, s.userKey(t.UserID), ttl)
		return nil
	})
	return err
}

// Get loads a row by token hash regardless of its state.
func (s *Store) Get(ctx context.Context, hash string) (*Token, error) {
	fields, err := s.rdb.HGetAll(ctx, s.tokenKey(hash)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeRow(hash, fields)
}

// Validate loads a row and reports its disposition: a nil error means the
// row is active right now.
func (s *Store) Validate(ctx context.Context, hash string, now time.Time) (*Token, error) {
	t, err := s.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	if t.Revoked {
		return t, ErrRevoked
	}
	if !t.ExpiresAt.After(now) {
		return t, ErrExpired
	}
	return t, nil
}

// RotateResult carries the outcome of a rotation attempt.
type RotateResult struct {
	// Generation of the successor row, set when Err is nil.
	Generation int64
	// Family of the presented row, set when Err is ErrRevoked so the
	// caller can revoke the whole lineage.
	Family string
}

// Rotate retires the row identified by oldHash and writes next in its
// place, atomically. next.Generation is assigned by the store. ErrRevoked
// means the presented token was already spent: treat it as credential
// reuse.
func (s *Store) Rotate(ctx context.Context, oldHash string, next *Token, now time.Time) (RotateResult, error) {
	ttl := time.Until(next.ExpiresAt) + s.retention
	if ttl <= 0 {
		return RotateResult{}, fmt.Errorf("refreshtoken: successor already expired")
	}
	keys := []string{
		s.tokenKey(oldHash),
		s.tokenKey(next.TokenHash),
		s.familyKey(next.Family),
		s.userKey(next.UserID),
	}
	raw, err := rotateScript.Run(ctx, s.rdb, keys,
		now.UnixMilli(),
		ttl.Milliseconds(),
		next.ID,
		next.UserID,
		next.Family,
		next.ExpiresAt.UnixMilli(),
		next.DeviceInfo,
		next.IPAddress,
		next.TokenHash,
	).Result()
	if err != nil {
		return RotateResult{}, err
	}
	reply, ok := raw.([]interface{})
	if !ok || len(reply) == 0 {
		return RotateResult{}, fmt.Errorf("refreshtoken: unexpected rotate reply %T", raw)
	}
	status, _ := reply[0].(int64)
	switch status {
	case rotateOK:
		gen, _ := reply[1].(int64)
		next.Generation = gen
		return RotateResult{Generation: gen}, nil
	case rotateRevoked:
		fam, _ := reply[1].(string)
		return RotateResult{Family: fam}, ErrRevoked
	case rotateExpired:
		return RotateResult{}, ErrExpired
	case rotateNotFound:
		return RotateResult{}, ErrNotFound
	default:
		return RotateResult{}, fmt.Errorf("refreshtoken: unknown rotate status %d", status)
	}
}

// Revoke marks a single row revoked. Revoking an already revoked or missing
// row is not an error.
func (s *Store) Revoke(ctx context.Context, hash string, reason RevokeReason, now time.Time) error {
	return revokeOneScript.Run(ctx, s.rdb,
		[]string{s.tokenKey(hash)},
		now.UnixMilli(), reason.String(),
	).Err()
}

// RevokeFamily revokes every live row in a rotation family and returns how
// many transitioned.
func (s *Store) RevokeFamily(ctx context.Context, family string, reason RevokeReason, now time.Time) (int64, error) {
	return s.revokeSet(ctx, s.familyKey(family), reason, now)
}

// RevokeAllForUser revokes every live row belonging to a user across all
// families.
func (s *Store) RevokeAllForUser(ctx context.Context, userID string, reason RevokeReason, now time.Time) (int64, error) {
	return s.revokeSet(ctx, s.userKey(userID), reason, now)
}

func (s *Store) revokeSet(ctx context.Context, setKey string, reason RevokeReason, now time.Time) (int64, error) {
	raw, err := revokeSetScript.Run(ctx, s.rdb,
		[]string{setKey},
		now.UnixMilli(), reason.String(), s.prefix+":t:",
	).Result()
	if err != nil {
		return 0, err
	}
	n, _ := raw.(int64)
	return n, nil
}

// ListForUser returns every retained row for a user, newest first by issue
// time. The engine feeds these into risk scoring.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]*Token, error) {
	hashes, err := s.rdb.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Token, 0, len(hashes))
	for _, h := range hashes {
		t, err := s.Get(ctx, h)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

// CountActiveForUser counts non-revoked, non-expired rows for a user.
func (s *Store) CountActiveForUser(ctx context.Context, userID string, now time.Time) (int, error) {
	rows, err := s.ListForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range rows {
		if t.Active(now) {
			n++
		}
	}
	return n, nil
}

// Sweep walks the secondary index sets and drops members whose row key has
// already been reclaimed by Redis. Row hashes expire on their own; the sets
// only shrink here. Returns the number of stale members removed.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	var removed int64
	for _, pattern := range []string{s.prefix + ":f:*", s.prefix + ":u:*"} {
		iter := s.rdb.Scan(ctx, 0, pattern, 128).Iterator()
		for iter.Next(ctx) {
			setKey := iter.Val()
			members, err := s.rdb.SMembers(ctx, setKey).Result()
			if err != nil {
				return removed, err
			}
			for _, h := range members {
				exists, err := s.rdb.Exists(ctx, s.tokenKey(h)).Result()
				if err != nil {
					return removed, err
				}
				if exists == 0 {
					n, err := s.rdb.SRem(ctx, setKey, h).Result()
					if err != nil {
						return removed, err
					}
					removed += n
				}
			}
		}
		if err := iter.Err(); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func decodeRow(hash string, fields map[string]string) (*Token, error) {
	t := &Token{
		ID:         fields["id"],
		UserID:     fields["user_id"],
		TokenHash:  hash,
		Family:     fields["family"],
		DeviceInfo: fields["device"],
		IPAddress:  fields["ip"],
	}
	var err error
	if t.Generation, err = strconv.ParseInt(fields["gen"], 10, 64); err != nil {
		return nil, fmt.Errorf("refreshtoken: corrupt row %q: gen: %w", hash, err)
	}
	issued, err := strconv.ParseInt(fields["issued_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("refreshtoken: corrupt row %q: issued_at: %w", hash, err)
	}
	t.IssuedAt = time.UnixMilli(issued)
	expires, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("refreshtoken: corrupt row %q: expires_at: %w", hash, err)
	}
	t.ExpiresAt = time.UnixMilli(expires)
	t.Revoked = fields["revoked"] == "1"
	if t.Revoked {
		if at, err := strconv.ParseInt(fields["revoked_at"], 10, 64); err == nil {
			t.RevokedAt = time.UnixMilli(at)
		}
		reason, ok := parseRevokeReason(fields["reason"])
		if !ok {
			return nil, fmt.Errorf("refreshtoken: corrupt row %q: reason %q", hash, fields["reason"])
		}
		t.RevokedReason = reason
	}
	return t, nil
}
