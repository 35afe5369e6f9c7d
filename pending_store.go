package authkeep

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

/*
====================================
PENDING TOKEN STORE
====================================
*/

// Redis key prefixes for the two pending-token flows. One record per user
// per flow: issuing a new token overwrites the previous one, so at most one
// verification link and one reset link are live at a time.
const (
	verificationKeyPrefix = "apv:"
	resetKeyPrefix        = "apr:"
)

var (
	errPendingNotFound = errors.New("pending token not found")
	errPendingExpired  = errors.New("pending token expired")
	errPendingMismatch = errors.New("pending token mismatch")
	errPendingAttempts = errors.New("pending token attempt limit reached")
)

// pendingRecord is the stored side of an issued verification or reset
// token. Only the SHA-256 of the raw token is kept.
type pendingRecord struct {
	TokenHash [32]byte
	IssuedAt  int64
	ExpiresAt int64
	Attempts  uint8
}

const (
	pendingRecordVersion = 1
	pendingRecordSize    = 1 + 32 + 8 + 8 + 1
)

func (r *pendingRecord) encode() []byte {
	buf := make([]byte, pendingRecordSize)
	buf[0] = pendingRecordVersion
	copy(buf[1:33], r.TokenHash[:])
	binary.BigEndian.PutUint64(buf[33:41], uint64(r.IssuedAt))
	binary.BigEndian.PutUint64(buf[41:49], uint64(r.ExpiresAt))
	buf[49] = r.Attempts
	return buf
}

func decodePendingRecord(data []byte) (*pendingRecord, error) {
	if len(data) != pendingRecordSize || data[0] != pendingRecordVersion {
		return nil, fmt.Errorf("corrupt pending record (%d bytes)", len(data))
	}
	r := &pendingRecord{
		IssuedAt:  int64(binary.BigEndian.Uint64(data[33:41])),
		ExpiresAt: int64(binary.BigEndian.Uint64(data[41:49])),
		Attempts:  data[49],
	}
	copy(r.TokenHash[:], data[1:33])
	return r, nil
}

// pendingStore keeps one single-use token record per user under a fixed key
// prefix. Consume runs under WATCH so two holders of the same link cannot
// both redeem it.
type pendingStore struct {
	rdb         redis.UniversalClient
	prefix      string
	maxAttempts uint8
}

func newPendingStore(rdb redis.UniversalClient, prefix string, maxAttempts int) *pendingStore {
	if maxAttempts < 1 || maxAttempts > 255 {
		maxAttempts = 5
	}
	return &pendingStore{rdb: rdb, prefix: prefix, maxAttempts: uint8(maxAttempts)}
}

func (s *pendingStore) key(userID string) string {
	return s.prefix + userID
}

// Put records a newly issued raw token for the user, replacing any previous
// pending record.
func (s *pendingStore) Put(ctx context.Context, userID, rawToken string, ttl time.Duration) error {
	now := time.Now()
	rec := pendingRecord{
		TokenHash: sha256.Sum256([]byte(rawToken)),
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	return s.rdb.Set(ctx, s.key(userID), rec.encode(), ttl).Err()
}

// Drop discards any pending record for the user.
func (s *pendingStore) Drop(ctx context.Context, userID string) error {
	return s.rdb.Del(ctx, s.key(userID)).Err()
}

// Consume redeems rawToken for the user. On match the record is deleted in
// the same transaction, so the token is spent exactly once. On mismatch the
// attempt counter advances; past the cap the record is destroyed.
func (s *pendingStore) Consume(ctx context.Context, userID, rawToken string) error {
	key := s.key(userID)
	presented := sha256.Sum256([]byte(rawToken))

	// Retry bound covers WATCH conflicts from concurrent redemption
	// attempts, not general errors.
	for attempt := 0; attempt < 8; attempt++ {
		var outcome error
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				outcome = errPendingNotFound
				return nil
			}
			if err != nil {
				return err
			}
			rec, err := decodePendingRecord(data)
			if err != nil {
				return err
			}

			now := time.Now().Unix()
			if now > rec.ExpiresAt {
				outcome = errPendingExpired
				_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			if subtle.ConstantTimeCompare(presented[:], rec.TokenHash[:]) != 1 {
				rec.Attempts++
				if rec.Attempts >= s.maxAttempts {
					outcome = errPendingAttempts
					_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
						pipe.Del(ctx, key)
						return nil
					})
					return err
				}
				outcome = errPendingMismatch
				remaining := time.Until(time.Unix(rec.ExpiresAt, 0))
				_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, rec.encode(), remaining)
					return nil
				})
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return err
		}
		return outcome
	}
	return errPendingMismatch
}
