package auth

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	mfaChallengeKeyPrefix = "mc"
	mfaChallengeVersion1  = 1
)

// mfaChallenge is a paused login waiting for its second factor. It holds
// no tokens; only the account it will issue tokens for once a code
// verifies, plus the failure count toward the attempt budget.
type mfaChallenge struct {
	AccountID string
	ExpiresAt int64
	Attempts  uint16
}

type mfaChallengeStore struct {
	redis redis.UniversalClient
}

func newMFAChallengeStore(redisClient redis.UniversalClient) *mfaChallengeStore {
	return &mfaChallengeStore{redis: redisClient}
}

func (s *mfaChallengeStore) key(challengeID string) string {
	return mfaChallengeKeyPrefix + ":" + challengeID
}

func (s *mfaChallengeStore) Save(ctx context.Context, challengeID string, record *mfaChallenge, ttl time.Duration) error {
	encoded, err := encodeMFAChallenge(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(challengeID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *mfaChallengeStore) Get(ctx context.Context, challengeID string) (*mfaChallenge, error) {
	data, err := s.redis.Get(ctx, s.key(challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMFAChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	record, err := decodeMFAChallenge(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(challengeID)).Result()
		return nil, ErrMFAChallengeExpired
	}
	return record, nil
}

// Delete removes the challenge and reports whether it still existed. The
// boolean is the replay guard: two concurrent confirmations race on the
// DEL and only one observes true.
func (s *mfaChallengeStore) Delete(ctx context.Context, challengeID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(challengeID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

// RecordFailure increments the attempt counter under WATCH so concurrent
// failures cannot undercount. Returns true when the budget is exhausted,
// in which case the challenge is destroyed.
func (s *mfaChallengeStore) RecordFailure(ctx context.Context, challengeID string, maxAttempts int) (bool, error) {
	const maxRetries = 4
	key := s.key(challengeID)

	for i := 0; i < maxRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeMFAChallenge(data)
			if err != nil {
				return err
			}
			ttl := time.Until(time.Unix(record.ExpiresAt, 0))
			if ttl <= 0 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrMFAChallengeExpired
			}

			record.Attempts++
			if int(record.Attempts) >= maxAttempts {
				exceeded = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			updated, err := encodeMFAChallenge(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, ErrMFAChallengeNotFound
			}
			if errors.Is(err, ErrMFAChallengeExpired) {
				return false, err
			}
			return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return exceeded, nil
	}

	return false, ErrMFAChallengeNotFound
}

func encodeMFAChallenge(record *mfaChallenge) ([]byte, error) {
	if len(record.AccountID) > 65535 {
		return nil, errors.New("mfa challenge account id too long")
	}

	var buf bytes.Buffer
	buf.WriteByte(mfaChallengeVersion1)
	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.AccountID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.AccountID)
	return buf.Bytes(), nil
}

func decodeMFAChallenge(data []byte) (*mfaChallenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != mfaChallengeVersion1 {
		return nil, errors.New("invalid mfa challenge version")
	}

	record := &mfaChallenge{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var accLen uint16
	if err := binary.Read(reader, binary.BigEndian, &accLen); err != nil {
		return nil, err
	}
	acc := make([]byte, accLen)
	if _, err := io.ReadFull(reader, acc); err != nil {
		return nil, err
	}
	record.AccountID = string(acc)

	return record, nil
}
