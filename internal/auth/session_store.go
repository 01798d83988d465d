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

// errRefreshHashMismatch signals a rotated-token replay. The session is
// already destroyed by the time this surfaces.
var errRefreshHashMismatch = errors.New("refresh hash mismatch")

// session is one outstanding refresh grant. The blob layout is
//
//	version(1) accLen(1) accountID roleLen(1) role createdAt(8) expiresAt(8) refreshHash(32)
//
// with the hash last so the rotation script can splice it at a fixed
// offset from the end without parsing variable-length fields.
type session struct {
	ID          string
	AccountID   string
	Role        string
	RefreshHash [32]byte
	CreatedAt   int64
	ExpiresAt   int64
}

const sessionBlobVersion = 1

func encodeSession(s *session) ([]byte, error) {
	if len(s.AccountID) > 255 {
		return nil, errors.New("account id too long")
	}
	if len(s.Role) > 255 {
		return nil, errors.New("role too long")
	}

	var buf bytes.Buffer
	buf.WriteByte(sessionBlobVersion)
	buf.WriteByte(byte(len(s.AccountID)))
	buf.WriteString(s.AccountID)
	buf.WriteByte(byte(len(s.Role)))
	buf.WriteString(s.Role)
	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}
	buf.Write(s.RefreshHash[:])
	return buf.Bytes(), nil
}

func decodeSession(data []byte) (*session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionBlobVersion {
		return nil, errors.New("invalid session version")
	}

	s := &session{}

	accLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	acc := make([]byte, accLen)
	if _, err := io.ReadFull(reader, acc); err != nil {
		return nil, err
	}
	s.AccountID = string(acc)

	roleLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	role := make([]byte, roleLen)
	if _, err := io.ReadFull(reader, role); err != nil {
		return nil, err
	}
	s.Role = string(role)

	if err := binary.Read(reader, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, s.RefreshHash[:]); err != nil {
		return nil, err
	}
	return s, nil
}

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusMismatch int64 = 2
	rotateStatusRotated  int64 = 3
	rotateStatusCorrupt  int64 = 4
)

// rotateRefreshScript compares the stored refresh hash with the presented
// one and swaps in the next hash, all inside Redis. Any mismatch or expiry
// destroys the session and its index entry in the same call, so a stolen
// pre-rotation token cannot race a legitimate refresh.
const rotateRefreshScript = `
local function read_be64(s, i)
  local v = 0
  for k = 0, 7 do
    local b = string.byte(s, i + k)
    if not b then return nil end
    v = v * 256 + b
  end
  return v
end

local session_key = KEYS[1]
local index_prefix = ARGV[1]
local session_id = ARGV[2]
local provided_hash = ARGV[3]
local next_hash = ARGV[4]
local now_unix = tonumber(ARGV[5])

local data = redis.call("GET", session_key)
if not data then
  return {0}
end

local n = #data
if n < 52 or string.byte(data, 1) ~= 1 then
  return {4}
end

local acc_len = string.byte(data, 2)
if not acc_len or n < 2 + acc_len then
  return {4}
end
local account_id = string.sub(data, 3, 2 + acc_len)
local index_key = index_prefix .. account_id

local expires_at = read_be64(data, n - 39)
if not expires_at then
  return {4}
end
if expires_at <= now_unix then
  redis.call("DEL", session_key)
  redis.call("SREM", index_key, session_id)
  return {1}
end

local stored_hash = string.sub(data, n - 31, n)
if stored_hash ~= provided_hash then
  redis.call("DEL", session_key)
  redis.call("SREM", index_key, session_id)
  return {2}
end

local ttl = redis.call("PTTL", session_key)
if ttl <= 0 then
  redis.call("DEL", session_key)
  redis.call("SREM", index_key, session_id)
  return {1}
end

local updated = string.sub(data, 1, n - 32) .. next_hash
redis.call("SET", session_key, updated, "PX", ttl)
return {3, updated}
`

var rotateRefreshLua = redis.NewScript(rotateRefreshScript)

const deleteSessionScript = `
redis.call("SREM", KEYS[2], ARGV[1])
return redis.call("DEL", KEYS[1])
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// sessionStore persists refresh sessions in Redis, indexed per account so
// enable/disable of two-factor can revoke everything at once.
type sessionStore struct {
	redis  redis.UniversalClient
	prefix string
}

func newSessionStore(redisClient redis.UniversalClient, prefix string) *sessionStore {
	return &sessionStore{redis: redisClient, prefix: prefix}
}

func (s *sessionStore) key(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *sessionStore) indexKey(accountID string) string {
	return s.prefix + ":a:" + accountID
}

func (s *sessionStore) indexPrefix() string {
	return s.prefix + ":a:"
}

func (s *sessionStore) Save(ctx context.Context, sess *session, ttl time.Duration) error {
	data, err := encodeSession(sess)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.ID), data, ttl)
		pipe.SAdd(ctx, s.indexKey(sess.AccountID), sess.ID)
		pipe.Expire(ctx, s.indexKey(sess.AccountID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *sessionStore) Get(ctx context.Context, sessionID string) (*session, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	sess, err := decodeSession(data)
	if err != nil {
		return nil, err
	}
	sess.ID = sessionID

	if time.Now().Unix() >= sess.ExpiresAt {
		_ = s.Delete(ctx, sessionID, sess.AccountID)
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (s *sessionStore) Delete(ctx context.Context, sessionID, accountID string) error {
	keys := []string{s.key(sessionID), s.indexKey(accountID)}
	if err := deleteSessionLua.Run(ctx, s.redis, keys, sessionID).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// DeleteAllForAccount revokes every session in the account's index set.
// A session created between the read and the delete survives; it expires
// naturally or falls to the next revocation.
func (s *sessionStore) DeleteAllForAccount(ctx context.Context, accountID string) error {
	indexKey := s.indexKey(accountID)

	sessionIDs, err := s.redis.SMembers(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range sessionIDs {
			pipe.Del(ctx, s.key(id))
		}
		pipe.Del(ctx, indexKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *sessionStore) ActiveSessionCount(ctx context.Context, accountID string) (int, error) {
	count, err := s.redis.SCard(ctx, s.indexKey(accountID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return int(count), nil
}

// EstimateActiveSessions scans the session keyspace. O(n); operator use
// only, never on a request hot path.
func (s *sessionStore) EstimateActiveSessions(ctx context.Context) (int, error) {
	pattern := s.prefix + ":s:*"
	var cursor uint64
	var total int

	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, 1000).Result()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		total += len(keys)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return total, nil
}

// RotateRefreshHash performs the atomic compare-and-swap at the core of
// the rotation protocol. On hash mismatch the session is gone and
// errRefreshHashMismatch is returned; callers translate that into the
// reuse-detected outcome.
func (s *sessionStore) RotateRefreshHash(
	ctx context.Context,
	sessionID string,
	providedHash, nextHash [32]byte,
) (*session, error) {
	result, err := rotateRefreshLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		s.indexPrefix(),
		sessionID,
		providedHash[:],
		nextHash[:],
		time.Now().Unix(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid rotate script response", ErrStoreUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid rotate script status", ErrStoreUnavailable)
	}

	switch code {
	case rotateStatusNotFound, rotateStatusExpired:
		return nil, ErrSessionNotFound
	case rotateStatusMismatch:
		return nil, errRefreshHashMismatch
	case rotateStatusCorrupt:
		return nil, fmt.Errorf("%w: corrupt session blob", ErrStoreUnavailable)
	case rotateStatusRotated:
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: missing rotated session payload", ErrStoreUnavailable)
		}
		var blob []byte
		switch v := parts[1].(type) {
		case string:
			blob = []byte(v)
		case []byte:
			blob = v
		default:
			return nil, fmt.Errorf("%w: invalid rotated session payload", ErrStoreUnavailable)
		}
		sess, err := decodeSession(blob)
		if err != nil {
			return nil, err
		}
		sess.ID = sessionID
		return sess, nil
	default:
		return nil, fmt.Errorf("%w: unknown rotate script status", ErrStoreUnavailable)
	}
}
