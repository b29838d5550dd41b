package stores

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const tokenRecordVersionV1 = 1

var (
	ErrTokenNotFound         = errors.New("token record not found")
	ErrTokenSecretMismatch   = errors.New("token secret mismatch")
	ErrTokenAttemptsExceeded = errors.New("token attempts exceeded")
	ErrTokenRedisUnavailable = errors.New("token redis unavailable")
)

// TokenRecord is the persisted half of a single-use token. Data carries
// flow-specific context such as the provider bound to an OAuth state.
type TokenRecord struct {
	UserID     string
	Data       string
	SecretHash [32]byte
	ExpiresAt  int64
	Attempts   uint16
}

// TokenStore is one Redis key namespace of single-use records.
type TokenStore struct {
	redis       redis.UniversalClient
	prefix      string
	maxAttempts int
	now         func() time.Time
}

func NewTokenStore(redisClient redis.UniversalClient, prefix string, maxAttempts int) *TokenStore {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &TokenStore{
		redis:       redisClient,
		prefix:      prefix,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// SetClock overrides the time source used for expiry checks.
func (s *TokenStore) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *TokenStore) key(id string) string {
	return s.prefix + ":" + id
}

func (s *TokenStore) Save(ctx context.Context, id string, record *TokenRecord, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("token ttl must be > 0")
	}
	if record.ExpiresAt == 0 {
		record.ExpiresAt = s.now().Add(ttl).Unix()
	}
	encoded, err := encodeTokenRecord(record)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(id), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
	}

	return nil
}

// Consume deletes and returns the record when providedHash matches. A
// mismatch counts an attempt; the record is dropped once maxAttempts is hit.
func (s *TokenStore) Consume(ctx context.Context, id string, providedHash [32]byte) (*TokenRecord, error) {
	const maxRetries = 4
	key := s.key(id)

	for i := 0; i < maxRetries; i++ {
		var matched *TokenRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrTokenNotFound
				}
				return err
			}

			record, err := decodeTokenRecord(data)
			if err != nil {
				return err
			}

			del := func() error {
				_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			if s.now().Unix() > record.ExpiresAt {
				if err := del(); err != nil {
					return err
				}
				return ErrTokenNotFound
			}

			if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
				record.Attempts++
				if int(record.Attempts) >= s.maxAttempts {
					if err := del(); err != nil {
						return err
					}
					return ErrTokenAttemptsExceeded
				}

				ttl := time.Unix(record.ExpiresAt, 0).Sub(s.now())
				if ttl <= 0 {
					if err := del(); err != nil {
						return err
					}
					return ErrTokenNotFound
				}

				updated, err := encodeTokenRecord(record)
				if err != nil {
					return err
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, ttl)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrTokenSecretMismatch
			}

			if err := del(); err != nil {
				return err
			}
			matched = record
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, ErrTokenNotFound), errors.Is(err, ErrTokenSecretMismatch), errors.Is(err, ErrTokenAttemptsExceeded):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
			}
		}

		return matched, nil
	}

	return nil, ErrTokenNotFound
}

// Delete removes a record regardless of its secret.
func (s *TokenStore) Delete(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
	}
	return nil
}

func encodeTokenRecord(record *TokenRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(tokenRecordVersionV1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	for _, field := range []string{record.UserID, record.Data} {
		if len(field) > 65535 {
			return nil, errors.New("token record field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}
	buf.Write(record.SecretHash[:])

	return buf.Bytes(), nil
}

func decodeTokenRecord(data []byte) (*TokenRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != tokenRecordVersionV1 {
		return nil, errors.New("invalid token record version")
	}

	record := &TokenRecord{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	fields := make([]string, 2)
	for i := range fields {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, err
		}
		fields[i] = string(raw)
	}
	record.UserID, record.Data = fields[0], fields[1]

	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}
