package smscode

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const DefaultTTL = 5 * time.Minute

// Store issues single-use verification codes bound to (user, phone).
type Store interface {
	Issue(ctx context.Context, userBID, phone string) (string, error)
	Verify(ctx context.Context, userBID, phone, code string) (bool, error)
}

type Option func(*options)

type options struct {
	ttl time.Duration
	gen func() (string, error)
}

func WithTTL(ttl time.Duration) Option { return func(o *options) { o.ttl = ttl } }

// WithGenerator replaces the random six-digit generator.
func WithGenerator(gen func() (string, error)) Option { return func(o *options) { o.gen = gen } }

func buildOptions(opts []Option) options {
	o := options{ttl: DefaultTTL, gen: randomCode}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func key(userBID, phone string) string {
	return "shifu:sms:" + userBID + ":" + phone
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

type redisStore struct {
	rdb *goredis.Client
	opt options
}

func NewRedisStore(rdb *goredis.Client, opts ...Option) Store {
	return &redisStore{rdb: rdb, opt: buildOptions(opts)}
}

func (s *redisStore) Issue(ctx context.Context, userBID, phone string) (string, error) {
	code, err := s.opt.gen()
	if err != nil {
		return "", err
	}
	if err := s.rdb.Set(ctx, key(userBID, phone), code, s.opt.ttl).Err(); err != nil {
		return "", err
	}
	return code, nil
}

func (s *redisStore) Verify(ctx context.Context, userBID, phone, code string) (bool, error) {
	k := key(userBID, phone)
	stored, err := s.rdb.Get(ctx, k).Result()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !equal(stored, code) {
		return false, nil
	}
	// consume; a concurrent verify that lost the race sees zero deletions
	n, err := s.rdb.Del(ctx, k).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type memoryStore struct {
	mu    sync.Mutex
	codes map[string]memoryCode
	opt   options
	nowFn func() time.Time
}

type memoryCode struct {
	code    string
	expires time.Time
}

func NewMemoryStore(opts ...Option) Store {
	return &memoryStore{codes: make(map[string]memoryCode), opt: buildOptions(opts), nowFn: time.Now}
}

func (s *memoryStore) Issue(_ context.Context, userBID, phone string) (string, error) {
	code, err := s.opt.gen()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[key(userBID, phone)] = memoryCode{code: code, expires: s.nowFn().Add(s.opt.ttl)}
	return code, nil
}

func (s *memoryStore) Verify(_ context.Context, userBID, phone, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(userBID, phone)
	mc, ok := s.codes[k]
	if !ok {
		return false, nil
	}
	if !s.nowFn().Before(mc.expires) {
		delete(s.codes, k)
		return false, nil
	}
	if !equal(mc.code, code) {
		return false, nil
	}
	delete(s.codes, k)
	return true, nil
}
