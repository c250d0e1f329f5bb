// Package cache is a best-effort TTL accelerator in front of the durable store,
// backed by an embedded badger database.
//
// Nothing here returns an error to callers: every failure is logged and
// reported as a miss. A nil *Cache or a cache opened without a database is a
// valid, permanently empty cache.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// Key TTLs.
const (
	AuthTTL     = time.Hour
	UserTTL     = 30 * time.Minute
	GroupTTL    = 30 * time.Minute
	GroupPwdTTL = time.Hour
	OnlineTTL   = 5 * time.Minute
	MembersTTL  = 30 * time.Minute
	SessionTTL  = 7 * 24 * time.Hour

	DefaultMessageTTL   = 7 * 24 * time.Hour
	DefaultMessageLimit = 500
)

const conflictRetries = 3

// Cache wraps a badger database with typed, namespaced accessors.
type Cache struct {
	db  *badger.DB
	log *zap.Logger

	msgTTL   time.Duration
	msgLimit int
}

// Option configures a Cache.
type Option func(*Cache)

// WithMessageTTL sets the lifetime of per-group message lists.
func WithMessageTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.msgTTL = d
		}
	}
}

// WithMessageLimit caps per-group message lists to the newest n entries.
func WithMessageLimit(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.msgLimit = n
		}
	}
}

// New wraps db. A nil db disables caching.
func New(db *badger.DB, log *zap.Logger, opts ...Option) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Cache{db: db, log: log.Named("cache"), msgTTL: DefaultMessageTTL, msgLimit: DefaultMessageLimit}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Open opens a badger database at path, or an in-memory one when path is empty.
func Open(path string, log *zap.Logger) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLogger(badgerLogger{log.Named("badger").Sugar()})
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return db, nil
}

// Enabled reports whether a backing database is configured.
func (c *Cache) Enabled() bool { return c != nil && c.db != nil }

// getJSON reads key into v. ok is false on miss or any failure.
func (c *Cache) getJSON(key string, v any) bool {
	if !c.Enabled() {
		return false
	}
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, v) })
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			c.log.Warn("get", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	return true
}

// setJSON writes v under key with ttl.
func (c *Cache) setJSON(key string, v any, ttl time.Duration) {
	if !c.Enabled() {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		c.log.Warn("encode", zap.String("key", key), zap.Error(err))
		return
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(key), raw).WithTTL(ttl))
	})
	if err != nil {
		c.log.Warn("set", zap.String("key", key), zap.Error(err))
	}
}

// del removes keys; missing keys are not an error.
func (c *Cache) del(keys ...string) {
	if !c.Enabled() {
		return
	}
	err := c.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.log.Warn("delete", zap.Strings("keys", keys), zap.Error(err))
	}
}

// update runs a read-modify-write on key, retrying on transaction conflicts.
// fn receives the current raw value (nil on miss) and returns the new value;
// a nil result deletes the key.
func (c *Cache) update(key string, ttl time.Duration, fn func(cur []byte) ([]byte, error)) {
	if !c.Enabled() {
		return
	}
	var err error
	for i := 0; i < conflictRetries; i++ {
		err = c.db.Update(func(txn *badger.Txn) error {
			var cur []byte
			item, err := txn.Get([]byte(key))
			switch {
			case err == nil:
				if cur, err = item.ValueCopy(nil); err != nil {
					return err
				}
			case !errors.Is(err, badger.ErrKeyNotFound):
				return err
			}
			next, err := fn(cur)
			if err != nil {
				return err
			}
			if next == nil {
				return txn.Delete([]byte(key))
			}
			return txn.SetEntry(badger.NewEntry([]byte(key), next).WithTTL(ttl))
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		c.log.Warn("update", zap.String("key", key), zap.Error(err))
	}
}

// badgerLogger routes badger's internal logging through zap.
type badgerLogger struct{ s *zap.SugaredLogger }

func (l badgerLogger) Errorf(f string, a ...any)   { l.s.Errorf(f, a...) }
func (l badgerLogger) Warningf(f string, a ...any) { l.s.Warnf(f, a...) }
func (l badgerLogger) Infof(f string, a ...any)    { l.s.Debugf(f, a...) }
func (l badgerLogger) Debugf(f string, a ...any)   { l.s.Debugf(f, a...) }
