package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
)

// keyPrefix namespaces slots inside the on-disk database so other local
// state can share it later.
const keyPrefix = "slot:"

// Opening retries while another process holds the directory lock.
const (
	openAttempts = 40
	openRetry    = 25 * time.Millisecond
)

// dirLocks serializes opens of one directory inside this process; pebble
// refuses a second handle on a locked directory.
var dirLocks sync.Map // cleaned dir -> *sync.Mutex

// Pebble keeps the slot in an embedded on-disk database, the CLI's
// counterpart to browser local storage. The database is opened for each
// operation and closed right after, so concurrent CLI invocations sharing
// the directory do not lock each other out.
type Pebble struct {
	dir string
	key string
	mu  *sync.Mutex
}

// NewPebble creates the database under dir if needed and checks it opens.
func NewPebble(dir, key string) (*Pebble, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("tokenstore: create dir: %w", err)
	}
	clean := filepath.Clean(dir)
	mu, _ := dirLocks.LoadOrStore(clean, &sync.Mutex{})
	p := &Pebble{dir: clean, key: key, mu: mu.(*sync.Mutex)}
	if err := p.withDB(context.Background(), func(*pebble.DB) error { return nil }); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pebble) dbKey() []byte {
	return []byte(keyPrefix + p.key)
}

// withDB opens the database, runs fn and closes it again.
func (p *Pebble) withDB(ctx context.Context, fn func(db *pebble.DB) error) (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var db *pebble.DB
	for attempt := 1; ; attempt++ {
		db, err = pebble.Open(p.dir, &pebble.Options{})
		if err == nil {
			break
		}
		if attempt >= openAttempts {
			return fmt.Errorf("tokenstore: open pebble: %w", err)
		}
		t := time.NewTimer(openRetry)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("tokenstore: open pebble: %w", ctx.Err())
		case <-t.C:
		}
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("tokenstore: close pebble: %w", cerr)
		}
	}()
	return fn(db)
}

func (p *Pebble) Load(ctx context.Context) (string, error) {
	var token string
	err := p.withDB(ctx, func(db *pebble.DB) error {
		val, closer, err := db.Get(p.dbKey())
		if errors.Is(err, pebble.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("tokenstore: load: %w", err)
		}
		// val is only valid until closer is closed.
		token = string(val)
		if err := closer.Close(); err != nil {
			return fmt.Errorf("tokenstore: load: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

func (p *Pebble) Save(ctx context.Context, token string) error {
	return p.withDB(ctx, func(db *pebble.DB) error {
		if err := db.Set(p.dbKey(), []byte(token), pebble.Sync); err != nil {
			return fmt.Errorf("tokenstore: save: %w", err)
		}
		return nil
	})
}

func (p *Pebble) Clear(ctx context.Context) error {
	return p.withDB(ctx, func(db *pebble.DB) error {
		if err := db.Delete(p.dbKey(), pebble.Sync); err != nil {
			return fmt.Errorf("tokenstore: clear: %w", err)
		}
		return nil
	})
}

func (p *Pebble) Key() string { return p.key }

// Close is a no-op; no handle outlives a single operation.
func (p *Pebble) Close() error { return nil }
