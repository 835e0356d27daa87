package storage

import (
	"context"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	UpdateBufferSize = 255
)

// InmemoryStore keeps every key in a single JSON document. Keys are literal,
// they are never interpreted as nested paths.
type InmemoryStore struct {
	valuesMu sync.RWMutex
	values   []byte

	mu          sync.Mutex
	updateChans []chan *Update
	dropped     uint64

	// stop willl be closed when Close() is called
	stop chan struct{}
}

func NewInmemoryStore() *InmemoryStore {
	return &InmemoryStore{
		values:      []byte("{}"),
		stop:        make(chan struct{}),
		updateChans: make([]chan *Update, 0),
	}
}

func (i *InmemoryStore) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.isRunning() {
		return nil
	}

	close(i.stop)

	for _, updateChan := range i.updateChans {
		close(updateChan)
	}

	i.updateChans = nil

	return nil
}

func (i *InmemoryStore) Set(ctx context.Context, key []byte, value interface{}) error {
	return i.update(key, func(values []byte, path string) ([]byte, error) {
		return sjson.SetBytes(values, path, value)
	})
}

// SetRaw stores value, which must already be JSON, without re-encoding it.
func (i *InmemoryStore) SetRaw(ctx context.Context, key []byte, value []byte) error {
	if !gjson.ValidBytes(value) {
		return ErrInvalidJSON
	}

	return i.update(key, func(values []byte, path string) ([]byte, error) {
		return sjson.SetRawBytes(values, path, value)
	})
}

func (i *InmemoryStore) update(key []byte, set func(values []byte, path string) ([]byte, error)) error {
	path := escapeKey(string(key))

	i.valuesMu.Lock()
	values, err := set(i.values, path)
	if err != nil {
		i.valuesMu.Unlock()
		return err
	}

	i.values = values
	raw := []byte(gjson.GetBytes(values, path).Raw)
	i.valuesMu.Unlock()

	i.publish(&Update{
		Key:   append([]byte(nil), key...),
		Value: raw,
	})

	return nil
}

func (i *InmemoryStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	i.valuesMu.RLock()
	defer i.valuesMu.RUnlock()

	result := gjson.GetBytes(i.values, escapeKey(string(key)))
	if !result.Exists() {
		return nil, ErrNotFound
	}

	return []byte(result.Raw), nil
}

// ListenToUpdates returns a channel receiving every subsequent update. The
// channel is closed by Close. Updates are dropped for listeners that fall
// more than UpdateBufferSize updates behind.
func (i *InmemoryStore) ListenToUpdates() <-chan *Update {
	i.mu.Lock()
	defer i.mu.Unlock()

	updateChan := make(chan *Update, UpdateBufferSize)

	if !i.isRunning() {
		close(updateChan)
		return updateChan
	}

	i.updateChans = append(i.updateChans, updateChan)

	return updateChan
}

// Dropped returns how many updates were dropped because a listener was full.
func (i *InmemoryStore) Dropped() uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.dropped
}

func (i *InmemoryStore) Restore(values []byte) error {
	if !gjson.ValidBytes(values) || !gjson.ParseBytes(values).IsObject() {
		return ErrInvalidJSON
	}

	i.valuesMu.Lock()
	defer i.valuesMu.Unlock()

	i.values = append([]byte(nil), values...)
	return nil
}

func (i *InmemoryStore) Backup() ([]byte, error) {
	i.valuesMu.RLock()
	defer i.valuesMu.RUnlock()

	return append([]byte(nil), i.values...), nil
}

func (i *InmemoryStore) publish(update *Update) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.isRunning() {
		return
	}

	for _, updateChan := range i.updateChans {
		select {
		case updateChan <- update:
		default:
			i.dropped++
		}
	}
}

// isRunning returns true if Close has not been called
func (i *InmemoryStore) isRunning() bool {
	select {
	case <-i.stop:
		return false

	default:
		return true
	}
}

var pathEscaper = strings.NewReplacer(
	`\`, `\\`,
	`.`, `\.`,
	`*`, `\*`,
	`?`, `\?`,
	`|`, `\|`,
	`#`, `\#`,
	`@`, `\@`,
	`:`, `\:`,
	`[`, `\[`,
	`{`, `\{`,
)

// escapeKey turns a literal key into a gjson/sjson path.
func escapeKey(key string) string {
	return pathEscaper.Replace(key)
}

var _ Store = (*InmemoryStore)(nil)
