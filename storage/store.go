package storage

import (
	"context"
	"errors"
)

var (
	ErrNotFound    = errors.New("Key not found")
	ErrInvalidJSON = errors.New("Value is not valid JSON")
)

// Update is sent to listeners whenever a key changes. Value is the new raw
// JSON value of the key.
type Update struct {
	Key   []byte
	Value []byte
}

type Store interface {
	Set(ctx context.Context, key []byte, value interface{}) error
	SetRaw(ctx context.Context, key []byte, value []byte) error
	Get(ctx context.Context, key []byte) ([]byte, error)

	Restore(values []byte) error
	Backup() ([]byte, error)

	ListenToUpdates() <-chan *Update

	Close() error
}
