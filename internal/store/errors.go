package store

import "errors"

var (
	ErrNotFound       = errors.New("knowledge item not found")
	ErrEmptyEmbedding = errors.New("knowledge item has no embedding")
	ErrInvalidItem    = errors.New("invalid knowledge item")
)
