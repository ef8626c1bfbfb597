// Package backup records what existed before an apply and keeps a
// restorable dump of history tables that a forced re-apply would replace.
package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	ErrExists   = errors.New("backup object already exists")
	ErrNotFound = errors.New("backup object not found")
)

// Store is append-only object storage. Put never overwrites.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns every key under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	Location() string
}

func safeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "_"
	}
	r := strings.NewReplacer(" ", "_", "/", "_", "\\", "_", "..", "_")
	return r.Replace(name)
}

func computeChecksum(blobs ...[]byte) string {
	h := sha256.New()
	for _, b := range blobs {
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil))
}
