// Package localstore keeps per-user device state (drafts, chat themes,
// queued requests, block and report lists) in an embedded pebble database.
// Keys are "<namespace>/<key>" and values are JSON.
package localstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/zentrochat/zentro/pkg/apperr"
)

const (
	Drafts  = "drafts"
	Themes  = "themes"
	Queues  = "queues"
	Blocks  = "blocks"
	Reports = "reports"
)

var namespaces = map[string]bool{
	Drafts:  true,
	Themes:  true,
	Queues:  true,
	Blocks:  true,
	Reports: true,
}

// ValidNamespace reports whether ns is one of the known namespaces.
func ValidNamespace(ns string) bool { return namespaces[ns] }

type Store struct {
	db *pebble.DB
}

func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func storageKey(ns, key string) ([]byte, error) {
	if !ValidNamespace(ns) {
		return nil, fmt.Errorf("%w: unknown namespace %q", apperr.ErrValidation, ns)
	}
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("%w: key is required", apperr.ErrValidation)
	}
	return []byte(ns + "/" + key), nil
}

// Get decodes the value stored under ns/key into v.
func (s *Store) Get(ns, key string, v any) error {
	k, err := storageKey(ns, key)
	if err != nil {
		return err
	}
	raw, closer, err := s.db.Get(k)
	if errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("%w: %s/%s", apperr.ErrNotFound, ns, key)
	}
	if err != nil {
		return fmt.Errorf("%w: failed to read %s/%s: %w", apperr.ErrUnavailable, ns, key, err)
	}
	defer closer.Close()

	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode %s/%s: %w", ns, key, err)
	}
	return nil
}

func (s *Store) Set(ns, key string, v any) error {
	k, err := storageKey(ns, key)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: value cannot be encoded", apperr.ErrValidation)
	}
	if err := s.db.Set(k, raw, pebble.Sync); err != nil {
		return fmt.Errorf("%w: failed to write %s/%s: %w", apperr.ErrUnavailable, ns, key, err)
	}
	return nil
}

// Remove deletes ns/key. Removing a missing key is not an error.
func (s *Store) Remove(ns, key string) error {
	k, err := storageKey(ns, key)
	if err != nil {
		return err
	}
	if err := s.db.Delete(k, pebble.Sync); err != nil {
		return fmt.Errorf("%w: failed to delete %s/%s: %w", apperr.ErrUnavailable, ns, key, err)
	}
	return nil
}

// Keys lists the keys of ns starting with prefix, without the namespace.
func (s *Store) Keys(ns, prefix string) ([]string, error) {
	if !ValidNamespace(ns) {
		return nil, fmt.Errorf("%w: unknown namespace %q", apperr.ErrValidation, ns)
	}
	pfx := []byte(ns + "/" + prefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list %s: %w", apperr.ErrUnavailable, ns, err)
	}
	defer iter.Close()

	keys := []string{}
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		keys = append(keys, strings.TrimPrefix(string(iter.Key()), ns+"/"))
	}
	return keys, iter.Error()
}

// DiskUsage is the on-disk size of the store in bytes.
func (s *Store) DiskUsage() uint64 {
	return s.db.Metrics().DiskSpaceUsage()
}

// UserKey scopes key to userID.
func UserKey(userID, key string) string {
	return userID + "/" + key
}
