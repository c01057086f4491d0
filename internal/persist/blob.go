package persist

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// BlobThreshold is the decoded-size boundary between inline and blob
// storage. Content of exactly this size stays inline; anything larger is
// extracted to the blob store.
const BlobThreshold = 10 * 1024

// blobRefPrefix marks a string payload that was replaced with a blob
// reference at encode time.
const blobRefPrefix = "blob:sha256:"

// BlobStore is a content-addressed object store keyed by SHA-256 hex digest.
// Objects are immutable once written and shared by hash across any number of
// envelopes and sessions; the store never deletes on its own.
//
// Put is safe under concurrent use from multiple sessions: writes go to a
// unique temp file and commit with a rename, and identical content from two
// callers converges on one stored object.
type BlobStore struct {
	dir string
}

// NewBlobStore opens (creating if needed) a blob store rooted at dir.
func NewBlobStore(dir string) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &BlobStore{dir: dir}, nil
}

// Put stores content and returns its SHA-256 hex digest. Storing content
// that is already present returns the existing hash without writing.
func (s *BlobStore) Put(content []byte) (string, error) {
	hash := hashBytes(content)
	path, err := s.objectPath(hash, true)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(path); err == nil {
		return hash, nil // dedup: identical bytes, one object
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("stat blob %s: %w", hash, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), hash+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create blob temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write blob content: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("sync blob file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close blob file: %w", err)
	}
	// Atomic commit; two concurrent writers of the same content both land on
	// the same final path with identical bytes.
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("commit blob file: %w", err)
	}
	return hash, nil
}

// Get returns the content stored under hash. A missing object yields
// *BlobNotFoundError; bytes that no longer match their hash yield
// *IntegrityError.
func (s *BlobStore) Get(hash string) ([]byte, error) {
	if !validHash(hash) {
		return nil, &BlobNotFoundError{Hash: hash}
	}
	path, err := s.objectPath(hash, false)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &BlobNotFoundError{Hash: hash}
		}
		return nil, fmt.Errorf("read blob %s: %w", hash, err)
	}
	if actual := hashBytes(content); actual != hash {
		return nil, &IntegrityError{Reason: fmt.Sprintf("blob %s hashes to %s", hash, actual)}
	}
	return content, nil
}

// Exists reports whether an object is stored under hash.
func (s *BlobStore) Exists(hash string) bool {
	if !validHash(hash) {
		return false
	}
	path, err := s.objectPath(hash, false)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// objectPath maps a hash to its on-disk location, sharded by the first two
// hex chars to keep directories small.
func (s *BlobStore) objectPath(hash string, create bool) (string, error) {
	shard := filepath.Join(s.dir, hash[:2])
	if create {
		if err := os.MkdirAll(shard, 0o755); err != nil {
			return "", fmt.Errorf("create blob shard: %w", err)
		}
	}
	return filepath.Join(shard, hash), nil
}

func hashBytes(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func validHash(hash string) bool {
	if len(hash) != 64 {
		return false
	}
	for _, c := range hash {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// BlobRef builds the reference string persisted in place of an extracted
// payload.
func BlobRef(hash string) string { return blobRefPrefix + hash }

// IsBlobRef reports whether s is a well-formed blob reference.
func IsBlobRef(s string) bool {
	return strings.HasPrefix(s, blobRefPrefix) && validHash(s[len(blobRefPrefix):])
}

// BlobRefHash extracts the hash from a blob reference string.
func BlobRefHash(s string) (string, bool) {
	if !IsBlobRef(s) {
		return "", false
	}
	return s[len(blobRefPrefix):], true
}
