package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidKey = errors.New("storage: invalid object key")
	ErrNotFound   = errors.New("storage: object not found")
)

// Store is durable storage for generated outputs. Keys are slash-separated relative paths.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	SignedURL(key string, ttl time.Duration) (string, error)
}

// Local keeps objects under a root directory and hands out signed links served by the API.
type Local struct {
	root    string
	baseURL string
	signer  *Signer
}

func NewLocal(root, publicBaseURL string, signer *Signer) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &Local{root: abs, baseURL: strings.TrimRight(publicBaseURL, "/"), signer: signer}, nil
}

// Put writes the object atomically; an existing object at key is replaced.
func (l *Local) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_ = contentType
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := l.Path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), full)
}

// Path resolves key to a file under root, rejecting anything that could escape it.
func (l *Local) Path(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	full := filepath.Join(l.root, filepath.FromSlash(key))
	if !strings.HasPrefix(full, l.root+string(filepath.Separator)) {
		return "", ErrInvalidKey
	}
	return full, nil
}

// Open returns the on-disk path of an existing object.
func (l *Local) Open(key string) (string, error) {
	full, err := l.Path(key)
	if err != nil {
		return "", err
	}
	st, err := os.Stat(full)
	if err != nil || st.IsDir() {
		return "", ErrNotFound
	}
	return full, nil
}

func (l *Local) SignedURL(key string, ttl time.Duration) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	expires := time.Now().Add(ttl).Unix()
	sig := l.signer.Sign(key, expires)
	return fmt.Sprintf("%s/assets/%s?expires=%s&sig=%s", l.baseURL, key, strconv.FormatInt(expires, 10), sig), nil
}

func (l *Local) Verify(key string, expires int64, sig string) bool {
	return l.signer.Verify(key, expires, sig, time.Now())
}

func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") || strings.ContainsRune(key, 0) {
		return ErrInvalidKey
	}
	if path.Clean(key) != key {
		return ErrInvalidKey
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." || seg == "." || strings.HasPrefix(seg, ".") {
			return ErrInvalidKey
		}
	}
	return nil
}
