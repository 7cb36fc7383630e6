package storage

import (
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Signer produces keyed BLAKE2b signatures for time-limited asset links.
type Signer struct {
	key [32]byte
}

func NewSigner(secret string) *Signer {
	return &Signer{key: blake2b.Sum256([]byte(secret))}
}

func (s *Signer) Sign(objectKey string, expires int64) string {
	h, err := blake2b.New256(s.key[:])
	if err != nil {
		// only fails for keys longer than 64 bytes
		panic(err)
	}
	h.Write([]byte(objectKey))
	h.Write([]byte{'\n'})
	h.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Signer) Verify(objectKey string, expires int64, sig string, now time.Time) bool {
	if now.Unix() > expires {
		return false
	}
	want := s.Sign(objectKey, expires)
	return subtle.ConstantTimeCompare([]byte(want), []byte(sig)) == 1
}
