package cos

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// HashingTee wraps r so every byte read through it also feeds a SHA-256
// digest; Sum returns the running hex digest at any point, the same
// "hashing tee" idiom PipelineEngine uses to compute Manifest.Checksum
// opportunistically at pipeline stage 0 (spec §4.9 step 7) without
// buffering the object twice.
type HashingTee struct {
	r io.Reader
	h hash.Hash
}

// NewHashingTee returns a Reader that tees r through a SHA-256 digest.
func NewHashingTee(r io.Reader) *HashingTee {
	h := sha256.New()
	return &HashingTee{r: io.TeeReader(r, h), h: h}
}

func (t *HashingTee) Read(p []byte) (int, error) { return t.r.Read(p) }

// Sum returns the hex-encoded digest of every byte read so far.
func (t *HashingTee) Sum() string { return hex.EncodeToString(t.h.Sum(nil)) }

// SHA256Hex hashes r fully and returns the hex digest, for callers that
// already have the whole stream in hand (e.g. sentinel's integrity
// module recomputing a stored checksum).
func SHA256Hex(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
