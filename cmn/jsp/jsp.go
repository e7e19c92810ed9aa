// Package jsp (JSON persistence) saves and loads arbitrary JSON-encodable
// structures to/from disk with an atomic tmp-then-rename write path, the
// same contract the teacher's cmn/jsp package offers its callers (policy
// rule snapshots, key-store metadata, durable-state compaction output).
/*
 * Copyright (c) 2024, Kiln Authors. All rights reserved.
 */
package jsp

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
)

var api = jsoniter.ConfigCompatibleWithStandardLibrary

// Options controls how Save/Load encode a value. Checksum, when true,
// prefixes the payload with a SHA-256 hex digest line Load verifies
// before unmarshalling (used by state.Journal snapshots and the
// key-store's on-disk index, both of which must detect silent bitrot).
type Options struct {
	Checksum bool
}

func Encode(w io.Writer, v interface{}, opts Options) error {
	raw, err := api.Marshal(v)
	if err != nil {
		return err
	}
	if opts.Checksum {
		sum := sha256.Sum256(raw)
		if _, err := io.WriteString(w, hex.EncodeToString(sum[:])+"\n"); err != nil {
			return err
		}
	}
	_, err = w.Write(raw)
	return err
}

func Decode(r io.Reader, v interface{}, opts Options) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if opts.Checksum {
		if len(raw) < 65 || raw[64] != '\n' {
			return errBadChecksumFraming
		}
		want := string(raw[:64])
		body := raw[65:]
		sum := sha256.Sum256(body)
		if hex.EncodeToString(sum[:]) != want {
			return errBadChecksum
		}
		raw = body
	}
	return api.Unmarshal(raw, v)
}

var (
	errBadChecksumFraming = &ChecksumError{Msg: "missing or malformed checksum header"}
	errBadChecksum        = &ChecksumError{Msg: "checksum mismatch"}
)

type ChecksumError struct{ Msg string }

func (e *ChecksumError) Error() string { return e.Msg }

var tieCounter uint64

// GenTie returns a short, monotonically increasing tie-breaker used to
// make concurrent ".tmp.<tie>" filenames collision-free.
func GenTie() string {
	n := atomic.AddUint64(&tieCounter, 1)
	const abc = "0123456789abcdefghijklmnopqrstuv"
	var buf [13]byte
	for i := len(buf) - 1; i >= 0; i-- {
		buf[i] = abc[n&0x1f]
		n >>= 5
	}
	return string(buf[:])
}
