// Package state implements DurableState (spec §4.1): a typed
// key-value map backed by a crash-safe append-only write-ahead log,
// with an in-memory read cache and periodic compaction. It backs the
// kernel's persistent ACL entries (access.Control) and key material
// (keystore.Store), each in its own journal file.
//
// The write path (single writer lock serializing appends, lock-free
// reads against an atomically-swapped cache snapshot) is grounded on
// the teacher's `cmn/atomic`-based copy-on-write config pattern
// (ais/earlystart.go swaps *cmn.Config behind an atomic.Pointer so
// readers never block on a config reload); DurableState applies the
// same technique to its cache instead of the on-disk log, which must
// stay a strict append log for crash safety.
/*
 * Copyright (c) 2024, Kiln Authors. All rights reserved.
 */
package state

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"

	"github.com/kilnstore/kiln/cmn/cos"
)

var jsonapi = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	opSet    byte = 1
	opRemove byte = 2
)

// DefaultCompactThreshold is the default operation count (spec §3) at
// which a journal self-compacts.
const DefaultCompactThreshold = 5000

// ErrCorrupt is returned when a journal record carries an unrecognized
// opcode — distinct from a truncated trailing record, which Open
// silently treats as end-of-log.
type ErrCorrupt struct {
	Path   string
	Offset int64
	Reason string
}

func (e *ErrCorrupt) Error() string {
	return fmt.Sprintf("state: corrupt journal %s at offset %d: %s", e.Path, e.Offset, e.Reason)
}

// Journal is a single named durable-state log.
type Journal struct {
	path      string
	threshold int

	writeMu sync.Mutex // serializes appends and compaction
	file    *os.File
	opcount int

	cache atomic.Pointer[map[string]jsoniter.RawMessage]
}

// Open opens (creating if absent) the journal at path and replays it
// into the in-memory cache. Replay stops at the first record whose key
// or payload cannot be read in full, treating it as a truncated
// trailing record; a record with an unrecognized opcode is fatal and
// returned as *ErrCorrupt.
func Open(path string) (*Journal, error) {
	return OpenWithThreshold(path, DefaultCompactThreshold)
}

func OpenWithThreshold(path string, threshold int) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	j := &Journal{path: path, threshold: threshold, file: f}

	m, opcount, err := replay(path)
	if err != nil {
		f.Close()
		return nil, err
	}
	j.cache.Store(&m)
	j.opcount = opcount
	return j, nil
}

func replay(path string) (map[string]jsoniter.RawMessage, int, error) {
	m := make(map[string]jsoniter.RawMessage)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, 0, nil
		}
		return nil, 0, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var offset int64
	opcount := 0
replay:
	for {
		opcode, err := r.ReadByte()
		if err != nil {
			break // clean EOF: end of log
		}
		if opcode != opSet && opcode != opRemove {
			return nil, 0, &ErrCorrupt{Path: path, Offset: offset, Reason: fmt.Sprintf("unknown opcode %d", opcode)}
		}
		key, err := cos.ReadVarKey(r)
		if err != nil {
			break // truncated trailing record
		}
		switch opcode {
		case opSet:
			var length uint32
			if err := binary.Read(r, binary.BigEndian, &length); err != nil {
				break replay // truncated trailing record
			}
			payload := make([]byte, length)
			if _, err := io.ReadFull(r, payload); err != nil {
				break replay // truncated trailing record
			}
			m[key] = jsoniter.RawMessage(payload)
		case opRemove:
			delete(m, key)
		}
		opcount++
		offset++ // offset tracking is advisory; exact accounting isn't required for correctness
	}
	return m, opcount, nil
}

// Set appends a Set record and updates the cache. Durability is "OS
// buffered" unless fsync is true, in which case the journal is flushed
// to stable storage before Set returns.
func (j *Journal) Set(key string, value interface{}, fsync bool) error {
	raw, err := jsonapi.Marshal(value)
	if err != nil {
		return err
	}
	return j.append(key, opSet, raw, fsync)
}

// Remove appends a Remove record and evicts key from the cache.
func (j *Journal) Remove(key string, fsync bool) error {
	return j.append(key, opRemove, nil, fsync)
}

func (j *Journal) append(key string, opcode byte, payload []byte, fsync bool) error {
	j.writeMu.Lock()
	defer j.writeMu.Unlock()

	w := bufio.NewWriter(j.file)
	if err := w.WriteByte(opcode); err != nil {
		return err
	}
	if err := cos.WriteVarKey(w, key); err != nil {
		return err
	}
	if opcode == opSet {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
		if _, err := w.Write(lenBuf[:]); err != nil {
			return err
		}
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if fsync {
		if err := j.file.Sync(); err != nil {
			return err
		}
	}

	next := cloneCache(j.cache.Load())
	if opcode == opSet {
		(*next)[key] = jsoniter.RawMessage(payload)
	} else {
		delete(*next, key)
	}
	j.cache.Store(next)
	j.opcount++

	if j.opcount >= j.threshold {
		return j.compactLocked()
	}
	return nil
}

func cloneCache(m *map[string]jsoniter.RawMessage) *map[string]jsoniter.RawMessage {
	out := make(map[string]jsoniter.RawMessage, len(*m)+1)
	for k, v := range *m {
		out[k] = v
	}
	return &out
}

// TryGet looks up key in the lock-free in-memory cache and, if found,
// unmarshals its value into out.
func (j *Journal) TryGet(key string, out interface{}) (bool, error) {
	m := j.cache.Load()
	raw, ok := (*m)[key]
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	return true, jsonapi.Unmarshal(raw, out)
}

// Keys returns a snapshot of every currently live key.
func (j *Journal) Keys() []string {
	m := j.cache.Load()
	out := make([]string, 0, len(*m))
	for k := range *m {
		out = append(out, k)
	}
	return out
}

// Compact rewrites the journal to contain only the current Set records
// for every live key, then atomically renames it over the old log.
func (j *Journal) Compact() error {
	j.writeMu.Lock()
	defer j.writeMu.Unlock()
	return j.compactLocked()
}

func (j *Journal) compactLocked() error {
	tmp := j.path + ".compact.tmp"
	f, err := cos.CreateFile(tmp)
	if err != nil {
		return err
	}
	m := j.cache.Load()
	w := bufio.NewWriter(f)
	for k, v := range *m {
		if err := w.WriteByte(opSet); err != nil {
			cos.Close(f)
			return err
		}
		if err := cos.WriteVarKey(w, k); err != nil {
			cos.Close(f)
			return err
		}
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		if _, err := w.Write(lenBuf[:]); err != nil {
			cos.Close(f)
			return err
		}
		if _, err := w.Write(v); err != nil {
			cos.Close(f)
			return err
		}
	}
	if err := w.Flush(); err != nil {
		cos.Close(f)
		return err
	}
	if err := cos.FlushClose(f); err != nil {
		return err
	}

	if err := j.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, j.path); err != nil {
		return err
	}
	newFile, err := os.OpenFile(j.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	j.file = newFile
	j.opcount = 0
	return nil
}

// Close releases the journal's file handle.
func (j *Journal) Close() error {
	j.writeMu.Lock()
	defer j.writeMu.Unlock()
	return j.file.Close()
}
