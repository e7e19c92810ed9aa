// Package cos provides small low-level helpers shared by every package in
// the kernel: atomic file creation, byte-size parsing, and the few string
// utilities that don't deserve their own package.
/*
 * Copyright (c) 2024, Kiln Authors. All rights reserved.
 */
package cos

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// CreateFile creates (or truncates) fqn, making sure the parent directory
// tree exists first. Callers that need crash-safety should write to a
// ".tmp.<tie>" sibling and rename over fqn on success (see FlushClose +
// os.Rename in the callers of Save).
func CreateFile(fqn string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(fqn), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(fqn, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}

// FlushClose syncs file contents to stable storage and closes the handle.
// Used right before an atomic rename so that the rename never exposes a
// file whose bytes haven't actually landed.
func FlushClose(f *os.File) error {
	errSync := f.Sync()
	errClose := f.Close()
	if errSync != nil {
		return errSync
	}
	return errClose
}

// Close is a no-fuss close for paths where the error is already being
// reported through another channel (e.g. save failed, we're cleaning up).
func Close(f *os.File) {
	_ = f.Close()
}

// RemoveFile removes fqn, treating "already gone" as success.
func RemoveFile(fqn string) error {
	err := os.Remove(fqn)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

var errInvalidSize = errors.New("invalid byte size")

// S2B parses human-readable byte sizes ("1MiB", "512k", "8g") the way an
// operator would type them into a config file.
func S2B(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errInvalidSize
	}
	i := len(s)
	for i > 0 && !(s[i-1] >= '0' && s[i-1] <= '9') && s[i-1] != '.' {
		i--
	}
	numPart, suffix := s[:i], strings.ToLower(strings.TrimSpace(s[i:]))
	val, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errInvalidSize, s)
	}
	var mult float64 = 1
	switch suffix {
	case "", "b":
		mult = 1
	case "k", "kb", "kib":
		mult = 1 << 10
	case "m", "mb", "mib":
		mult = 1 << 20
	case "g", "gb", "gib":
		mult = 1 << 30
	case "t", "tb", "tib":
		mult = 1 << 40
	default:
		return 0, fmt.Errorf("%w: unknown suffix %q", errInvalidSize, suffix)
	}
	return int64(val * mult), nil
}

// B2S is the inverse of S2B for log messages.
func B2S(b int64, digits int) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.*f%ciB", digits, float64(b)/float64(div), "KMGTPE"[exp])
}
