package cos

import (
	"encoding/binary"
	"io"
)

// WriteVarKey writes a varint-length-prefixed UTF-8 key, the on-disk shape
// the durable-state journal uses for every record's key field (see
// state.Journal, format documented in state/journal.go).
func WriteVarKey(w io.Writer, key string) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], uint64(len(key)))
	if _, err := w.Write(buf[:n]); err != nil {
		return err
	}
	_, err := io.WriteString(w, key)
	return err
}

// ReadVarKey is the inverse of WriteVarKey. It returns io.ErrUnexpectedEOF
// on any truncation so callers can treat a partial trailing record as
// end-of-log rather than a hard failure.
func ReadVarKey(r io.ByteReader) (string, error) {
	length, err := binary.ReadUvarint(r)
	if err != nil {
		if err == io.EOF {
			return "", io.EOF
		}
		return "", io.ErrUnexpectedEOF
	}
	buf := make([]byte, length)
	for i := range buf {
		b, err := r.ReadByte()
		if err != nil {
			return "", io.ErrUnexpectedEOF
		}
		buf[i] = b
	}
	return string(buf), nil
}
