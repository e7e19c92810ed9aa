package cipher

import (
	"crypto/cipher"
	"encoding/binary"
	"io"
)

// Writer buffers up to MaxChunkPlaintext bytes of plaintext, then seals
// and emits one chunk; Close finalizes whatever remains buffered,
// including an empty trailing chunk for a zero-byte stream, so every
// written stream decodes to at least the version byte plus one chunk.
type Writer struct {
	w          io.Writer
	aead       cipher.AEAD
	contextID  string
	chunkIndex uint32
	buf        []byte
	wroteVer   bool
	closed     bool
}

func NewWriter(w io.Writer, aead cipher.AEAD, contextID string) *Writer {
	return &Writer{w: w, aead: aead, contextID: contextID, buf: make([]byte, 0, MaxChunkPlaintext)}
}

func (cw *Writer) Write(p []byte) (int, error) {
	if cw.closed {
		return 0, io.ErrClosedPipe
	}
	if err := cw.ensureVersion(); err != nil {
		return 0, err
	}
	written := 0
	for len(p) > 0 {
		room := MaxChunkPlaintext - len(cw.buf)
		n := len(p)
		if n > room {
			n = room
		}
		cw.buf = append(cw.buf, p[:n]...)
		p = p[n:]
		written += n
		if len(cw.buf) == MaxChunkPlaintext {
			if err := cw.flush(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

func (cw *Writer) ensureVersion() error {
	if cw.wroteVer {
		return nil
	}
	cw.wroteVer = true
	_, err := cw.w.Write([]byte{Version})
	return err
}

// flush seals the currently buffered plaintext (which may be empty, on
// the final call from Close) into one chunk frame and resets buf.
func (cw *Writer) flush() error {
	nonce := make([]byte, nonceSize)
	if _, err := randRead(nonce); err != nil {
		return err
	}
	ciphertext := cw.aead.Seal(nil, nonce, cw.buf, aad(cw.contextID, cw.chunkIndex))

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(ciphertext)))
	if _, err := cw.w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := cw.w.Write(nonce); err != nil {
		return err
	}
	if _, err := cw.w.Write(ciphertext); err != nil {
		return err
	}

	cw.chunkIndex++
	cw.buf = cw.buf[:0]
	return nil
}

// Close finalizes the stream, emitting the last partial (or empty)
// chunk. It is idempotent.
func (cw *Writer) Close() error {
	if cw.closed {
		return nil
	}
	cw.closed = true
	if err := cw.ensureVersion(); err != nil {
		return err
	}
	return cw.flush()
}
