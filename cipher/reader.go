package cipher

import (
	"crypto/cipher"
	"encoding/binary"
	"io"

	"github.com/kilnstore/kiln/cmn"
)

// Reader decrypts a ChunkedCipherStream one chunk at a time. Random
// access is not supported (spec §4.3) — Reader only implements
// sequential io.Reader.
type Reader struct {
	r          io.Reader
	aead       cipher.AEAD
	contextID  string
	chunkIndex uint32
	pending    []byte // decrypted bytes not yet returned to the caller
	verChecked bool
	done       bool
}

func NewReader(r io.Reader, aead cipher.AEAD, contextID string) *Reader {
	return &Reader{r: r, aead: aead, contextID: contextID}
}

func (cr *Reader) Read(p []byte) (int, error) {
	if err := cr.checkVersion(); err != nil {
		return 0, err
	}
	for len(cr.pending) == 0 {
		if cr.done {
			return 0, io.EOF
		}
		if err := cr.readChunk(); err != nil {
			return 0, err
		}
	}
	n := copy(p, cr.pending)
	cr.pending = cr.pending[n:]
	return n, nil
}

func (cr *Reader) checkVersion() error {
	if cr.verChecked {
		return nil
	}
	cr.verChecked = true
	var ver [1]byte
	if _, err := io.ReadFull(cr.r, ver[:]); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return cmn.NewIntegrity("chunked cipher stream: truncated before version byte")
	}
	if ver[0] != Version {
		return cmn.NewIntegrity("chunked cipher stream: unsupported version %d", ver[0])
	}
	return nil
}

// readChunk reads and decrypts the next on-disk chunk into cr.pending.
// A clean end-of-stream (no bytes at all where the next chunk's length
// prefix would start) sets cr.done; any other truncation or an AEAD
// authentication failure is surfaced as Integrity, per spec §4.3/§7.
func (cr *Reader) readChunk() error {
	var lenBuf [4]byte
	n, err := io.ReadFull(cr.r, lenBuf[:])
	if err != nil {
		if err == io.EOF && n == 0 {
			cr.done = true
			return nil
		}
		return cmn.NewIntegrity("chunked cipher stream: truncated chunk length")
	}
	length := binary.BigEndian.Uint32(lenBuf[:])

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(cr.r, nonce); err != nil {
		return cmn.NewIntegrity("chunked cipher stream: truncated nonce")
	}
	ciphertext := make([]byte, length)
	if _, err := io.ReadFull(cr.r, ciphertext); err != nil {
		return cmn.NewIntegrity("chunked cipher stream: truncated ciphertext")
	}

	plaintext, err := cr.aead.Open(nil, nonce, ciphertext, aad(cr.contextID, cr.chunkIndex))
	if err != nil {
		return cmn.NewIntegrity("chunked cipher stream: chunk %d failed authentication", cr.chunkIndex)
	}
	cr.chunkIndex++
	cr.pending = plaintext
	if len(plaintext) < MaxChunkPlaintext {
		// a short chunk is always the last one a Writer emits
		cr.done = true
	}
	return nil
}
