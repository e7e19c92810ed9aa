package cipher

import (
	"bytes"
	"io"
	"testing"
)

func testAEAD(t *testing.T) (key []byte) {
	t.Helper()
	key = bytes.Repeat([]byte{0x42}, 32)
	return key
}

func TestRoundTripSmall(t *testing.T) {
	key := testAEAD(t)
	aead, err := NewAEAD(key)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	w := NewWriter(&buf, aead, "ctx-1")
	if _, err := w.Write([]byte("hello, kiln")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r := NewReader(&buf, aead, "ctx-1")
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello, kiln" {
		t.Fatalf("got %q", data)
	}
}

func TestRoundTripSpansMultipleChunks(t *testing.T) {
	key := testAEAD(t)
	aead, _ := NewAEAD(key)

	plaintext := bytes.Repeat([]byte{'x'}, MaxChunkPlaintext*2+123)

	var buf bytes.Buffer
	w := NewWriter(&buf, aead, "ctx-2")
	if _, err := w.Write(plaintext); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r := NewReader(&buf, aead, "ctx-2")
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, plaintext) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(data), len(plaintext))
	}
}

func TestEmptyStreamRoundTrips(t *testing.T) {
	key := testAEAD(t)
	aead, _ := NewAEAD(key)

	var buf bytes.Buffer
	w := NewWriter(&buf, aead, "ctx-3")
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r := NewReader(&buf, aead, "ctx-3")
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 0 {
		t.Fatalf("expected empty plaintext, got %d bytes", len(data))
	}
}

func TestFlippedCiphertextByteFailsAuthentication(t *testing.T) {
	key := testAEAD(t)
	aead, _ := NewAEAD(key)

	var buf bytes.Buffer
	w := NewWriter(&buf, aead, "ctx-4")
	_, _ = w.Write([]byte("integrity matters"))
	_ = w.Close()

	corrupted := buf.Bytes()
	corrupted[len(corrupted)-1] ^= 0xFF // flip the last byte of the final chunk's tag

	r := NewReader(bytes.NewReader(corrupted), aead, "ctx-4")
	_, err := io.ReadAll(r)
	if err == nil {
		t.Fatalf("expected authentication failure on flipped ciphertext byte")
	}
}

func TestWrongContextIDFailsAuthentication(t *testing.T) {
	key := testAEAD(t)
	aead, _ := NewAEAD(key)

	var buf bytes.Buffer
	w := NewWriter(&buf, aead, "context-a")
	_, _ = w.Write([]byte("cross-file swap should fail"))
	_ = w.Close()

	r := NewReader(&buf, aead, "context-b") // wrong AAD context
	_, err := io.ReadAll(r)
	if err == nil {
		t.Fatalf("expected authentication failure on mismatched context id")
	}
}

func TestUnsupportedVersionRejected(t *testing.T) {
	key := testAEAD(t)
	aead, _ := NewAEAD(key)

	var buf bytes.Buffer
	w := NewWriter(&buf, aead, "ctx-5")
	_, _ = w.Write([]byte("x"))
	_ = w.Close()

	raw := buf.Bytes()
	raw[0] = 0xFF // corrupt version byte

	r := NewReader(bytes.NewReader(raw), aead, "ctx-5")
	_, err := io.ReadAll(r)
	if err == nil {
		t.Fatalf("expected version rejection")
	}
}
