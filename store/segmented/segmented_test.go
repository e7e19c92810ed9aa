package segmented

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/kilnstore/kiln/cmn"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	b, err := NewWithSegmentSize(t.TempDir(), 1024)
	if err != nil {
		t.Fatal(err)
	}
	uri := cmn.BlobURI{Scheme: cmn.SchemeSegmented, ContainerID: "c1", BlobName: "obj"}
	ctx := context.Background()

	resolved, n, err := b.Save(ctx, uri, bytes.NewBufferString("hello world"))
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len("hello world")) {
		t.Fatalf("unexpected size %d", n)
	}
	if !strings.HasPrefix(resolved, "seg://c1/obj?") {
		t.Fatalf("unexpected resolved uri %s", resolved)
	}

	resolvedURI, err := cmn.ParseBlobURI(resolved)
	if err != nil {
		t.Fatal(err)
	}
	rc, err := b.Load(ctx, resolvedURI)
	if err != nil {
		t.Fatal(err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello world" {
		t.Fatalf("got %q", data)
	}
}

func TestWriteSpanningSegmentBoundary(t *testing.T) {
	b, err := NewWithSegmentSize(t.TempDir(), 8) // tiny segments to force spanning
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	uri := cmn.BlobURI{Scheme: cmn.SchemeSegmented, ContainerID: "c1", BlobName: "a"}
	payload := "0123456789abcdef" // 16 bytes, spans two 8-byte segments
	resolved, n, err := b.Save(ctx, uri, bytes.NewBufferString(payload))
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len(payload)) {
		t.Fatalf("unexpected size %d", n)
	}
	resolvedURI, _ := cmn.ParseBlobURI(resolved)
	rc, err := b.Load(ctx, resolvedURI)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != payload {
		t.Fatalf("got %q want %q", data, payload)
	}
}

func TestDeleteIsUnsupported(t *testing.T) {
	b, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	uri := cmn.BlobURI{Scheme: cmn.SchemeSegmented, ContainerID: "c1", BlobName: "a"}
	if err := b.Delete(context.Background(), uri); err == nil {
		t.Fatalf("expected delete to be rejected")
	}
}
