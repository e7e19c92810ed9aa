package local

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/kilnstore/kiln/cmn"
)

func TestSaveLoadDeleteExists(t *testing.T) {
	b, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	uri := cmn.BlobURI{Scheme: cmn.SchemeFile, ContainerID: "c1", BlobName: "a/b.txt"}
	ctx := context.Background()

	resolved, n, err := b.Save(ctx, uri, bytes.NewBufferString("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 || resolved != uri.String() {
		t.Fatalf("unexpected save result: n=%d resolved=%s", n, resolved)
	}

	ok, err := b.Exists(ctx, uri)
	if err != nil || !ok {
		t.Fatalf("expected blob to exist, ok=%v err=%v", ok, err)
	}

	rc, err := b.Load(ctx, uri)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "hello" {
		t.Fatalf("got %q", data)
	}

	if err := b.Delete(ctx, uri); err != nil {
		t.Fatal(err)
	}
	ok, err = b.Exists(ctx, uri)
	if err != nil || ok {
		t.Fatalf("expected blob gone, ok=%v err=%v", ok, err)
	}
}

func TestResolveRejectsPathTraversal(t *testing.T) {
	b, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	uri := cmn.BlobURI{Scheme: cmn.SchemeFile, ContainerID: "c1", BlobName: "../../etc/passwd"}
	if _, err := b.resolve(uri); err == nil {
		t.Fatalf("expected path-traversal rejection")
	}
}

func TestLoadMissingReturnsNotFound(t *testing.T) {
	b, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	uri := cmn.BlobURI{Scheme: cmn.SchemeFile, ContainerID: "c1", BlobName: "missing.txt"}
	_, err = b.Load(context.Background(), uri)
	if !cmnIsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func cmnIsNotFound(err error) bool {
	ke, ok := err.(*cmn.KernelError)
	return ok && ke.Kind == cmn.KindNotFound
}
