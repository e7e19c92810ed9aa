package kernel_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/kilnstore/kiln/access"
	"github.com/kilnstore/kiln/cmn"
	"github.com/kilnstore/kiln/kernel"
)

func mustTempDir() string {
	dir, err := os.MkdirTemp("", "kiln-kernel-test-")
	Expect(err).NotTo(HaveOccurred())
	return dir
}

var _ = Describe("Boot", func() {
	It("boots on an all-fallback config and serves blobs over the mem scheme", func() {
		ctx := context.Background()
		k, err := kernel.Boot(ctx, kernel.Config{})
		Expect(err).NotTo(HaveOccurred())
		defer k.Shutdown()

		sec := cmn.SecurityContext{UserID: "alice"}
		Expect(k.CreateContainer(sec, "c1", false, false)).To(Succeed())

		id, err := k.StoreBlob(ctx, sec, "c1", "hello.txt", bytes.NewReader([]byte("hello")))
		Expect(err).NotTo(HaveOccurred())
		Expect(id).NotTo(BeEmpty())

		rc, err := k.GetBlob(ctx, sec, "c1", "hello.txt")
		Expect(err).NotTo(HaveOccurred())
		defer rc.Close()
		got, err := io.ReadAll(rc)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(got)).To(Equal("hello"))

		_, err = k.Search(sec, "hello", nil, 10)
		Expect(err).NotTo(HaveOccurred())
	})

	It("rejects Search from an unauthenticated caller", func() {
		ctx := context.Background()
		k, err := kernel.Boot(ctx, kernel.Config{})
		Expect(err).NotTo(HaveOccurred())
		defer k.Shutdown()

		_, err = k.Search(cmn.SecurityContext{}, "x", nil, 10)
		Expect(err).To(HaveOccurred())
		ke, ok := err.(*cmn.KernelError)
		Expect(ok).To(BeTrue())
		Expect(ke.Kind).To(Equal(cmn.KindUnauthorized))
	})
})

var _ = Describe("CreateContainer and GrantAccess", func() {
	var (
		ctx context.Context
		k   *kernel.Kernel
		dir string
		sec cmn.SecurityContext
		bob cmn.SecurityContext
	)

	BeforeEach(func() {
		ctx = context.Background()
		dir = mustTempDir()
		var err error
		k, err = kernel.Boot(ctx, kernel.Config{
			ACLPath:      filepath.Join(dir, "acl.journal"),
			KeyStorePath: filepath.Join(dir, "keys.journal"),
		})
		Expect(err).NotTo(HaveOccurred())
		sec = cmn.SecurityContext{UserID: "alice"}
		bob = cmn.SecurityContext{UserID: "bob"}
	})

	AfterEach(func() {
		k.Shutdown()
		os.RemoveAll(dir)
	})

	It("lets the owner store a blob immediately after creating the container", func() {
		Expect(k.CreateContainer(sec, "c1", false, false)).To(Succeed())
		_, err := k.StoreBlob(ctx, sec, "c1", "hello.txt", bytes.NewReader([]byte("hello")))
		Expect(err).NotTo(HaveOccurred())
	})

	It("denies a second principal until access is granted", func() {
		Expect(k.CreateContainer(sec, "c1", false, false)).To(Succeed())

		_, err := k.StoreBlob(ctx, bob, "c1", "x.txt", bytes.NewReader([]byte("x")))
		Expect(err).To(HaveOccurred())
		ke, ok := err.(*cmn.KernelError)
		Expect(ok).To(BeTrue())
		Expect(ke.Kind).To(Equal(cmn.KindUnauthorized))

		Expect(k.GrantAccess(sec, "c1", "bob", access.Write|access.Read)).To(Succeed())

		_, err = k.StoreBlob(ctx, bob, "c1", "x.txt", bytes.NewReader([]byte("x")))
		Expect(err).NotTo(HaveOccurred())
	})

	It("refuses GrantAccess from a principal without FullControl on the container", func() {
		Expect(k.CreateContainer(sec, "c1", false, false)).To(Succeed())
		err := k.GrantAccess(bob, "c1", "mallory", access.Read)
		Expect(err).To(HaveOccurred())
		ke, ok := err.(*cmn.KernelError)
		Expect(ok).To(BeTrue())
		Expect(ke.Kind).To(Equal(cmn.KindUnauthorized))
	})

	It("returns Conflict creating the same container twice", func() {
		Expect(k.CreateContainer(sec, "c1", false, false)).To(Succeed())
		err := k.CreateContainer(sec, "c1", false, false)
		Expect(err).To(HaveOccurred())
		ke, ok := err.(*cmn.KernelError)
		Expect(ok).To(BeTrue())
		Expect(ke.Kind).To(Equal(cmn.KindConflict))
	})

	It("installs an encryption/compression policy when requested", func() {
		Expect(k.CreateContainer(sec, "c2", true, true)).To(Succeed())
		_, err := k.StoreBlob(ctx, sec, "c2", "secret.bin", bytes.NewReader(bytes.Repeat([]byte("x"), 4096)))
		Expect(err).NotTo(HaveOccurred())

		rc, err := k.GetBlob(ctx, sec, "c2", "secret.bin")
		Expect(err).NotTo(HaveOccurred())
		defer rc.Close()
		got, err := io.ReadAll(rc)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(bytes.Repeat([]byte("x"), 4096)))
	})
})
