package pipeline_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/kilnstore/kiln/access"
	"github.com/kilnstore/kiln/cmn"
	"github.com/kilnstore/kiln/index/memidx"
	"github.com/kilnstore/kiln/keystore"
	"github.com/kilnstore/kiln/pipeline"
	"github.com/kilnstore/kiln/plugin"
	"github.com/kilnstore/kiln/policy"
	"github.com/kilnstore/kiln/sentinel"
	"github.com/kilnstore/kiln/store/ram"
	"github.com/kilnstore/kiln/transform"
)

func TestPipeline(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Pipeline Suite")
}

func mustTempDir() string {
	dir, err := os.MkdirTemp("", "kiln-pipeline-test-")
	Expect(err).NotTo(HaveOccurred())
	return dir
}

// blockingModule unconditionally blocks a single trigger kind, used to
// exercise StoreBlob/GetBlob/Delete's governance-veto paths.
type blockingModule struct{ trigger sentinel.Trigger }

func (b blockingModule) Name() string { return "blocking" }
func (b blockingModule) Analyze(ctx context.Context, sctx sentinel.Context) (sentinel.Judgment, error) {
	if sctx.Trigger != b.trigger {
		return sentinel.Judgment{}, nil
	}
	return sentinel.Judgment{
		BlockOperation: true,
		Alert:          &sentinel.Alert{Code: "TEST_BLOCK", Severity: sentinel.SeverityCritical, Message: "blocked for test"},
	}, nil
}

func newEngine(dir string, modules ...sentinel.Module) *pipeline.Engine {
	reg := plugin.NewRegistry()
	_, err := reg.LoadOne(plugin.HandshakeRequest{}, ram.Factory())
	Expect(err).NotTo(HaveOccurred())
	lz4 := transform.NewLZ4("compression.lz4")
	_, err = reg.LoadOne(plugin.HandshakeRequest{}, transform.Factory(lz4, "compression.lz4", "lz4", "1.0.0", []string{"Compression:lz4"}))
	Expect(err).NotTo(HaveOccurred())

	acl, err := access.Open(filepath.Join(dir, "acl.journal"))
	Expect(err).NotTo(HaveOccurred())
	Expect(acl.CreateScope("c1", "alice")).To(Succeed())

	ks, err := keystore.Open(filepath.Join(dir, "keys.journal"))
	Expect(err).NotTo(HaveOccurred())

	return &pipeline.Engine{
		Registry:      reg,
		Policy:        policy.NewEnforcer(cmn.PipelineConfig{}),
		Access:        acl,
		Index:         memidx.New(),
		Keys:          ks,
		Sentinel:      sentinel.New(modules...),
		DefaultScheme: cmn.SchemeMem,
	}
}

var _ = Describe("Engine", func() {
	var sec cmn.SecurityContext
	BeforeEach(func() { sec = cmn.SecurityContext{UserID: "alice"} })

	It("round-trips a plaintext write and read with no transformation configured", func() {
		e := newEngine(mustTempDir())
		id, err := e.StoreBlob(context.Background(), sec, "c1", "hello.txt", bytes.NewReader([]byte("hello")))
		Expect(err).NotTo(HaveOccurred())
		Expect(id).To(HaveLen(32))

		rc, err := e.GetBlob(context.Background(), sec, "c1", "hello.txt")
		Expect(err).NotTo(HaveOccurred())
		defer rc.Close()
		got, err := io.ReadAll(rc)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(got)).To(Equal("hello"))
	})

	It("round-trips through a compression transformation", func() {
		e := newEngine(mustTempDir())
		e.Policy.SetPolicy("c1", cmn.PipelineConfig{
			TransformationOrder: []string{cmn.CategoryCompression},
			EnableCompression:   true,
		})
		payload := bytes.Repeat([]byte("abcdefgh"), 4096)
		id, err := e.StoreBlob(context.Background(), sec, "c1", "big.bin", bytes.NewReader(payload))
		Expect(err).NotTo(HaveOccurred())
		Expect(id).NotTo(BeEmpty())

		rc, err := e.GetBlob(context.Background(), sec, "c1", "big.bin")
		Expect(err).NotTo(HaveOccurred())
		defer rc.Close()
		got, err := io.ReadAll(rc)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(payload))
	})

	It("denies a write from a principal with no access grant", func() {
		e := newEngine(mustTempDir())
		_, err := e.StoreBlob(context.Background(), cmn.SecurityContext{UserID: "mallory"}, "c1", "x.txt", bytes.NewReader([]byte("x")))
		Expect(err).To(HaveOccurred())
		ke, ok := err.(*cmn.KernelError)
		Expect(ok).To(BeTrue())
		Expect(ke.Kind).To(Equal(cmn.KindUnauthorized))
	})

	It("surfaces a sentinel block on write as a Governance error", func() {
		e := newEngine(mustTempDir(), blockingModule{trigger: sentinel.OnWrite})
		_, err := e.StoreBlob(context.Background(), sec, "c1", "x.txt", bytes.NewReader([]byte("x")))
		Expect(err).To(HaveOccurred())
		ke, ok := err.(*cmn.KernelError)
		Expect(ok).To(BeTrue())
		Expect(ke.Kind).To(Equal(cmn.KindGovernance))
	})

	It("returns NotFound deleting a blob that was never stored", func() {
		e := newEngine(mustTempDir())
		err := e.Delete(context.Background(), sec, "c1", "ghost.txt")
		Expect(err).To(HaveOccurred())
		ke, ok := err.(*cmn.KernelError)
		Expect(ok).To(BeTrue())
		Expect(ke.Kind).To(Equal(cmn.KindNotFound))
	})

	It("deletes a stored blob so a subsequent read fails", func() {
		e := newEngine(mustTempDir())
		_, err := e.StoreBlob(context.Background(), sec, "c1", "gone.txt", bytes.NewReader([]byte("bye")))
		Expect(err).NotTo(HaveOccurred())
		Expect(e.Delete(context.Background(), sec, "c1", "gone.txt")).To(Succeed())

		_, err = e.GetBlob(context.Background(), sec, "c1", "gone.txt")
		Expect(err).To(HaveOccurred())
	})

	It("synthesizes a fallback pipeline from policy when no manifest is indexed", func() {
		e := newEngine(mustTempDir())
		Expect(e.Access.SetPermissions("c1/unseen.txt", "alice", access.Read, 0)).To(Succeed())
		_, err := e.GetBlob(context.Background(), sec, "c1", "unseen.txt")
		// no backend object exists either, so this still fails, but not
		// on an Unauthorized or a nil-manifest panic.
		Expect(err).To(HaveOccurred())
		ke, ok := err.(*cmn.KernelError)
		Expect(ok).To(BeTrue())
		Expect(ke.Kind).NotTo(Equal(cmn.KindUnauthorized))
	})
})

var _ = Describe("store.Backend selection", func() {
	It("fails with ValidationFailed when no backend is registered for the scheme", func() {
		acl, err := access.Open(filepath.Join(mustTempDir(), "acl.journal"))
		Expect(err).NotTo(HaveOccurred())
		Expect(acl.CreateScope("c1", "alice")).To(Succeed())

		e := &pipeline.Engine{
			Registry:      plugin.NewRegistry(),
			Policy:        policy.NewEnforcer(cmn.PipelineConfig{}),
			Access:        acl,
			Index:         memidx.New(),
			Sentinel:      sentinel.Passive(),
			DefaultScheme: cmn.SchemeMem,
		}

		_, err = e.StoreBlob(context.Background(), cmn.SecurityContext{UserID: "alice"}, "c1", "x", bytes.NewReader([]byte("x")))
		Expect(err).To(HaveOccurred())
		ke, ok := err.(*cmn.KernelError)
		Expect(ok).To(BeTrue())
		Expect(ke.Kind).To(Equal(cmn.KindValidationFailed))
	})
})
