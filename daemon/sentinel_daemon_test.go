package daemon_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/kilnstore/kiln/access"
	"github.com/kilnstore/kiln/cmn"
	"github.com/kilnstore/kiln/daemon"
	"github.com/kilnstore/kiln/hk"
	"github.com/kilnstore/kiln/index/memidx"
	"github.com/kilnstore/kiln/keystore"
	"github.com/kilnstore/kiln/pipeline"
	"github.com/kilnstore/kiln/plugin"
	"github.com/kilnstore/kiln/policy"
	"github.com/kilnstore/kiln/sentinel"
	"github.com/kilnstore/kiln/store/ram"
)

// healingModule proposes a heal on the first OnSchedule evaluation it
// sees for a manifest tagged Status:Corrupt, then clears its own trigger
// so a second pass over the same manifest doesn't loop forever.
type healingModule struct{ fired map[string]bool }

func (h *healingModule) Name() string { return "healing-test-module" }
func (h *healingModule) Analyze(ctx context.Context, sctx sentinel.Context) (sentinel.Judgment, error) {
	if sctx.Trigger != sentinel.OnSchedule || sctx.Metadata == nil {
		return sentinel.Judgment{}, nil
	}
	if sctx.Metadata.GovernanceTags["Status:Corrupt"] != "True" || h.fired[sctx.Metadata.ID] {
		return sentinel.Judgment{}, nil
	}
	h.fired[sctx.Metadata.ID] = true
	return sentinel.Judgment{HealWithReplicaID: "replica-1"}, nil
}

type fakeRestorer struct{ restored []string }

func (f *fakeRestorer) Restore(ctx context.Context, manifestID, replicaID string) error {
	f.restored = append(f.restored, manifestID+"<-"+replicaID)
	return nil
}

func newPipelineForDaemon() *pipeline.Engine {
	dir, err := os.MkdirTemp("", "kiln-daemon-test-")
	Expect(err).NotTo(HaveOccurred())

	reg := plugin.NewRegistry()
	_, err = reg.LoadOne(plugin.HandshakeRequest{}, ram.Factory())
	Expect(err).NotTo(HaveOccurred())

	acl, err := access.Open(filepath.Join(dir, "acl.journal"))
	Expect(err).NotTo(HaveOccurred())
	acl.AdminPrincipal = "system"

	ks, err := keystore.Open(filepath.Join(dir, "keys.journal"))
	Expect(err).NotTo(HaveOccurred())

	return &pipeline.Engine{
		Registry:      reg,
		Policy:        policy.NewEnforcer(cmn.PipelineConfig{}),
		Access:        acl,
		Index:         memidx.New(),
		Keys:          ks,
		Sentinel:      sentinel.Passive(),
		DefaultScheme: cmn.SchemeMem,
	}
}

var _ = Describe("SentinelDaemon", func() {
	It("stamps today's Verified tag on a clean pass and skips it on the next", func() {
		eng := newPipelineForDaemon()
		sys := cmn.SecurityContext{UserID: "system"}
		_, err := eng.StoreBlob(context.Background(), sys, "c1", "a.txt", bytes.NewReader([]byte("hello")))
		Expect(err).NotTo(HaveOccurred())

		fixedNow := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
		d := &daemon.SentinelDaemon{
			Index:         eng.Index,
			Sentinel:      sentinel.New(),
			Pipeline:      eng,
			SystemContext: sys,
			Clock:         func() time.Time { return fixedNow },
		}

		ctx := context.Background()
		d.Start(ctx, "test-sentineld-clean", time.Millisecond)
		defer hk.Unreg("test-sentineld-clean")
		Eventually(func() string {
			m, _, _ := eng.Index.GetManifestByURI(cmn.MakeBlobURI(cmn.SchemeMem, "c1", "a.txt"))
			if m == nil {
				return ""
			}
			return m.GovernanceTags["Verified:2026-07-31"]
		}, time.Second, 5*time.Millisecond).Should(Equal("True"))
	})

	It("requests a restore and clears Status:Corrupt when the sentinel proposes healing", func() {
		eng := newPipelineForDaemon()
		sys := cmn.SecurityContext{UserID: "system"}
		id, err := eng.StoreBlob(context.Background(), sys, "c1", "b.txt", bytes.NewReader([]byte("corrupt me")))
		Expect(err).NotTo(HaveOccurred())

		m, found, err := eng.Index.GetManifest(id)
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())
		m.SetGovernanceTag("Status:Corrupt", "True")
		Expect(eng.Index.IndexManifest(m)).To(Succeed())

		restorer := &fakeRestorer{}
		d := &daemon.SentinelDaemon{
			Index:         eng.Index,
			Sentinel:      sentinel.New(&healingModule{fired: map[string]bool{}}),
			Pipeline:      eng,
			Restorer:      restorer,
			SystemContext: sys,
		}

		ctx := context.Background()
		d.Start(ctx, "test-sentineld-heal", time.Millisecond)
		defer hk.Unreg("test-sentineld-heal")
		Eventually(func() int { return len(restorer.restored) }, time.Second, 5*time.Millisecond).Should(Equal(1))
		Eventually(func() string {
			got, _, _ := eng.Index.GetManifest(id)
			if got == nil {
				return "missing"
			}
			return got.GovernanceTags["Status:Corrupt"]
		}, time.Second, 5*time.Millisecond).Should(BeEmpty())
	})
})
