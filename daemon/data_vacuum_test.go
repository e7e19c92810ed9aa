package daemon_test

import (
	"bytes"
	"context"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/kilnstore/kiln/cmn"
	"github.com/kilnstore/kiln/daemon"
	"github.com/kilnstore/kiln/index/memidx"
	"github.com/kilnstore/kiln/store"
	"github.com/kilnstore/kiln/store/ram"
)

var _ = Describe("DataVacuum", func() {
	It("deletes an orphan object the index has no manifest for", func() {
		backend := ram.New()
		ctx := context.Background()
		orphanURI := cmn.BlobURI{Scheme: cmn.SchemeMem, ContainerID: "c1", BlobName: "orphan.bin"}
		_, _, err := backend.Save(ctx, orphanURI, bytes.NewReader([]byte("orphaned bytes")))
		Expect(err).NotTo(HaveOccurred())

		liveURI := cmn.BlobURI{Scheme: cmn.SchemeMem, ContainerID: "c1", BlobName: "live.bin"}
		_, _, err = backend.Save(ctx, liveURI, bytes.NewReader([]byte("keep me")))
		Expect(err).NotTo(HaveOccurred())

		idx := memidx.New()
		Expect(idx.IndexManifest(&cmn.Manifest{ID: "m1", BlobURI: liveURI.String()})).To(Succeed())

		v := &daemon.DataVacuum{Index: idx, Backends: []store.Backend{backend}}
		report, err := v.Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.DeletedCount).To(Equal(1))
		Expect(report.ReclaimedBytes).To(Equal(int64(len("orphaned bytes"))))

		exists, err := backend.Exists(ctx, liveURI)
		Expect(err).NotTo(HaveOccurred())
		Expect(exists).To(BeTrue())

		exists, err = backend.Exists(ctx, orphanURI)
		Expect(err).NotTo(HaveOccurred())
		Expect(exists).To(BeFalse())
	})

	It("reports zero deletions with no orphans present", func() {
		backend := ram.New()
		ctx := context.Background()
		uri := cmn.BlobURI{Scheme: cmn.SchemeMem, ContainerID: "c1", BlobName: "a.bin"}
		_, _, err := backend.Save(ctx, uri, bytes.NewReader([]byte("a")))
		Expect(err).NotTo(HaveOccurred())

		idx := memidx.New()
		Expect(idx.IndexManifest(&cmn.Manifest{ID: "m1", BlobURI: uri.String()})).To(Succeed())

		v := &daemon.DataVacuum{Index: idx, Backends: []store.Backend{backend}}
		report, err := v.Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.DeletedCount).To(Equal(0))
	})
})
