package plugin_test

import (
	"errors"
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/kilnstore/kiln/plugin"
)

func TestPlugin(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "plugin suite")
}

type fakeBackend struct{ name string }

func factoryOf(resp plugin.HandshakeResponse, inst interface{}, err error) plugin.Factory {
	return plugin.FactoryFunc(func(plugin.HandshakeRequest) (plugin.HandshakeResponse, interface{}, error) {
		return resp, inst, err
	})
}

var _ = Describe("Registry", func() {
	var r *plugin.Registry

	BeforeEach(func() {
		r = plugin.NewRegistry()
	})

	It("admits a well-formed plugin", func() {
		f := factoryOf(plugin.HandshakeResponse{
			ID: "store.local", Category: plugin.CategoryStorage,
			Interfaces: []string{"store.Backend"}, CapabilityIDs: []string{"file"},
			ReadyState: plugin.Ready,
		}, &fakeBackend{name: "local"}, nil)

		id, err := r.LoadOne(plugin.HandshakeRequest{}, f)
		Expect(err).NotTo(HaveOccurred())
		Expect(id).To(Equal("store.local"))

		p, ok := r.Get("store.local")
		Expect(ok).To(BeTrue())
		Expect(p.Category).To(Equal(plugin.CategoryStorage))
	})

	It("rejects a plugin with whitespace in its ID", func() {
		f := factoryOf(plugin.HandshakeResponse{ID: "bad id", Category: plugin.CategoryStorage, ReadyState: plugin.Ready}, nil, nil)
		_, err := r.LoadOne(plugin.HandshakeRequest{}, f)
		Expect(err).To(HaveOccurred())
	})

	It("rejects a plugin in NotReady state", func() {
		f := factoryOf(plugin.HandshakeResponse{ID: "x", Category: plugin.CategoryFeature, ReadyState: plugin.NotReady}, nil, nil)
		_, err := r.LoadOne(plugin.HandshakeRequest{}, f)
		Expect(err).To(HaveOccurred())
	})

	It("rejects duplicate capability claims", func() {
		f1 := factoryOf(plugin.HandshakeResponse{
			ID: "store.local", Category: plugin.CategoryStorage, CapabilityIDs: []string{"file"}, ReadyState: plugin.Ready,
		}, &fakeBackend{}, nil)
		f2 := factoryOf(plugin.HandshakeResponse{
			ID: "store.local2", Category: plugin.CategoryStorage, CapabilityIDs: []string{"file"}, ReadyState: plugin.Ready,
		}, &fakeBackend{}, nil)

		_, err := r.LoadOne(plugin.HandshakeRequest{}, f1)
		Expect(err).NotTo(HaveOccurred())
		_, err = r.LoadOne(plugin.HandshakeRequest{}, f2)
		Expect(err).To(HaveOccurred())
	})

	It("blocks admission on an unresolved required dependency", func() {
		f := factoryOf(plugin.HandshakeResponse{
			ID: "sentinel.pii", Category: plugin.CategoryGovernance, ReadyState: plugin.Ready,
			Dependencies: []plugin.Dependency{{ID: "keystore.main", Optional: false}},
		}, nil, nil)
		_, err := r.LoadOne(plugin.HandshakeRequest{}, f)
		Expect(err).To(HaveOccurred())
	})

	It("admits with an unresolved optional dependency", func() {
		f := factoryOf(plugin.HandshakeResponse{
			ID: "sentinel.pii", Category: plugin.CategoryGovernance, ReadyState: plugin.Ready,
			Dependencies: []plugin.Dependency{{ID: "keystore.main", Optional: true}},
		}, &fakeBackend{}, nil)
		_, err := r.LoadOne(plugin.HandshakeRequest{}, f)
		Expect(err).NotTo(HaveOccurred())
	})

	It("resolves a required dependency admitted in an earlier pass via LoadAll", func() {
		plugin.RegisterFactory(factoryOf(plugin.HandshakeResponse{
			ID: "sentinel.pii-" + "test", Category: plugin.CategoryGovernance, ReadyState: plugin.Ready,
			Dependencies: []plugin.Dependency{{ID: "keystore.main", Optional: false}},
		}, &fakeBackend{}, nil))
		plugin.RegisterFactory(factoryOf(plugin.HandshakeResponse{
			ID: "keystore.main", Category: plugin.CategoryFeature, ReadyState: plugin.Ready,
		}, &fakeBackend{}, nil))

		admitted, failed := r.LoadAll(plugin.HandshakeRequest{KernelID: "k1"})
		Expect(len(failed)).To(Equal(0))
		Expect(len(admitted)).To(BeNumerically(">=", 1))
	})

	It("looks plugins up by interface with GetPlugins", func() {
		f := factoryOf(plugin.HandshakeResponse{
			ID: "store.local", Category: plugin.CategoryStorage,
			Interfaces: []string{"store.Backend"}, CapabilityIDs: []string{"file"}, ReadyState: plugin.Ready,
		}, &fakeBackend{name: "local"}, nil)
		_, err := r.LoadOne(plugin.HandshakeRequest{}, f)
		Expect(err).NotTo(HaveOccurred())

		backends := plugin.GetPlugins[*fakeBackend](r, "store.Backend")
		Expect(backends).To(HaveLen(1))
		Expect(backends[0].name).To(Equal("local"))

		_, ok := plugin.GetPlugin[*fakeBackend](r, "does-not-exist")
		Expect(ok).To(BeFalse())
	})

	It("rejects a second handshake for an already-registered ID", func() {
		f := factoryOf(plugin.HandshakeResponse{ID: "dup", Category: plugin.CategoryFeature, ReadyState: plugin.Ready}, &fakeBackend{}, nil)
		_, err := r.LoadOne(plugin.HandshakeRequest{}, f)
		Expect(err).NotTo(HaveOccurred())
		_, err = r.LoadOne(plugin.HandshakeRequest{}, f)
		Expect(err).To(HaveOccurred())
	})

	It("propagates a handshake-level error", func() {
		f := factoryOf(plugin.HandshakeResponse{ID: "broken"}, nil, errors.New("boom"))
		_, err := r.LoadOne(plugin.HandshakeRequest{}, f)
		Expect(err).To(HaveOccurred())
	})
})
