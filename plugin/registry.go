package plugin

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/golang/glog"
)

// Registry is the kernel's single plugin table (spec §4.5). All methods
// are safe for concurrent use; readers take a snapshot under RLock so a
// GetPlugins[T] call never observes a torn slice mid-Load.
type Registry struct {
	mu         sync.RWMutex
	byID       map[string]*Plugin
	byIface    map[string][]*Plugin // interface tag -> plugins, registration order
	capClaimed map[string]string    // capability ID -> owning plugin ID
}

func NewRegistry() *Registry {
	return &Registry{
		byID:       make(map[string]*Plugin),
		byIface:    make(map[string][]*Plugin),
		capClaimed: make(map[string]string),
	}
}

// factories is the explicit registration manifest: RegisterFactory is
// called from package init() functions the way fs.RegisterContentType is
// in the teacher, so Load can run handshakes without touching a plugin
// directory on disk.
var (
	factoriesMu sync.Mutex
	factories   []Factory
)

// RegisterFactory appends f to the global manifest. Call from init().
func RegisterFactory(f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories = append(factories, f)
}

// registeredFactories returns a stable-ordered snapshot of the manifest.
func registeredFactories() []Factory {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	out := make([]Factory, len(factories))
	copy(out, factories)
	return out
}

// LoadAll runs the handshake against every registered Factory, admitting
// each plugin whose dependencies resolve, and retrying once per pass to
// let forward-declared dependencies settle (teacher's ais/earlystart.go
// does a similar two-pass bring-up for backend providers). Plugins that
// never resolve are reported, not silently dropped.
func (r *Registry) LoadAll(req HandshakeRequest) (admitted []string, failed map[string]error) {
	failed = make(map[string]error)
	pending := registeredFactories()
	for pass := 0; pass < 2 && len(pending) > 0; pass++ {
		var next []Factory
		for _, f := range pending {
			id, err := r.LoadOne(req, f)
			if err != nil {
				failed[id] = err
				next = append(next, f)
				continue
			}
			admitted = append(admitted, id)
			delete(failed, id)
		}
		pending = next
	}
	return admitted, failed
}

// LoadOne runs the handshake for a single factory against the current
// registry state and admits it on success.
func (r *Registry) LoadOne(req HandshakeRequest, f Factory) (string, error) {
	req.AlreadyLoaded = r.ids()
	resp, instance, err := f.Handshake(req)
	if err != nil {
		return resp.ID, fmt.Errorf("handshake failed: %w", err)
	}
	if err := r.admit(resp, instance); err != nil {
		return resp.ID, err
	}
	glog.Infof("plugin: admitted %s (%s) category=%s caps=%v", resp.ID, resp.Version, resp.Category, resp.CapabilityIDs)
	return resp.ID, nil
}

func (r *Registry) admit(resp HandshakeResponse, instance interface{}) error {
	if strings.TrimSpace(resp.ID) == "" || strings.ContainsAny(resp.ID, " \t\n") {
		return fmt.Errorf("plugin: invalid id %q", resp.ID)
	}
	if !resp.Category.Valid() {
		return fmt.Errorf("plugin %s: invalid category %q", resp.ID, resp.Category)
	}
	if !resp.ReadyState.Admissible() {
		return fmt.Errorf("plugin %s: not admissible, readyState=%s", resp.ID, resp.ReadyState)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[resp.ID]; exists {
		return fmt.Errorf("plugin %s: already registered", resp.ID)
	}
	for _, dep := range resp.Dependencies {
		if _, ok := r.byID[dep.ID]; !ok && !dep.Optional {
			return fmt.Errorf("plugin %s: required dependency %s not loaded", resp.ID, dep.ID)
		}
	}
	for _, capID := range resp.CapabilityIDs {
		if owner, claimed := r.capClaimed[capID]; claimed {
			return fmt.Errorf("plugin %s: capability %q already claimed by %s", resp.ID, capID, owner)
		}
	}

	p := &Plugin{
		ID:            resp.ID,
		Name:          resp.Name,
		Version:       resp.Version,
		Category:      resp.Category,
		Interfaces:    append([]string(nil), resp.Interfaces...),
		CapabilityIDs: append([]string(nil), resp.CapabilityIDs...),
		Instance:      instance,
		ReadyState:    resp.ReadyState,
	}
	r.byID[p.ID] = p
	for _, iface := range p.Interfaces {
		r.byIface[iface] = append(r.byIface[iface], p)
	}
	for _, capID := range p.CapabilityIDs {
		r.capClaimed[capID] = p.ID
	}
	return nil
}

func (r *Registry) ids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byID))
	for id := range r.byID {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Get returns the raw Plugin record by ID.
func (r *Registry) Get(id string) (*Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	return p, ok
}

// All returns every admitted plugin, sorted by ID for deterministic iteration.
func (r *Registry) All() []*Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Plugin, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetPlugin type-asserts the named plugin's instance to T.
func GetPlugin[T any](r *Registry, id string) (T, bool) {
	var zero T
	p, ok := r.Get(id)
	if !ok {
		return zero, false
	}
	t, ok := p.Instance.(T)
	return t, ok
}

// GetPlugins returns every admitted plugin instance satisfying T,
// advertised under iface, in registration order. iface is conventionally
// the interface's package-qualified name (e.g. "store.Backend").
func GetPlugins[T any](r *Registry, iface string) []T {
	r.mu.RLock()
	candidates := append([]*Plugin(nil), r.byIface[iface]...)
	r.mu.RUnlock()

	out := make([]T, 0, len(candidates))
	for _, p := range candidates {
		if t, ok := p.Instance.(T); ok {
			out = append(out, t)
		}
	}
	return out
}
