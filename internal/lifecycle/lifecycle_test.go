package lifecycle

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/operolabs/browserstation/internal/authtoken"
	"github.com/operolabs/browserstation/internal/placement"
	"github.com/operolabs/browserstation/internal/registry"
)

type fakeHandle struct {
	name  string
	addr  string
	state placement.State
}

func (h *fakeHandle) Name() string { return h.name }
func (h *fakeHandle) Addr(ctx context.Context) (string, bool, error) {
	return h.addr, h.addr != "", nil
}
func (h *fakeHandle) State(ctx context.Context) (placement.State, error) { return h.state, nil }

type fakeRuntime struct {
	healthy bool
	actors  map[string]*fakeHandle
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{healthy: true, actors: map[string]*fakeHandle{}}
}

func (r *fakeRuntime) Init(ctx context.Context) error  { return nil }
func (r *fakeRuntime) Healthy(ctx context.Context) bool { return r.healthy }
func (r *fakeRuntime) CreateActor(ctx context.Context, name string, cpus float64) (placement.Handle, error) {
	h := &fakeHandle{name: name, addr: "10.0.0.1:9222", state: placement.StateAlive}
	r.actors[name] = h
	return h, nil
}
func (r *fakeRuntime) Lookup(ctx context.Context, name string) (placement.Handle, error) {
	h, ok := r.actors[name]
	if !ok {
		return nil, placement.ErrNotFound
	}
	return h, nil
}
func (r *fakeRuntime) ListByState(ctx context.Context, state placement.State) ([]placement.Descriptor, error) {
	var out []placement.Descriptor
	for _, h := range r.actors {
		if h.state == state {
			out = append(out, placement.Descriptor{Name: h.name, State: h.state})
		}
	}
	return out, nil
}
func (r *fakeRuntime) Kill(ctx context.Context, name string) error {
	if _, ok := r.actors[name]; !ok {
		return placement.ErrNotFound
	}
	delete(r.actors, name)
	return nil
}
func (r *fakeRuntime) ClusterResources(ctx context.Context) (map[string]float64, map[string]float64, error) {
	return map[string]float64{"cpu": 8}, map[string]float64{"cpu": 4}, nil
}

func newService(rt *fakeRuntime, tokens *authtoken.Signer) *Service {
	return New(rt, registry.New(rt), tokens)
}

func TestCreateBrowser_UniqueIDs(t *testing.T) {
	rt := newFakeRuntime()
	svc := newService(rt, nil)

	a, err := svc.CreateBrowser(context.Background())
	if err != nil {
		t.Fatalf("CreateBrowser: %v", err)
	}
	b, err := svc.CreateBrowser(context.Background())
	if err != nil {
		t.Fatalf("CreateBrowser: %v", err)
	}
	if a.BrowserID == b.BrowserID {
		t.Fatalf("expected distinct browser IDs")
	}
	if a.ProxyURL != "/ws/browsers/"+a.BrowserID+"/devtools/browser" {
		t.Fatalf("unexpected proxy url %q", a.ProxyURL)
	}
}

func TestCreateBrowser_WithSignerIncludesToken(t *testing.T) {
	rt := newFakeRuntime()
	svc := newService(rt, authtoken.NewSigner("secret", 0))

	info, err := svc.CreateBrowser(context.Background())
	if err != nil {
		t.Fatalf("CreateBrowser: %v", err)
	}
	if !strings.Contains(info.ProxyURL, "?token=") {
		t.Fatalf("expected signed token in proxy url, got %q", info.ProxyURL)
	}
}

func TestGetBrowser_AfterCreate_NoNotFound(t *testing.T) {
	rt := newFakeRuntime()
	svc := newService(rt, nil)

	created, err := svc.CreateBrowser(context.Background())
	if err != nil {
		t.Fatalf("CreateBrowser: %v", err)
	}
	if _, err := svc.GetBrowser(context.Background(), created.BrowserID); err != nil {
		t.Fatalf("expected no error immediately after create, got %v", err)
	}
}

func TestGetBrowser_UnknownIsNotFound(t *testing.T) {
	rt := newFakeRuntime()
	svc := newService(rt, nil)

	if _, err := svc.GetBrowser(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteBrowser_UnknownIsNotFound(t *testing.T) {
	rt := newFakeRuntime()
	svc := newService(rt, nil)

	if _, err := svc.DeleteBrowser(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteBrowser_ThenGet404s(t *testing.T) {
	rt := newFakeRuntime()
	svc := newService(rt, nil)

	created, _ := svc.CreateBrowser(context.Background())
	status, err := svc.DeleteBrowser(context.Background(), created.BrowserID)
	if err != nil {
		t.Fatalf("DeleteBrowser: %v", err)
	}
	if status.Status != "closed" {
		t.Fatalf("unexpected status %q", status.Status)
	}
	if _, err := svc.GetBrowser(context.Background(), created.BrowserID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestHealth_UnhealthyRuntimeFails(t *testing.T) {
	rt := newFakeRuntime()
	rt.healthy = false
	svc := newService(rt, nil)

	if _, err := svc.Health(context.Background()); !errors.Is(err, ErrUnhealthy) {
		t.Fatalf("expected ErrUnhealthy, got %v", err)
	}
}

func TestHealth_ReportsClusterResources(t *testing.T) {
	rt := newFakeRuntime()
	svc := newService(rt, nil)

	health, err := svc.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Cluster["cpu"] != 8 || health.Available["cpu"] != 4 {
		t.Fatalf("unexpected cluster resources: %+v", health)
	}
}

func TestListBrowsers_NoActorsGivesEmptySliceNotNil(t *testing.T) {
	rt := newFakeRuntime()
	svc := newService(rt, nil)

	list, err := svc.ListBrowsers(context.Background())
	if err != nil {
		t.Fatalf("ListBrowsers: %v", err)
	}
	if list.Browsers == nil {
		t.Fatalf("expected empty slice, not nil")
	}
}
