// Package localrt implements a single-machine Placement Runtime backend for
// development and testing: actors are real (or, in tests, fake) child
// processes tracked in an in-memory map guarded by a mutex, mirroring the
// teacher's ecs-controller process-supervision pattern adapted away from AWS
// and onto os/exec.
package localrt

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"sync"
	"time"

	"github.com/operolabs/browserstation/internal/cdp"
	"github.com/operolabs/browserstation/internal/logging"
	"github.com/operolabs/browserstation/internal/placement"
)

// DefaultChromeBinary is used when no override is configured.
const DefaultChromeBinary = "google-chrome"

// basePort is the first loopback port handed out to a spawned Chrome. Each
// subsequent actor gets the next port, so many actors can coexist on one
// machine despite Chrome's single fixed debugging port in production.
const basePort = 9300

// readyPollInterval and readyTimeout bound how long CreateActor's background
// reconciliation goroutine waits for a freshly spawned Chrome to answer its
// discovery endpoint before giving up and marking the actor DEAD.
const (
	readyPollInterval = 200 * time.Millisecond
	readyTimeout      = 15 * time.Second
)

type entry struct {
	mu    sync.Mutex
	name  string
	addr  string
	state placement.State
	cmd   *exec.Cmd
}

// Runtime is the local, in-memory Placement Runtime backend.
type Runtime struct {
	chromeBinary string
	discovery    *cdp.Client

	mu       sync.RWMutex
	actors   map[string]*entry
	nextPort int

	// spawn launches a Chrome process listening for CDP on addr; tests
	// substitute a fake that never actually execs Chrome.
	spawn func(addr string) (*exec.Cmd, error)
}

// Option configures a Runtime at construction.
type Option func(*Runtime)

// WithChromeBinary overrides the Chrome executable path.
func WithChromeBinary(path string) Option {
	return func(r *Runtime) { r.chromeBinary = path }
}

// WithSpawner overrides how Chrome processes are launched; used by tests to
// avoid depending on a real Chrome binary being present.
func WithSpawner(spawn func(addr string) (*exec.Cmd, error)) Option {
	return func(r *Runtime) { r.spawn = spawn }
}

// New constructs a local Runtime.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		chromeBinary: DefaultChromeBinary,
		discovery:    cdp.NewClient(),
		actors:       make(map[string]*entry),
		nextPort:     basePort,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.spawn == nil {
		r.spawn = r.execChrome
	}
	return r
}

// Init is a no-op for the local backend: there is no remote cluster to dial.
func (r *Runtime) Init(ctx context.Context) error {
	return nil
}

// Healthy always reports true once constructed; the local backend has no
// external dependency that can become unreachable.
func (r *Runtime) Healthy(ctx context.Context) bool {
	return true
}

func (r *Runtime) execChrome(addr string) (*exec.Cmd, error) {
	cmd := exec.Command(r.chromeBinary,
		"--headless=new",
		"--no-sandbox",
		"--disable-gpu",
		"--remote-debugging-address="+hostOf(addr),
		"--remote-debugging-port="+portOf(addr),
	)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("localrt: start chrome: %w", err)
	}
	return cmd, nil
}

// CreateActor allocates the next loopback port, starts a Chrome process
// bound to it, and returns a handle in PENDING state. A background
// goroutine polls discovery until Chrome answers, then flips the actor to
// ALIVE; if Chrome has not answered within readyTimeout, the actor is marked
// DEAD. The process itself is not watched, so an exit is only noticed through
// that timeout. cpus is not applied.
func (r *Runtime) CreateActor(ctx context.Context, name string, cpus float64) (placement.Handle, error) {
	r.mu.Lock()
	if _, exists := r.actors[name]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("localrt: actor %q already exists", name)
	}
	port := r.nextPort
	r.nextPort++
	r.mu.Unlock()

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	cmd, err := r.spawn(addr)
	if err != nil {
		return nil, err
	}

	e := &entry{name: name, addr: addr, state: placement.StatePending, cmd: cmd}

	r.mu.Lock()
	r.actors[name] = e
	r.mu.Unlock()

	logging.ActorCreated(name, addr)
	go r.reconcile(e)

	return &handle{e: e}, nil
}

func (r *Runtime) reconcile(e *entry) {
	deadline := time.Now().Add(readyTimeout)
	for time.Now().Before(deadline) {
		if _, ok := r.discovery.FetchWS(context.Background(), e.addr, 0); ok {
			e.mu.Lock()
			e.state = placement.StateAlive
			e.mu.Unlock()
			logging.ActorReady(e.name, e.addr)
			return
		}
		time.Sleep(readyPollInterval)
	}
	e.mu.Lock()
	e.state = placement.StateDead
	e.mu.Unlock()
	logging.ActorError(e.name, "chrome never became ready within timeout")
}

// Lookup returns the existing actor handle for name.
func (r *Runtime) Lookup(ctx context.Context, name string) (placement.Handle, error) {
	r.mu.RLock()
	e, ok := r.actors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, placement.ErrNotFound
	}
	return &handle{e: e}, nil
}

// ListByState enumerates actors currently in the given state.
func (r *Runtime) ListByState(ctx context.Context, state placement.State) ([]placement.Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []placement.Descriptor
	for _, e := range r.actors {
		e.mu.Lock()
		s := e.state
		e.mu.Unlock()
		if s == state {
			out = append(out, placement.Descriptor{Name: e.name, State: s})
		}
	}
	return out, nil
}

// Kill terminates the actor's Chrome process and removes it from the map.
func (r *Runtime) Kill(ctx context.Context, name string) error {
	r.mu.Lock()
	e, ok := r.actors[name]
	if ok {
		delete(r.actors, name)
	}
	r.mu.Unlock()
	if !ok {
		return placement.ErrNotFound
	}

	e.mu.Lock()
	e.state = placement.StateDead
	cmd := e.cmd
	e.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	logging.ActorTerminated(name)
	return nil
}

// ClusterResources always reports empty, never nil, maps: a single machine
// running a development backend has no cluster capacity-provider to query.
func (r *Runtime) ClusterResources(ctx context.Context) (map[string]float64, map[string]float64, error) {
	return map[string]float64{}, map[string]float64{}, nil
}

type handle struct {
	e *entry
}

func (h *handle) Name() string { return h.e.name }

// Addr returns the actor's loopback address, which is known from the moment
// CreateActor returns — the local backend assigns ports eagerly rather than
// discovering them asynchronously the way the ECS backend must.
func (h *handle) Addr(ctx context.Context) (string, bool, error) {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	if h.e.state == placement.StateDead {
		return "", false, nil
	}
	return h.e.addr, true, nil
}

func (h *handle) State(ctx context.Context) (placement.State, error) {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	return h.e.state, nil
}

func hostOf(addr string) string {
	if h, _, err := net.SplitHostPort(addr); err == nil {
		return h
	}
	return addr
}

func portOf(addr string) string {
	if _, p, err := net.SplitHostPort(addr); err == nil {
		return p
	}
	return ""
}
