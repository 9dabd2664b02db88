// Package placement defines the abstract cluster-scheduling collaborator
// that the core control plane consumes: creating, naming, finding, and
// killing Browser Actors, without the core ever knowing whether they run as
// child processes on one machine or as Fargate tasks across a cluster.
package placement

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Lookup when no actor is registered under the
// given name.
var ErrNotFound = errors.New("placement: actor not found")

// State mirrors model.ActorState without importing the model package, so
// that placement has no dependency on the HTTP-facing wire types.
type State string

const (
	StatePending State = "PENDING"
	StateAlive   State = "ALIVE"
	StateDead    State = "DEAD"
)

// Descriptor is the minimal projection the Registry needs to enumerate
// actors without resolving their full info.
type Descriptor struct {
	Name  string
	State State
}

// Handle is a location-transparent reference to one placed actor. Runtimes
// return a Handle from CreateActor and Lookup; the core never constructs one
// itself.
type Handle interface {
	// Name is the actor's name, i.e. the browser_id it was created with.
	Name() string
	// Addr returns the worker's "host:port" literal backing this actor and
	// whether the backend currently knows one. ok=false while no address has
	// been resolved yet (an ECS actor still PENDING) or once the actor is
	// DEAD; the local backend assigns addresses eagerly, so its PENDING
	// actors already return ok=true.
	Addr(ctx context.Context) (addr string, ok bool, err error)
	// State reports the actor's current lifecycle state.
	State(ctx context.Context) (State, error)
}

// Runtime is the abstract Placement Runtime collaborator (§6, §9c). Every
// method takes a context so that callers can bound or cancel cluster RPCs.
type Runtime interface {
	// Init prepares the runtime for use (e.g. verifying cluster
	// reachability). It is called exactly once at process startup.
	Init(ctx context.Context) error

	// Healthy reports whether the runtime can currently serve requests.
	Healthy(ctx context.Context) bool

	// CreateActor places a new actor named `name` and returns a handle to it.
	// cpus is the CPU reservation requested by the caller; neither the local
	// nor the ECS backend applies it. The actor starts in PENDING state.
	CreateActor(ctx context.Context, name string, cpus float64) (Handle, error)

	// Lookup resolves an existing actor by name. Returns ErrNotFound if
	// absent.
	Lookup(ctx context.Context, name string) (Handle, error)

	// ListByState enumerates all actors currently in the given state.
	ListByState(ctx context.Context, state State) ([]Descriptor, error)

	// Kill destroys the named actor. Returns ErrNotFound if absent.
	Kill(ctx context.Context, name string) error

	// ClusterResources reports total and currently-available cluster
	// resources, keyed by resource name (e.g. "CPU", "memory"). Backends
	// that cannot introspect this return empty (never nil) maps.
	ClusterResources(ctx context.Context) (total, available map[string]float64, err error)
}
