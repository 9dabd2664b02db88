// Package actor implements the Browser Actor (C2): a thin, addressable
// handle to one Chrome process on one worker, built directly on top of the
// CDP discovery client.
package actor

import (
	"context"
	"net"

	"github.com/operolabs/browserstation/internal/cdp"
	"github.com/operolabs/browserstation/internal/model"
)

// DiscoveryPort is the Chrome debugging port folded into every production
// pod_addr.
const DiscoveryPort = "9222"

// Actor is a handle with immutable fields BrowserID and PodAddr. It is not a
// separate OS process of the control plane; it is a value object obtained
// from the Placement Runtime on demand.
type Actor struct {
	BrowserID string
	PodAddr   string

	discovery *cdp.Client
	// port is the port token used to split the upstream CDP URL into a
	// public path suffix. It equals DiscoveryPort in production; the local
	// backend assigns a distinct loopback port per actor, which New derives
	// from PodAddr.
	port string
}

// New constructs an Actor. port defaults to the port embedded in podAddr, and
// falls back to DiscoveryPort when podAddr carries none. Production
// addresses are always "{ip}:9222"; the local backend assigns a distinct
// loopback port per actor, so deriving the port from podAddr itself (rather
// than hardcoding DiscoveryPort) keeps both backends correct without the
// caller needing to know which one is in play.
func New(browserID, podAddr, port string, discovery *cdp.Client) *Actor {
	if port == "" {
		if _, p, err := net.SplitHostPort(podAddr); err == nil && p != "" {
			port = p
		} else {
			port = DiscoveryPort
		}
	}
	if discovery == nil {
		discovery = cdp.NewClient()
	}
	return &Actor{BrowserID: browserID, PodAddr: podAddr, discovery: discovery, port: port}
}

// GetInfo resolves the actor's current CDP readiness via the discovery
// client and projects it into the wire-level BrowserInfo.
func (a *Actor) GetInfo(ctx context.Context) model.BrowserInfo {
	info := model.BrowserInfo{
		BrowserID: a.BrowserID,
		PodIP:     hostOf(a.PodAddr),
	}

	wsURL, ok := a.discovery.FetchWS(ctx, a.PodAddr, 0)
	if !ok {
		return info
	}

	suffix := cdp.PathSuffix(wsURL, a.port)
	path := "/ws/browsers/" + a.BrowserID + suffix
	info.WebsocketURL = &path
	info.ChromeReady = true
	return info
}

func hostOf(addr string) string {
	if h, _, err := net.SplitHostPort(addr); err == nil {
		return h
	}
	return addr
}
