// Package logging provides the structured, JSON-event lifecycle logging used
// across the Placement Runtime backends and the WebSocket Proxy, adapted from
// the teacher's session-event logger onto browser/actor lifecycle events.
package logging

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// structured toggles JSON-event logging; set once at package init from
// BROWSERSTATION_STRUCTURED_LOGGING, which defaults to enabled.
var structured = os.Getenv("BROWSERSTATION_STRUCTURED_LOGGING") != "false"

// Event is one structured lifecycle log line.
type Event struct {
	Timestamp string `json:"timestamp"`
	EventType string `json:"event_type"`
	BrowserID string `json:"browser_id"`
	Addr      string `json:"addr,omitempty"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
}

func emit(e Event) {
	e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	if !structured {
		log.Printf("[%s] browser_id=%s addr=%s error=%s msg=%s", e.EventType, e.BrowserID, e.Addr, e.Error, e.Message)
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		log.Printf("logging: marshal event: %v", err)
		return
	}
	log.Println(string(data))
}

// ActorCreated logs that the Placement Runtime accepted a new actor and
// assigned it a worker address.
func ActorCreated(browserID, addr string) {
	emit(Event{EventType: "actor_created", BrowserID: browserID, Addr: addr})
}

// ActorReady logs that an actor's Chrome process answered its discovery
// endpoint for the first time.
func ActorReady(browserID, addr string) {
	emit(Event{EventType: "actor_ready", BrowserID: browserID, Addr: addr})
}

// ActorTerminated logs that an actor was killed, whether by explicit delete
// or by the Placement Runtime reclaiming it.
func ActorTerminated(browserID string) {
	emit(Event{EventType: "actor_terminated", BrowserID: browserID})
}

// ActorError logs a non-fatal lifecycle error attributable to one actor.
func ActorError(browserID, message string) {
	emit(Event{EventType: "actor_error", BrowserID: browserID, Message: message})
}

// RequestError logs an error surfaced to an HTTP or WebSocket caller, at the
// boundary that turns it into a status code or close code — never re-logged
// at intermediate call sites.
func RequestError(browserID, operation string, err error) {
	emit(Event{EventType: "request_error", BrowserID: browserID, Message: operation, Error: err.Error()})
}
