// Package ladder drives one target through the retry rungs: direct
// navigation, certificate-bypass navigation and proxied navigation.
package ladder

import "fmt"

// State is a position in the ladder.
type State int

const (
	StateInit State = iota
	StateDirect
	StateSSLBypass
	StateProxy
	StateSucceeded
	StateFailed
)

var stateNames = [...]string{
	StateInit:      "init",
	StateDirect:    "direct",
	StateSSLBypass: "ssl-bypass",
	StateProxy:     "proxy",
	StateSucceeded: "succeeded",
	StateFailed:    "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Event is the verdict of a rung that moves the ladder on.
type Event int

const (
	// EventStart begins the ladder.
	EventStart Event = iota
	// EventSucceeded means an attempt of the rung navigated and extracted.
	EventSucceeded
	// EventExhausted means every attempt of the rung failed.
	EventExhausted
	// EventUnreachable means every direct attempt failed with a DNS or
	// connection-timeout error, which a certificate bypass cannot fix.
	EventUnreachable
	// EventProxyNeeded means the bypass rung failed with a proxy-worthy error.
	EventProxyNeeded
)

var eventNames = [...]string{
	EventStart:       "start",
	EventSucceeded:   "succeeded",
	EventExhausted:   "exhausted",
	EventUnreachable: "unreachable",
	EventProxyNeeded: "proxy-needed",
}

func (e Event) String() string {
	if e < 0 || int(e) >= len(eventNames) {
		return fmt.Sprintf("event(%d)", int(e))
	}
	return eventNames[e]
}

type transition struct {
	from  State
	event Event
}

// transitions is the complete ladder. Any pair not listed is invalid.
var transitions = map[transition]State{
	{StateInit, EventStart}: StateDirect,

	{StateDirect, EventSucceeded}:   StateSucceeded,
	{StateDirect, EventUnreachable}: StateFailed,
	{StateDirect, EventExhausted}:   StateSSLBypass,

	{StateSSLBypass, EventSucceeded}:   StateSucceeded,
	{StateSSLBypass, EventProxyNeeded}: StateProxy,
	{StateSSLBypass, EventExhausted}:   StateFailed,

	{StateProxy, EventSucceeded}: StateSucceeded,
	{StateProxy, EventExhausted}: StateFailed,
}

// Next returns the state reached from s on event e.
func Next(s State, e Event) (State, error) {
	to, ok := transitions[transition{s, e}]
	if !ok {
		return s, fmt.Errorf("ladder: no transition from %s on %s", s, e)
	}
	return to, nil
}

// DirectVerdict decides how the direct rung ends given the class of each
// failed attempt. An empty slice is treated as a success.
func DirectVerdict(failures []Class) Event {
	if len(failures) == 0 {
		return EventSucceeded
	}
	for _, c := range failures {
		if c != ClassDNS && c != ClassTimeout {
			return EventExhausted
		}
	}
	return EventUnreachable
}

// BypassVerdict decides how the bypass rung ends after every attempt failed.
func BypassVerdict(proxyNeeded, proxyAvailable bool) Event {
	if proxyNeeded && proxyAvailable {
		return EventProxyNeeded
	}
	return EventExhausted
}
