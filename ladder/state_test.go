package ladder

import "testing"

func TestNext(t *testing.T) {
	tests := []struct {
		from    State
		event   Event
		want    State
		wantErr bool
	}{
		{StateInit, EventStart, StateDirect, false},
		{StateDirect, EventSucceeded, StateSucceeded, false},
		{StateDirect, EventUnreachable, StateFailed, false},
		{StateDirect, EventExhausted, StateSSLBypass, false},
		{StateSSLBypass, EventSucceeded, StateSucceeded, false},
		{StateSSLBypass, EventProxyNeeded, StateProxy, false},
		{StateSSLBypass, EventExhausted, StateFailed, false},
		{StateProxy, EventSucceeded, StateSucceeded, false},
		{StateProxy, EventExhausted, StateFailed, false},

		{StateDirect, EventProxyNeeded, StateDirect, true},
		{StateProxy, EventProxyNeeded, StateProxy, true},
		{StateSucceeded, EventStart, StateSucceeded, true},
		{StateFailed, EventExhausted, StateFailed, true},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+tt.event.String(), func(t *testing.T) {
			got, err := Next(tt.from, tt.event)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Next = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDirectVerdict(t *testing.T) {
	tests := []struct {
		name    string
		classes []Class
		want    Event
	}{
		{"no failures", nil, EventSucceeded},
		{"all dns", []Class{ClassDNS}, EventUnreachable},
		{"all timeout", []Class{ClassTimeout, ClassTimeout}, EventUnreachable},
		{"dns and timeout", []Class{ClassDNS, ClassTimeout}, EventUnreachable},
		{"certificate", []Class{ClassCertificate}, EventExhausted},
		{"mixed", []Class{ClassDNS, ClassOther}, EventExhausted},
		{"closed", []Class{ClassConnectionClosed}, EventExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DirectVerdict(tt.classes); got != tt.want {
				t.Errorf("DirectVerdict = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBypassVerdict(t *testing.T) {
	if BypassVerdict(true, true) != EventProxyNeeded {
		t.Error("proxy needed and available should escalate")
	}
	if BypassVerdict(true, false) != EventExhausted {
		t.Error("unavailable proxy should fail")
	}
	if BypassVerdict(false, true) != EventExhausted {
		t.Error("no proxy-worthy error should fail")
	}
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateInit, StateDirect, StateSSLBypass, StateProxy} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	if !StateSucceeded.Terminal() || !StateFailed.Terminal() {
		t.Error("succeeded and failed are terminal")
	}
}
