package cmg

import "testing"

func TestStateTransitions(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{Uninitialized, Initializing, true},
		{Uninitialized, Validated, false},
		{Initializing, Validated, true},
		{Initializing, Uninitialized, true},
		{Initializing, Stopping, true},
		{Validated, Ready, true},
		{Validated, Uninitialized, false},
		{Ready, Stopping, true},
		{Ready, Uninitialized, false},
		{Stopping, Initializing, false},
		{Stopping, Stopping, true},
	}
	for _, c := range cases {
		if got := c.from.canTransitionTo(c.to); got != c.want {
			t.Errorf("%s -> %s: got %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestStateString(t *testing.T) {
	if Ready.String() != "Ready" {
		t.Errorf("got %q", Ready.String())
	}
	if State(99).String() != "Unknown" {
		t.Errorf("got %q", State(99).String())
	}
}
