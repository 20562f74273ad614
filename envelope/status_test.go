package envelope

import "testing"

func TestApplyTransition_Monotonic(t *testing.T) {
	cases := []struct {
		current, next Status
		want          Status
		wantChanged   bool
	}{
		{StatusSent, StatusViewed, StatusViewed, true},
		{StatusSent, StatusCompleted, StatusCompleted, true},
		{StatusViewed, StatusSent, StatusViewed, false},
		{StatusPartiallySigned, StatusViewed, StatusPartiallySigned, false},
		{StatusCompleted, StatusSent, StatusCompleted, false},
		{StatusSent, StatusSent, StatusSent, false},
		{StatusPartiallySigned, StatusPartiallySigned, StatusPartiallySigned, false},
	}
	for _, tc := range cases {
		got, changed := ApplyTransition(tc.current, tc.next)
		if got != tc.want || changed != tc.wantChanged {
			t.Errorf("ApplyTransition(%s, %s) = (%s, %v), want (%s, %v)",
				tc.current, tc.next, got, changed, tc.want, tc.wantChanged)
		}
	}
}

func TestApplyTransition_CompletedIsFinal(t *testing.T) {
	for _, next := range []Status{StatusDeclined, StatusVoided, StatusError, StatusSent, StatusViewed} {
		got, changed := ApplyTransition(StatusCompleted, next)
		if changed || got != StatusCompleted {
			t.Errorf("COMPLETED must not be overwritten by %s, got (%s, %v)", next, got, changed)
		}
	}
}

func TestApplyTransition_TerminalCorrection(t *testing.T) {
	// A provider correcting a non-completed terminal is allowed.
	got, changed := ApplyTransition(StatusDeclined, StatusVoided)
	if !changed || got != StatusVoided {
		t.Errorf("expected DECLINED -> VOIDED correction, got (%s, %v)", got, changed)
	}
	got, changed = ApplyTransition(StatusError, StatusCompleted)
	if !changed || got != StatusCompleted {
		t.Errorf("expected ERROR -> COMPLETED correction, got (%s, %v)", got, changed)
	}
}

func TestApplyTransition_UnknownStatusRejected(t *testing.T) {
	got, changed := ApplyTransition(StatusSent, Status("SHIPPED"))
	if changed || got != StatusSent {
		t.Errorf("unknown status must never apply, got (%s, %v)", got, changed)
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusDeclined, StatusVoided, StatusError} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusSent, StatusViewed, StatusPartiallySigned} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
