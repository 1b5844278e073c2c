package peersync

import "testing"

func TestStep(t *testing.T) {
	cases := []struct {
		from ConnState
		ev   EventKind
		to   ConnState
		eff  Effect
	}{
		{Absent, EvDial, Dialing, 0},
		{Absent, EvAccept, Accepting, 0},
		{Absent, EvData, Absent, 0},

		{Dialing, EvOpen, Open, EffectPersist | EffectResolve},
		{Dialing, EvData, Dialing, 0},
		{Dialing, EvClose, Closed, EffectReject | EffectDrop},
		{Dialing, EvError, Closed, EffectReject | EffectDrop},
		{Dialing, EvTimeout, Closed, EffectReject | EffectClose | EffectDrop},
		{Dialing, EvRemove, Closed, EffectReject | EffectClose | EffectDrop},

		{Accepting, EvOpen, Open, EffectPersist | EffectJoinSync},
		{Accepting, EvError, Closed, EffectReject | EffectDrop},

		{Open, EvData, Open, EffectDeliver},
		{Open, EvOpen, Open, 0},
		{Open, EvTimeout, Open, 0},
		{Open, EvClose, Closed, EffectDrop},
		{Open, EvError, Closed, EffectDrop},
		{Open, EvRemove, Closed, EffectClose | EffectDrop},

		{Closed, EvOpen, Closed, 0},
		{Closed, EvData, Closed, 0},
		{Closed, EvRemove, Closed, 0},
	}
	for _, c := range cases {
		to, eff := Step(c.from, c.ev)
		if to != c.to || eff != c.eff {
			t.Errorf("Step(%s, %s) = %s, %b; want %s, %b", c.from, c.ev, to, eff, c.to, c.eff)
		}
	}
}

func TestStep_OnlyOpenDelivers(t *testing.T) {
	for _, s := range []ConnState{Absent, Dialing, Accepting, Closed} {
		if _, eff := Step(s, EvData); eff.Has(EffectDeliver) {
			t.Errorf("Step(%s, data) delivers; only open connections may", s)
		}
	}
}

func TestStep_JoinSyncOnlyWhenAccepting(t *testing.T) {
	if _, eff := Step(Dialing, EvOpen); eff.Has(EffectJoinSync) {
		t.Error("dialer must not push its state on open")
	}
	if _, eff := Step(Accepting, EvOpen); !eff.Has(EffectJoinSync) {
		t.Error("acceptor must push its state on open")
	}
}

func TestConnState_Connecting(t *testing.T) {
	want := map[ConnState]bool{Absent: false, Dialing: true, Accepting: true, Open: false, Closed: false}
	for s, w := range want {
		if s.Connecting() != w {
			t.Errorf("%s.Connecting() = %v, want %v", s, s.Connecting(), w)
		}
	}
}
