package power

// action runs inside the transition, after the state has been chosen and
// before the radio registers are applied.
type action func(c *Controller, ev Event)

const (
	anyState  State = 0xff
	sameState State = 0xfe
)

type rule struct {
	from  State
	on    EventKind
	to    State
	act   action
	gated bool // voluntary transition, subject to the coexistence permit
}

type cell struct {
	to      State
	act     action
	gated   bool
	defined bool
}

// Table is the complete transition table: exactly one cell per
// (state, event) pair.
type Table [NumStates][NumEvents]cell

// TableError reports a rule list that does not yield a complete,
// deterministic table.
type TableError struct {
	State State
	Event EventKind
	Dup   bool
}

func (e *TableError) Error() string {
	if e.Dup {
		return "power: duplicate rule for " + e.State.String() + "/" + e.Event.String()
	}
	return "power: no rule for " + e.State.String() + "/" + e.Event.String()
}

func on(from State, ev EventKind, to State, act action) rule {
	return rule{from: from, on: ev, to: to, act: act}
}

func gated(from State, ev EventKind, to State, act action) rule {
	return rule{from: from, on: ev, to: to, act: act, gated: true}
}

// ignore makes ev a no-op in the given states.
func ignore(ev EventKind, states ...State) []rule {
	rs := make([]rule, len(states))
	for i, s := range states {
		rs[i] = rule{from: s, on: ev, to: sameState}
	}
	return rs
}

// buildTable places the specific rules first, then lets anyState rules
// fill the cells still empty, then checks that nothing is left undefined.
func buildTable(rules []rule) (*Table, error) {
	var t Table
	for _, r := range rules {
		if r.from == anyState {
			continue
		}
		c := &t[r.from][r.on]
		if c.defined {
			return nil, &TableError{State: r.from, Event: r.on, Dup: true}
		}
		*c = cell{to: r.to, act: r.act, gated: r.gated, defined: true}
	}
	for _, r := range rules {
		if r.from != anyState {
			continue
		}
		for s := State(0); s < NumStates; s++ {
			c := &t[s][r.on]
			if !c.defined {
				*c = cell{to: r.to, act: r.act, gated: r.gated, defined: true}
			}
		}
	}
	for s := State(0); s < NumStates; s++ {
		for e := EventKind(0); e < NumEvents; e++ {
			if !t[s][e].defined {
				return nil, &TableError{State: s, Event: e}
			}
		}
	}
	return &t, nil
}

// lookup returns the resolved destination of (s, e).
func (t *Table) lookup(s State, e EventKind) cell {
	c := t[s][e]
	if c.to == sameState {
		c.to = s
	}
	return c
}

var allStates = []State{
	StateActive, StateActiveNull, StateRFOnRetain, StateRFOnRetainNull,
	StateOff, StateScan, StateNoA,
}

func except(states ...State) []State {
	var out []State
	for _, s := range allStates {
		keep := true
		for _, x := range states {
			if s == x {
				keep = false
			}
		}
		if keep {
			out = append(out, s)
		}
	}
	return out
}

func transitionRules() []rule {
	rs := []rule{
		gated(StateActive, EvPSRequest, StateActiveNull, (*Controller).enterNull),
		on(anyState, EvPSLeave, StateActive, (*Controller).leave),

		on(StateActiveNull, EvNullAck, StateRFOnRetain, (*Controller).nullAcked),
		on(StateActiveNull, EvNullFail, sameState, (*Controller).resendNull),
		on(StateActiveNull, EvNullGiveUp, StateActive, (*Controller).nullGiveUp),

		gated(StateRFOnRetain, EvTxQueueEmpty, StateRFOnRetainNull, (*Controller).doze),
		on(StateRFOnRetainNull, EvTxPending, StateRFOnRetain, nil),
		on(StateOff, EvTxPending, StateRFOnRetain, (*Controller).urgentWake),
		gated(StateRFOnRetainNull, EvSleep, StateOff, nil),

		on(StateOff, EvBeaconEarly, StateRFOnRetain, (*Controller).wake),
		on(StateRFOnRetain, EvBeaconEarly, sameState, (*Controller).armTimeout),
		on(StateRFOnRetainNull, EvBeaconEarly, StateRFOnRetain, (*Controller).armTimeout),
		on(StateOff, EvUrgentWake, StateRFOnRetain, (*Controller).urgentWake),
		on(StateRFOnRetainNull, EvUrgentWake, StateRFOnRetain, nil),

		on(StateActive, EvBeaconRx, sameState, (*Controller).track),
		on(StateActiveNull, EvBeaconRx, sameState, (*Controller).track),
		on(StateScan, EvBeaconRx, sameState, (*Controller).track),
		on(StateRFOnRetain, EvBeaconRx, sameState, (*Controller).beaconRx),
		on(StateRFOnRetainNull, EvBeaconRx, StateRFOnRetain, (*Controller).beaconRx),
		on(StateRFOnRetain, EvBeaconMiss, sameState, (*Controller).beaconMiss),
		on(StateRFOnRetainNull, EvBeaconMiss, StateRFOnRetain, (*Controller).beaconMiss),
		on(anyState, EvBeaconLoss, StateActive, (*Controller).loss),

		on(StateRFOnRetain, EvBudgetExpired, StateActive, (*Controller).timingViolation),
		on(StateRFOnRetainNull, EvBudgetExpired, StateActive, (*Controller).timingViolation),

		on(StateScan, EvScanStart, sameState, nil),
		on(anyState, EvScanStart, StateScan, (*Controller).scanStart),
		on(StateScan, EvScanDone, StateActive, (*Controller).scanDone),
		on(StateActive, EvNoAStart, StateNoA, nil),
		on(StateNoA, EvNoAEnd, StateActive, nil),

		on(anyState, EvCoexSlot, sameState, (*Controller).replayDeferred),
	}

	rs = append(rs, ignore(EvPSRequest, except(StateActive)...)...)
	rs = append(rs, ignore(EvNullAck, except(StateActiveNull)...)...)
	rs = append(rs, ignore(EvNullFail, except(StateActiveNull)...)...)
	rs = append(rs, ignore(EvNullGiveUp, except(StateActiveNull)...)...)
	rs = append(rs, ignore(EvTxQueueEmpty, except(StateRFOnRetain)...)...)
	rs = append(rs, ignore(EvTxPending, except(StateRFOnRetainNull, StateOff)...)...)
	rs = append(rs, ignore(EvSleep, except(StateRFOnRetainNull)...)...)
	rs = append(rs, ignore(EvBeaconEarly, StateActive, StateActiveNull, StateScan, StateNoA)...)
	rs = append(rs, ignore(EvUrgentWake, except(StateOff, StateRFOnRetainNull)...)...)
	rs = append(rs, ignore(EvBeaconRx, StateOff, StateNoA)...)
	rs = append(rs, ignore(EvBeaconMiss, except(StateRFOnRetain, StateRFOnRetainNull)...)...)
	rs = append(rs, ignore(EvBudgetExpired, except(StateRFOnRetain, StateRFOnRetainNull)...)...)
	rs = append(rs, ignore(EvScanDone, except(StateScan)...)...)
	rs = append(rs, ignore(EvNoAStart, except(StateActive)...)...)
	rs = append(rs, ignore(EvNoAEnd, except(StateNoA)...)...)
	rs = append(rs, ignore(EvRFStable, allStates...)...)
	return rs
}

var defaultTable, defaultTableErr = buildTable(transitionRules())
