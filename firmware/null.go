package firmware

import (
	"log/slog"

	"wlfw/power"
)

// nullUser names who queued a null-data frame.
type nullUser uint8

const (
	nullPower nullUser = iota
	nullCoex

	numNullUsers
)

func (u nullUser) String() string {
	if u == nullCoex {
		return "coex"
	}
	return "power"
}

// nullPath shares the MAC null-data engine between the power controller
// and the coex scheduler. One frame is in flight at a time; each user may
// queue one more (the latest PM bit wins) and the TX status goes back only
// to the user whose frame it was.
type nullPath struct {
	tx power.NullSender

	inflight bool
	owner    nullUser
	pm       bool

	queued [numNullUsers]bool
	qpm    [numNullUsers]bool
}

func (p *nullPath) reset() {
	tx := p.tx
	*p = nullPath{tx: tx}
}

func (p *nullPath) send(u nullUser, pm bool) error {
	if p.tx == nil {
		return nil
	}
	if p.inflight {
		p.queued[u], p.qpm[u] = true, pm
		return nil
	}
	if err := p.tx.SendNull(pm); err != nil {
		return err
	}
	p.inflight, p.owner, p.pm = true, u, pm
	return nil
}

// done consumes the TX status of the frame in flight. ok is false for a
// status nobody waits for.
func (p *nullPath) done() (u nullUser, pm, ok bool) {
	if !p.inflight {
		return 0, false, false
	}
	p.inflight = false
	return p.owner, p.pm, true
}

// next starts the queued frame, power first. A frame the engine refuses
// is returned with the error so its user can react.
func (p *nullPath) next() (u nullUser, pm bool, err error) {
	for u = nullPower; u < numNullUsers; u++ {
		if !p.queued[u] {
			continue
		}
		p.queued[u] = false
		pm = p.qpm[u]
		return u, pm, p.send(u, pm)
	}
	return 0, false, nil
}

// nullPort is the NullSender handed to one user.
type nullPort struct {
	path *nullPath
	user nullUser
}

func (n nullPort) SendNull(pm bool) error { return n.path.send(n.user, pm) }

// nullStatus routes the TX status of the frame in flight. Only the doze
// announce drives the power state machine; wake frames and coex frames
// are traced.
func (c *Context) nullStatus(acked bool) {
	u, pm, ok := c.null.done()
	switch {
	case !ok:
		c.warn("null status without frame", slog.Bool("acked", acked))
	case u == nullPower && pm:
		kind := power.EvNullFail
		if acked {
			kind = power.EvNullAck
		}
		c.power.Handle(power.Event{Kind: kind})
	default:
		c.debug("null status", slog.String("user", u.String()), slog.Bool("pm", pm), slog.Bool("acked", acked))
	}
	for {
		u, pm, err := c.null.next()
		if err == nil {
			return
		}
		c.warn("null refused", slog.String("user", u.String()), slog.String("err", err.Error()))
		if u == nullPower && pm {
			c.power.Handle(power.Event{Kind: power.EvNullFail})
		}
	}
}
