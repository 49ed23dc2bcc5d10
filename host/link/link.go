// Package link is the host's connection to the co-processor: it sends H2C
// commands, matches their mode echoes and fans C2H reports out to
// subscribers.
package link

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"wlfw/core"
	"wlfw/hostif"
	"wlfw/host/serial"
	"wlfw/protocol"
)

// DefaultTimeout bounds the wait for a mode echo.
const DefaultTimeout = time.Second

var (
	ErrNotConnected = errors.New("link: not connected")
	ErrUnknown      = errors.New("link: unknown command")
	ErrNoEcho       = errors.New("link: no mode echo")
)

// StatusError is a command the firmware answered with a non-OK status.
type StatusError struct {
	Op     hostif.Opcode
	Status uint8
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, statusName(e.Status))
}

func statusName(s uint8) string {
	switch s {
	case hostif.StatusOK:
		return "ok"
	case hostif.StatusRange:
		return "out of range"
	case hostif.StatusBusy:
		return "busy"
	case hostif.StatusRefused:
		return "refused"
	}
	return fmt.Sprintf("status %d", s)
}

// Link is a connection to one co-processor.
type Link struct {
	transport *protocol.HostTransport
	port      serial.Port
	timeout   time.Duration

	cmdMu sync.Mutex // one command in flight
	echo  chan hostif.Frame

	subMu   sync.Mutex
	subs    map[int]chan hostif.Frame
	nextSub int
	dropped uint64

	connected bool
}

// New returns an unconnected link.
func New() *Link {
	return &Link{
		timeout: DefaultTimeout,
		echo:    make(chan hostif.Frame, 4),
		subs:    make(map[int]chan hostif.Frame),
	}
}

// Connect opens a serial device at the default rate.
func (l *Link) Connect(device string) error {
	return l.ConnectWithConfig(serial.DefaultConfig(device))
}

// ConnectWithConfig opens a serial device.
func (l *Link) ConnectWithConfig(cfg *serial.Config) error {
	port, err := serial.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}
	l.Attach(port)
	return nil
}

// Attach runs the link over an already open port.
func (l *Link) Attach(port serial.Port) {
	l.port = port
	l.transport = protocol.NewHostTransport(port)
	l.transport.SetResponseHandler(l.handleReport)
	l.connected = true
}

// SetTimeout changes the mode echo timeout.
func (l *Link) SetTimeout(d time.Duration) { l.timeout = d }

// Close closes the connection.
func (l *Link) Close() error {
	if l.transport != nil {
		if err := l.transport.Close(); err != nil {
			return err
		}
	}
	l.connected = false
	return nil
}

// IsConnected returns whether the link is attached.
func (l *Link) IsConnected() bool { return l.connected }

func (l *Link) handleReport(rec hostif.Frame) {
	if glog.V(2) {
		glog.Infof("c2h %s", hostif.Describe(rec))
	}
	if rec.Op() == hostif.RptModeEcho {
		select {
		case l.echo <- rec:
		default:
			glog.Warningf("link: unexpected %s", hostif.Describe(rec))
		}
	}

	l.subMu.Lock()
	for _, ch := range l.subs {
		select {
		case ch <- rec:
		default:
			l.dropped++
		}
	}
	l.subMu.Unlock()
}

// Subscribe delivers every C2H report to the returned channel until the
// cancel function is called. Reports are dropped when the channel is full.
func (l *Link) Subscribe(buffer int) (<-chan hostif.Frame, func()) {
	ch := make(chan hostif.Frame, buffer)
	l.subMu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	l.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.subMu.Lock()
			delete(l.subs, id)
			l.subMu.Unlock()
		})
	}
}

// Dropped counts reports no subscriber had room for.
func (l *Link) Dropped() uint64 {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	return l.dropped
}

// Command sends one H2C record and waits for its mode echo.
func (l *Link) Command(f hostif.Frame) error {
	if !l.connected {
		return ErrNotConnected
	}
	op := f.Op()
	if op.IsReport() {
		return fmt.Errorf("%w: %s is a report", ErrUnknown, op)
	}

	l.cmdMu.Lock()
	defer l.cmdMu.Unlock()

	for len(l.echo) > 0 {
		<-l.echo
	}
	if glog.V(1) {
		glog.Infof("h2c %s", hostif.Describe(f))
	}
	if err := l.transport.SendRecords(f); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()
	for {
		select {
		case e := <-l.echo:
			a := hostif.LookupSpec(hostif.RptModeEcho).Decode(e)
			if hostif.Opcode(a.U8(0)) != op {
				continue
			}
			if st := a.U8(1); st != hostif.StatusOK {
				return &StatusError{Op: op, Status: st}
			}
			return nil
		case <-timer.C:
			return fmt.Errorf("%s: %w after %v", op, ErrNoEcho, l.timeout)
		}
	}
}

// Send encodes a command by name and runs it.
func (l *Link) Send(name string, vals ...uint32) error {
	spec := hostif.SpecByName(name)
	if spec == nil || spec.Op.IsReport() {
		return fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	f, err := spec.Encode(vals...)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return l.Command(f)
}

// Push runs a command list in order and stops at the first failure.
func (l *Link) Push(frames []hostif.Frame) error {
	for i, f := range frames {
		if err := l.Command(f); err != nil {
			return fmt.Errorf("command %d: %w", i, err)
		}
	}
	return nil
}

// Counters reads every diagnostic counter.
func (l *Link) Counters() (map[string]uint32, error) {
	ch, cancel := l.Subscribe(2 * int(core.NumCounters))
	defer cancel()

	if err := l.Send("counters", hostif.CountersRead, 0xff); err != nil {
		return nil, err
	}

	spec := hostif.LookupSpec(hostif.RptCounter)
	out := make(map[string]uint32, core.NumCounters)
	for {
		select {
		case f := <-ch:
			if f.Op() != hostif.RptCounter {
				continue
			}
			a := spec.Decode(f)
			out[core.Counter(a.U8(0)).String()] = a.U32(1)
		default:
			return out, nil
		}
	}
}
