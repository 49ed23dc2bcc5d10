// Package sim runs the firmware in-process behind a pipe, with a beaconing
// AP and an echoing BT peer, so the host tools work without a board.
package sim

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"wlfw/calib"
	"wlfw/coex"
	"wlfw/core"
	"wlfw/firmware"
	"wlfw/mailbox"
	"wlfw/regs"
)

// Options configures a simulated device.
type Options struct {
	Calib      calib.Calibration
	BeaconLoss float64 // probability that a beacon is not received
	Seed       uint64
	Tick       time.Duration // main loop period
}

// DefaultOptions uses the default calibration and a lossless AP.
func DefaultOptions() Options {
	return Options{Calib: calib.Default(), Seed: 1, Tick: time.Millisecond}
}

// Device is one simulated co-processor.
type Device struct {
	ctx   *firmware.Context
	link  *firmware.Link
	file  *regs.File
	conn  net.Conn
	clock *core.ManualClock
	opts  Options
	rng   *rand.Rand
	start time.Time

	beaconLoss   atomic.Uint64 // float64 bits
	beaconPeriod uint32
	nextBeacon   uint32
	nullPending  int
	resetPending bool

	btMu  sync.Mutex
	btIn  []mailbox.Frame
	btOut []mailbox.Frame

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

type nullSender struct{ d *Device }

// SendNull is always acknowledged by the simulated AP on the next tick.
func (n nullSender) SendNull(pm bool) error {
	n.d.nullPending++
	return nil
}

// glogWriter feeds the firmware's slog output into glog.
type glogWriter struct{}

func (glogWriter) Write(p []byte) (int, error) {
	glog.InfoDepth(4, strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// Start boots a device and returns it with the host end of its UART.
func Start(opts Options) (*Device, io.ReadWriteCloser, error) {
	if opts.Tick <= 0 {
		opts.Tick = time.Millisecond
	}
	hostEnd, devEnd := net.Pipe()
	d := &Device{
		conn:  devEnd,
		clock: &core.ManualClock{},
		opts:  opts,
		rng:   rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x5eed)),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}

	bus := regs.NewSimBus()
	bus.FollowRFPower(opts.Calib.Layout)
	ctx, err := firmware.New(firmware.Config{
		Calib:  opts.Calib,
		Bus:    bus,
		Clock:  d.clock,
		Null:   nullSender{d},
		Logger: slog.New(slog.NewTextHandler(glogWriter{}, &slog.HandlerOptions{Level: slog.LevelWarn})),
		Reset: func() {
			glog.Warning("sim: watchdog reset")
			d.resetPending = true
		},
	})
	if err != nil {
		hostEnd.Close()
		devEnd.Close()
		return nil, nil, err
	}
	d.ctx = ctx
	d.file = ctx.Registers()
	d.link = firmware.NewLink(ctx, devEnd.Write)
	d.SetBeaconLoss(opts.BeaconLoss)
	d.beaconPeriod = uint32(opts.Calib.Beacon.IntervalTU) * 1024
	d.nextBeacon = d.beaconPeriod

	d.start = time.Now()
	ctx.Init()
	go d.run()
	return d, hostEnd, nil
}

func (d *Device) run() {
	defer close(d.done)

	buf := make([]byte, 128)
	for {
		select {
		case <-d.stop:
			return
		default:
		}

		d.conn.SetReadDeadline(time.Now().Add(d.opts.Tick))
		n, err := d.conn.Read(buf)
		if n > 0 {
			d.link.Feed(buf[:n])
		}
		if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
			return
		}
		d.tick()
	}
}

// tick is one pass of the firmware main loop plus the simulated air.
func (d *Device) tick() {
	now := uint32(time.Since(d.start).Microseconds())
	d.clock.T = now

	d.link.Poll()
	for core.TimeReached(now, d.nextBeacon) {
		loss := math.Float64frombits(d.beaconLoss.Load())
		if d.ctx.PowerState().RFOn() && d.rng.Float64() >= loss {
			d.ctx.BeaconRx(d.nextBeacon)
		}
		d.nextBeacon += d.beaconPeriod
	}
	if wake, ok := d.ctx.NextWake(); ok && core.TimeReached(now, wake) {
		d.ctx.TimerCompare(now)
	}
	d.ctx.Step()

	for ; d.nullPending > 0; d.nullPending-- {
		d.ctx.NullStatus(true)
	}
	d.btPeer()

	d.ctx.Step()
	if d.resetPending {
		d.resetPending = false
		d.link.Flush()
		d.ctx.Init()
		d.link.Reset()
	}
	d.link.Poll()
}

// btPeer drains the WL to BT slot, echoes loopback frames and delivers
// injected BT frames once the BT to WL slot is free.
func (d *Device) btPeer() {
	if ctrl := d.file.MailboxCtrl(regs.WLToBT); ctrl.Ready() {
		f := mailbox.Frame(d.file.MailboxData(regs.WLToBT))
		d.file.SetMailboxCtrl(regs.WLToBT, ctrl&^regs.MailboxReady)
		d.ctx.MailboxTxDone()

		d.btMu.Lock()
		d.btOut = append(d.btOut, f)
		if coex.MsgID(f[0]) == coex.MsgLoopback {
			d.btIn = append(d.btIn, coex.LoopbackReply(f))
		}
		d.btMu.Unlock()
	}

	if d.file.MailboxCtrl(regs.BTToWL).Ready() {
		return
	}
	d.btMu.Lock()
	if len(d.btIn) == 0 {
		d.btMu.Unlock()
		return
	}
	f := d.btIn[0]
	d.btIn = d.btIn[1:]
	d.btMu.Unlock()

	d.file.SetMailboxData(regs.BTToWL, [8]byte(f))
	d.file.SetMailboxCtrl(regs.BTToWL, regs.MailboxReady|regs.MailboxIRQEnable)
	d.ctx.MailboxRx()
}

// SetBeaconLoss changes the probability that a beacon is lost.
func (d *Device) SetBeaconLoss(p float64) {
	d.beaconLoss.Store(math.Float64bits(p))
}

// InjectBT queues a frame from the BT firmware.
func (d *Device) InjectBT(f mailbox.Frame) {
	d.btMu.Lock()
	d.btIn = append(d.btIn, f)
	d.btMu.Unlock()
}

// BTFrames returns the frames the BT peer received so far.
func (d *Device) BTFrames() []mailbox.Frame {
	d.btMu.Lock()
	defer d.btMu.Unlock()
	return append([]mailbox.Frame(nil), d.btOut...)
}

// Close stops the device.
func (d *Device) Close() error {
	var err error
	d.once.Do(func() {
		close(d.stop)
		err = d.conn.Close()
		<-d.done
	})
	return err
}
