package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang/glog"

	"wlfw/host/bridge"
	"wlfw/host/console"
	"wlfw/host/link"
	"wlfw/host/profile"
	"wlfw/host/serial"
	"wlfw/host/sim"
)

var (
	device      = flag.String("device", "", "Serial device path, or \"sim\" for the in-process simulator")
	baud        = flag.Int("baud", 0, "Baud rate (default from profile, else 921600)")
	profilePath = flag.String("profile", "", "Station profile to push after connecting")
	broker      = flag.String("mqtt", "", "MQTT broker URL, overrides the profile's bridge")
	evalOnly    = flag.Bool("e", false, "Run the command given as arguments and exit")
	outputJSON  = flag.Bool("json", false, "Print reports as JSON")
	beaconLoss  = flag.Float64("sim-loss", 0, "Simulator beacon loss probability")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	if err := run(flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		glog.Flush()
		os.Exit(1)
	}
}

func loadProfile() (*profile.Profile, error) {
	p := &profile.Profile{}
	if *profilePath != "" {
		var err error
		if p, err = profile.Load(*profilePath); err != nil {
			return nil, err
		}
	}
	if *device != "" {
		p.Device.Port = *device
	}
	if *baud != 0 {
		p.Device.Baud = *baud
	}
	if *broker != "" {
		if p.Bridge == nil {
			p.Bridge = &profile.BridgeConfig{}
		}
		p.Bridge.Broker = *broker
	}
	if err := profile.Validate(p); err != nil {
		return nil, err
	}
	profile.Normalize(p)
	return p, nil
}

func connect(p *profile.Profile, l *link.Link) (*sim.Device, error) {
	l.SetTimeout(time.Duration(p.Device.TimeoutMs) * time.Millisecond)
	if p.Device.Port != "sim" {
		cfg := serial.DefaultConfig(p.Device.Port)
		cfg.Baud = p.Device.Baud
		return nil, l.ConnectWithConfig(cfg)
	}

	opts := sim.DefaultOptions()
	cal, err := p.Calib()
	if err != nil {
		return nil, err
	}
	opts.Calib = cal
	opts.BeaconLoss = *beaconLoss
	dev, port, err := sim.Start(opts)
	if err != nil {
		return nil, err
	}
	l.Attach(serial.Stream{ReadWriteCloser: port})
	return dev, nil
}

func startBridge(ctx context.Context, p *profile.Profile, l *link.Link) (*bridge.Bridge, error) {
	bc := p.Bridge
	b, err := bridge.Dial(bridge.Config{
		Broker:   bc.Broker,
		Topic:    bc.Topic,
		ClientID: bc.ClientID,
		QoS:      bc.QoS,
		Retain:   bc.Retain,
	})
	if err != nil {
		return nil, fmt.Errorf("bridge: %w", err)
	}
	reports, cancel := l.Subscribe(64)
	go func() {
		defer cancel()
		if err := b.Run(ctx, reports); err != nil && ctx.Err() == nil {
			glog.Errorf("bridge: %v", err)
		}
	}()
	if err := b.Serve(l); err != nil {
		b.Close()
		return nil, fmt.Errorf("bridge: %w", err)
	}
	glog.Infof("bridge publishing under %s", b.Topic())
	return b, nil
}

func run(args []string) error {
	p, err := loadProfile()
	if err != nil {
		return err
	}
	l := link.New()
	dev, err := connect(p, l)
	if err != nil {
		return err
	}
	defer l.Close()
	if dev != nil {
		defer dev.Close()
	}
	glog.Infof("connected to %s", p.Device.Port)

	sh := console.New(l)
	sh.Interactive = !*evalOnly
	sh.OutputJSON = *outputJSON
	sh.Sim = dev
	sh.Profile = p

	if *profilePath != "" {
		n, err := sh.Push()
		if err != nil {
			return fmt.Errorf("push %s: %w", *profilePath, err)
		}
		glog.Infof("pushed %d commands from %s", n, *profilePath)
	}

	if p.Bridge != nil && p.Bridge.Broker != "" {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		b, err := startBridge(ctx, p, l)
		if err != nil {
			return err
		}
		defer b.Close()
		sh.Bridge = b
	}

	return sh.Run(args...)
}
