// Package profile loads the YAML provisioning profile: which device to
// talk to, the H2C configuration to push after connect, and the MQTT
// bridge settings.
package profile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"wlfw/calib"
)

type Profile struct {
	Device DeviceConfig  `yaml:"device"`
	Beacon *BeaconConfig `yaml:"beacon"`
	Radio  *RadioConfig  `yaml:"radio"`
	Power  *PowerConfig  `yaml:"power"`
	Coex   *CoexConfig   `yaml:"coex"`
	Bridge *BridgeConfig `yaml:"bridge"`

	// Calibration overrides on top of calib.Default, used by the
	// simulator.
	Calibration yaml.Node `yaml:"calibration"`
}

// ---- DEVICE ----

type DeviceConfig struct {
	Port      string `yaml:"port"` // serial device, or "sim"
	Baud      int    `yaml:"baud"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// ---- BEACON ----

type BeaconConfig struct {
	IntervalTU uint16 `yaml:"interval_tu"`
	Listen     uint8  `yaml:"listen"`
}

// ---- RADIO ----

type RadioConfig struct {
	PSDMode       *uint8 `yaml:"psd_mode"`
	LNAConstraint *uint8 `yaml:"lna_constraint"`
}

// ---- POWER ----

type PowerConfig struct {
	EmptyThreshold *uint8 `yaml:"empty_threshold"`
	PowerSave      bool   `yaml:"power_save"`
}

// ---- COEX ----

type CoexConfig struct {
	Mode  string `yaml:"mode"`  // static | dynamic | forced
	Table string `yaml:"table"` // neutral | wl_priority | bt_priority

	Variant *uint8     `yaml:"variant"`
	Slots   *SlotTable `yaml:"slots"`

	LeakAP         *bool        `yaml:"leak_ap"`
	RetryReport    *RetryReport `yaml:"retry_report"`
	RetryPenaltyUS *uint32      `yaml:"retry_penalty_us"`
	PanDuration    *uint16      `yaml:"pan_duration"`
	PageScanUS     *uint32      `yaml:"page_scan_us"`

	Run      bool `yaml:"run"`
	NullOnBT bool `yaml:"null_on_bt"`
}

type SlotTable struct {
	WLTU       uint16 `yaml:"wl_tu"`
	BTTU       uint16 `yaml:"bt_tu"`
	IntervalTU uint16 `yaml:"interval_tu"`
}

type RetryReport struct {
	Period    uint16 `yaml:"period"`
	Threshold uint8  `yaml:"threshold"`
}

// ---- BRIDGE ----

type BridgeConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"` // prefix; the machine id is appended when empty
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
	Retain   bool   `yaml:"retain"`
}

// Load reads and parses a profile file.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a profile. Unknown keys are an error.
func Parse(data []byte) (*Profile, error) {
	p := &Profile{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return p, nil
}

// Calib returns the default calibration with the profile's overrides
// applied and validated.
func (p *Profile) Calib() (calib.Calibration, error) {
	c := calib.Default()
	if !p.Calibration.IsZero() {
		if err := p.Calibration.Decode(&c); err != nil {
			return c, fmt.Errorf("calibration: %w", err)
		}
	}
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("calibration: %w", err)
	}
	return c, nil
}
