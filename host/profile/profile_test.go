package profile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"wlfw/calib"
	"wlfw/coex"
	"wlfw/host/serial"
	"wlfw/hostif"
)

func load(t *testing.T) *Profile {
	t.Helper()
	p, err := Load("testdata/station.yaml")
	require.NoError(t, err)
	require.NoError(t, Validate(p))
	Normalize(p)
	return p
}

func TestLoadAndNormalize(t *testing.T) {
	p := load(t)
	require.Equal(t, "/dev/ttyUSB0", p.Device.Port)
	require.Equal(t, serial.DefaultBaud, p.Device.Baud)
	require.Equal(t, 1000, p.Device.TimeoutMs)
	require.Equal(t, DefaultTopic, p.Bridge.Topic)
	require.Equal(t, byte(1), p.Bridge.QoS)
}

func TestCalibrationOverrides(t *testing.T) {
	p := load(t)
	c, err := p.Calib()
	require.NoError(t, err)

	def := calib.Default()
	require.Equal(t, uint8(12), c.Beacon.MissLimit)
	require.Equal(t, uint8(2), c.Coex.LeakMax)
	require.Equal(t, def.Beacon.IntervalTU, c.Beacon.IntervalTU)
	require.Equal(t, def.Layout, c.Layout)
}

func TestCommandOrder(t *testing.T) {
	p := load(t)
	var names []string
	for _, f := range p.Commands() {
		names = append(names, hostif.LookupSpec(f.Op()).Name)
	}
	require.Equal(t, []string{
		"beacon_interval",
		"psd_mode",
		"lna_constraint",
		"empty_threshold",
		"priority_table",
		"slot_table",
		"leak_ap",
		"retry_report",
		"pan_duration",
		"coex_run",
		"power_mode",
	}, names)

	pt := hostif.LookupSpec(hostif.OpPriorityTable).Decode(p.Commands()[4])
	require.Equal(t, uint8(coex.ModeDynamic), pt.U8(0))
	require.Equal(t, uint8(coex.TableWLPri), pt.U8(1))

	st := hostif.LookupSpec(hostif.OpSlotTable).Decode(p.Commands()[5])
	require.Equal(t, []uint16{60, 30, 100}, []uint16{st.U16(0), st.U16(1), st.U16(2)})
}

func TestValidate(t *testing.T) {
	u8 := func(v uint8) *uint8 { return &v }
	cases := []struct {
		name string
		yaml string
		msg  string
	}{
		{"no port", "beacon: {interval_tu: 100, listen: 1}", "port is required"},
		{"zero listen", "device: {port: x}\nbeacon: {interval_tu: 100, listen: 0}", "listen"},
		{"bad mode", "device: {port: x}\ncoex: {mode: sometimes}", "unknown mode"},
		{"bad table", "device: {port: x}\ncoex: {table: loud}", "unknown table"},
		{"slot overflow", "device: {port: x}\ncoex: {slots: {wl_tu: 70, bt_tu: 40, interval_tu: 100}}", "exceeds"},
		{"null without run", "device: {port: x}\ncoex: {null_on_bt: true}", "needs run"},
		{"qos", "device: {port: x}\nbridge: {broker: tcp://b:1883, qos: 3}", "qos"},
		{"bad calibration", "device: {port: x}\ncalibration: {beacon: {interval_tu: 0}}", "calibration"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := Parse([]byte(tc.yaml))
			require.NoError(t, err)
			require.ErrorContains(t, Validate(p), tc.msg)
		})
	}

	p := &Profile{Device: DeviceConfig{Port: "x"}, Coex: &CoexConfig{Variant: u8(9)}}
	require.ErrorContains(t, Validate(p), "variant")
	p.Coex.Variant = u8(2)
	require.NoError(t, Validate(p))
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("device: {port: x, speed: 9}"))
	require.Error(t, err)

	p, err := Parse(nil)
	require.NoError(t, err)
	require.Empty(t, p.Commands())
}
