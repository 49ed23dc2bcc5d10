package hostif

// Opcode is byte 0 of a frame. H2C opcodes are below 0x80, C2H report
// opcodes have the top bit set.
type Opcode uint8

// H2C commands.
const (
	OpRetryReport    Opcode = 0x01
	OpPriorityTable  Opcode = 0x02
	OpPSDMode        Opcode = 0x03
	OpLNAConstraint  Opcode = 0x04
	OpLoopback       Opcode = 0x05
	OpRetryPenalty   Opcode = 0x06
	OpSlotVariant    Opcode = 0x07
	OpSlotTable      Opcode = 0x08
	OpPageScan       Opcode = 0x09
	OpPanDuration    Opcode = 0x0a
	OpEmptyThreshold Opcode = 0x0b
	OpBeaconInterval Opcode = 0x0c
	OpLeakAP         Opcode = 0x0d
	OpPowerMode      Opcode = 0x0e
	OpTxPause        Opcode = 0x0f
	OpCounters       Opcode = 0x10
	OpCoexRun        Opcode = 0x11
	OpScan           Opcode = 0x12
	OpNoA            Opcode = 0x13
	OpScoreboard     Opcode = 0x14
)

// C2H reports.
const (
	RptPatchStatus     Opcode = 0x80
	RptModeEcho        Opcode = 0x81
	RptStateChange     Opcode = 0x82
	RptCalibration     Opcode = 0x83
	RptScoreboard      Opcode = 0x84
	RptSlotLength      Opcode = 0x85
	RptChannelStatus   Opcode = 0x86
	RptProtocolError   Opcode = 0x87
	RptDisconnected    Opcode = 0x88
	RptTimingViolation Opcode = 0x89
	RptPSFail          Opcode = 0x8a
	RptLoopback        Opcode = 0x8b
	RptCounter         Opcode = 0x8c
	RptFault           Opcode = 0x8d
	RptPeerBusy        Opcode = 0x8e
	RptRoleChange      Opcode = 0x8f
)

// IsReport reports whether op is a C2H opcode.
func (op Opcode) IsReport() bool { return op&0x80 != 0 }

func (op Opcode) String() string {
	if s := LookupSpec(op); s != nil {
		return s.Name
	}
	return "op_" + op.hex()
}

// Counter sub-commands of OpCounters.
const (
	CountersRead  = 0
	CountersReset = 1
)

// Status codes carried by RptModeEcho.
const (
	StatusOK      = 0
	StatusRange   = 1
	StatusBusy    = 2
	StatusRefused = 3
)

// Reasons carried by RptProtocolError.
const (
	ProtoUnknownOpcode = 1
	ProtoBadPayload    = 2
	ProtoDirection     = 3 // a report opcode sent as a command
)

func f8(name string) Field  { return Field{Name: name, Size: 1} }
func f16(name string) Field { return Field{Name: name, Size: 2} }
func f32(name string) Field { return Field{Name: name, Size: 4} }

// Commands lists the payload layout of every H2C opcode.
var Commands = []Spec{
	{OpRetryReport, "retry_report", []Field{f16("period"), f8("threshold")}},
	{OpPriorityTable, "priority_table", []Field{f8("mode"), f8("table")}},
	{OpPSDMode, "psd_mode", []Field{f8("mode")}},
	{OpLNAConstraint, "lna_constraint", []Field{f8("value")}},
	{OpLoopback, "loopback", []Field{f32("pattern")}},
	{OpRetryPenalty, "retry_penalty", []Field{f32("penalty_us")}},
	{OpSlotVariant, "slot_variant", []Field{f8("variant")}},
	{OpSlotTable, "slot_table", []Field{f16("wl_tu"), f16("bt_tu"), f16("interval_tu")}},
	{OpPageScan, "page_scan", []Field{f32("interval_us")}},
	{OpPanDuration, "pan_duration", []Field{f16("intervals")}},
	{OpEmptyThreshold, "empty_threshold", []Field{f8("polls")}},
	{OpBeaconInterval, "beacon_interval", []Field{f16("interval_tu"), f8("listen")}},
	{OpLeakAP, "leak_ap", []Field{f8("on")}},
	{OpPowerMode, "power_mode", []Field{f8("ps")}},
	{OpTxPause, "tx_pause", []Field{f8("on")}},
	{OpCounters, "counters", []Field{f8("op"), f8("id")}},
	{OpCoexRun, "coex_run", []Field{f8("on"), f8("null_on_bt")}},
	{OpScan, "scan", []Field{f8("on")}},
	{OpNoA, "noa", []Field{f8("on")}},
	{OpScoreboard, "scoreboard", nil},
}

// Reports lists the payload layout of every C2H opcode.
var Reports = []Spec{
	{RptPatchStatus, "patch_status", []Field{f32("version"), f16("calib_id")}},
	{RptModeEcho, "mode_echo", []Field{f8("op"), f8("status")}},
	{RptStateChange, "state_change", []Field{f8("from"), f8("to")}},
	{RptCalibration, "calibration", []Field{f8("active")}},
	{RptScoreboard, "scoreboard", []Field{f16("wl"), f16("bt")}},
	{RptSlotLength, "slot_length", []Field{f8("owner"), f32("length_us")}},
	{RptChannelStatus, "channel_status", []Field{f32("retries"), f16("slots")}},
	{RptProtocolError, "protocol_error", []Field{f8("op"), f8("reason")}},
	{RptDisconnected, "disconnected", []Field{f8("misses")}},
	{RptTimingViolation, "timing_violation", []Field{f8("state")}},
	{RptPSFail, "ps_fail", []Field{f8("retries")}},
	{RptLoopback, "loopback", []Field{f8("seq"), f8("ok")}},
	{RptCounter, "counter", []Field{f8("id"), f32("value")}},
	{RptFault, "fault", []Field{f8("code"), f32("detail")}},
	{RptPeerBusy, "peer_busy", []Field{f8("owner")}},
	{RptRoleChange, "role_change", []Field{f8("active")}},
}

var specIndex [256]*Spec

func init() {
	for i := range Commands {
		specIndex[Commands[i].Op] = &Commands[i]
	}
	for i := range Reports {
		specIndex[Reports[i].Op] = &Reports[i]
	}
}

// LookupSpec returns the layout of op, or nil.
func LookupSpec(op Opcode) *Spec { return specIndex[op] }

// SpecByName finds a command or report layout by name. Commands win
// when a name is used in both directions.
func SpecByName(name string) *Spec {
	for i := range Commands {
		if Commands[i].Name == name {
			return &Commands[i]
		}
	}
	for i := range Reports {
		if Reports[i].Name == name {
			return &Reports[i]
		}
	}
	return nil
}

// Describe renders any frame for logs and consoles.
func Describe(f Frame) string {
	if s := LookupSpec(f.Op()); s != nil {
		return s.String(f)
	}
	return f.Op().String()
}

// Report builds a C2H frame. It panics on an unknown report opcode or a
// value that does not fit its field, both programming errors.
func Report(op Opcode, vals ...uint32) Frame {
	s := LookupSpec(op)
	if s == nil || !op.IsReport() {
		panic("hostif: not a report opcode")
	}
	return s.MustEncode(vals...)
}
