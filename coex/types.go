// Package coex arbitrates the shared antenna/front-end between WL and the
// co-located BT radio with a time-division slot schedule.
package coex

// Owner is the holder of the front-end for a slot.
type Owner uint8

const (
	OwnerDefault Owner = iota // neither stack has priority
	OwnerWL
	OwnerBT
)

func (o Owner) String() string {
	switch o {
	case OwnerDefault:
		return "default"
	case OwnerWL:
		return "wl"
	case OwnerBT:
		return "bt"
	}
	return "owner?"
}

// TableID selects one of the canned priority tables.
type TableID uint8

const (
	TableNeutral TableID = iota
	TableWLPri
	TableBTPri

	NumTables
)

func (t TableID) String() string {
	switch t {
	case TableNeutral:
		return "neutral"
	case TableWLPri:
		return "wl_priority"
	case TableBTPri:
		return "bt_priority"
	}
	return "table?"
}

// PriorityTable is the arbitration priority of each traffic class, 0 low
// to 3 high.
type PriorityTable struct {
	WLTx   uint8
	WLRx   uint8
	WLMgmt uint8
	BTHigh uint8
	BTLow  uint8
}

var tables = [NumTables]PriorityTable{
	TableNeutral: {WLTx: 1, WLRx: 1, WLMgmt: 2, BTHigh: 2, BTLow: 1},
	TableWLPri:   {WLTx: 3, WLRx: 3, WLMgmt: 3, BTHigh: 2, BTLow: 0},
	TableBTPri:   {WLTx: 0, WLRx: 1, WLMgmt: 2, BTHigh: 3, BTLow: 3},
}

// Priorities returns the contents of table t.
func (t TableID) Priorities() PriorityTable {
	if t < NumTables {
		return tables[t]
	}
	return tables[TableNeutral]
}

// Mode decides how the priority table follows the schedule.
type Mode uint8

const (
	ModeStatic  Mode = iota // host-selected table for every slot
	ModeDynamic             // table follows the slot owner, BT slot adapts
	ModeForced              // host-selected table, kept even when the peer is busy
)

func (m Mode) String() string {
	switch m {
	case ModeStatic:
		return "static"
	case ModeDynamic:
		return "dynamic"
	case ModeForced:
		return "forced"
	}
	return "mode?"
}

// RingSize is the number of recent slots remembered.
const RingSize = 20

// SlotRecord is one completed slot.
type SlotRecord struct {
	Owner  Owner
	Length uint32 // µs actually used
}

// Phase is one planned slot of the current interval.
type Phase struct {
	Owner  Owner
	Length uint32
}

const maxPhases = 2*8 + 1

// Schedule is the scheduler's state as seen from outside.
type Schedule struct {
	Owner       Owner
	Table       TableID
	Mode        Mode
	IntervalUS  uint32
	WLSlotUS    uint32
	BTSlotUS    uint32
	Leak        uint8 // WL receive opportunities left in this BT slot
	LeakCap     uint8 // allowance granted at the next BT slot
	Calibrating bool
	RoleChange  bool
	PanMode     bool
	Fallback    bool
}
