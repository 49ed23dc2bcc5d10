package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiagnosticsCounters(t *testing.T) {
	var d Diagnostics
	d.Inc(CtrBeaconMiss)
	d.Inc(CtrBeaconMiss)
	d.Inc(NumCounters) // ignored
	require.Equal(t, uint32(2), d.Get(CtrBeaconMiss))
	require.Equal(t, uint32(0), d.Get(NumCounters))

	d.ResetCounters()
	require.Equal(t, uint32(0), d.Get(CtrBeaconMiss))
}

func TestDiagnosticsFaultKeepsFirstAndResets(t *testing.T) {
	var d Diagnostics
	var notified []FaultRecord
	resets := 0
	d.SetFaultHandler(func(r FaultRecord) { notified = append(notified, r) })
	d.SetResetHandler(func() { resets++ })

	d.Fault(FaultStateMismatch, 100, 3)
	d.Fault(FaultMailboxState, 200, 4)

	require.Equal(t, FaultRecord{Code: FaultStateMismatch, Clock: 100, Detail: 3}, d.LastFault())
	require.Len(t, notified, 2)
	require.Equal(t, 2, resets)

	d.Reset()
	require.Equal(t, FaultNone, d.LastFault().Code)
	d.Fault(FaultTableInvalid, 1, 0)
	require.Equal(t, 3, resets)
}

func TestDiagnosticsDumpTrace(t *testing.T) {
	var d Diagnostics
	d.Trace(TraceTransition, 0, 10, 1, 2)
	d.Trace(TraceSlot, 0, 20, 2, 5000)

	var lines []string
	d.DumpTrace(func(s string) { lines = append(lines, s) })
	require.Len(t, lines, 4)
	require.True(t, strings.HasPrefix(lines[1], "[TRACE] TRANSITION"))
	require.Contains(t, lines[2], "v2=5000")
}

func TestItoa(t *testing.T) {
	require.Equal(t, "0", itoa(0))
	require.Equal(t, "-42", itoa(-42))
	require.Equal(t, "4294967295", utoa(4294967295))
}
