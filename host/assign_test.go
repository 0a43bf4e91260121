package host

import (
	"bytes"
	"testing"

	"github.com/ardnew/otghcd/host/hal"
)

// =============================================================================
// Alignment Buffer Tests
// =============================================================================

func TestAssign_UnalignedOut(t *testing.T) {
	tb := newTestBed(t, 4)
	tb.connect(hal.SpeedHigh)

	u := tb.bulk(1, 1, DirOut, 16)
	copy(u.Buf, "unaligned bytes!")
	u.DMA = 0x3000_0002
	u.Flags = FlagGiveBackASAP
	tb.enqueue(u)

	ch := tb.busy()
	p := tb.ctrl.Channel(ch)
	if p.AlignBuf == 0 {
		t.Fatal("unaligned transfer not bounced")
	}
	if n := tb.dma.Live(); n != 2 {
		t.Errorf("live DMA regions = %d, want status and alignment buffers", n)
	}

	q := tb.hcd.qhs.get(tb.hcd.endpoints[keyOf(u.Pipe)])
	if q.alignBuf.DMAAddr() != p.AlignBuf {
		t.Errorf("AlignBuf = %#x, qh buffer at %#x", p.AlignBuf, q.alignBuf.DMAAddr())
	}
	if got := q.alignBuf.Buf()[:16]; !bytes.Equal(got, u.Buf) {
		t.Errorf("alignment buffer = %q, want %q", got, u.Buf)
	}
	if dev, _ := tb.dma.Syncs(); dev == 0 {
		t.Error("alignment buffer not synced for the device")
	}

	tb.finish(ch, hal.HaltComplete, 16, hal.PIDData1)
	tb.wantDone(u, nil)

	// The buffer lives as long as the QH.
	again := tb.bulk(1, 1, DirOut, 8)
	again.DMA = 0x3000_0006
	again.Flags = FlagGiveBackASAP
	tb.enqueue(again)
	if n := tb.dma.Live(); n != 2 {
		t.Errorf("live DMA regions = %d, alignment buffer not reused", n)
	}
	tb.finish(tb.busy(), hal.HaltComplete, 8, hal.PIDData0)

	if err := tb.hcd.EndpointDisable(u.Pipe); err != nil {
		t.Fatalf("EndpointDisable failed: %v", err)
	}
	if n := tb.dma.Live(); n != 1 {
		t.Errorf("live DMA regions after EndpointDisable = %d, want 1", n)
	}
}

func TestAssign_UnalignedIn(t *testing.T) {
	tb := newTestBed(t, 4)
	tb.connect(hal.SpeedHigh)

	u := tb.bulk(1, 1, DirIn, 32)
	u.DMA = 0x3000_0001
	u.Flags = FlagGiveBackASAP
	tb.enqueue(u)

	ch := tb.busy()
	q := tb.hcd.qhs.get(tb.hcd.endpoints[keyOf(u.Pipe)])
	copy(q.alignBuf.Buf(), "received")

	tb.finish(ch, hal.HaltComplete, 8, hal.PIDData1)
	tb.wantDone(u, nil)
	if got := string(u.Buf[:u.ActualLength]); got != "received" {
		t.Errorf("data = %q, want %q", got, "received")
	}
	if _, cpu := tb.dma.Syncs(); cpu == 0 {
		t.Error("alignment buffer not synced for the CPU")
	}
}

func TestAssign_AlignBufferFailureRetries(t *testing.T) {
	tb := newTestBed(t, 4)
	tb.connect(hal.SpeedHigh)

	u := tb.bulk(1, 1, DirOut, 16)
	u.DMA = 0x3000_0003
	u.Flags = FlagGiveBackASAP

	tb.dma.FailNext(1)
	tb.enqueue(u)

	if b := tb.ctrl.Busy(); len(b) != 0 {
		t.Fatalf("channel started without an alignment buffer: %v", b)
	}
	s := tb.hcd.Snapshot()
	if s.FreeChannels != 4 || s.NonPeriodicChannels != 0 {
		t.Errorf("after failure: %d free, %d non-periodic", s.FreeChannels, s.NonPeriodicChannels)
	}
	if q := qhOf(t, s, 1, 1); q.List != ScheduleNonPeriodicInactive || q.Channel != -1 {
		t.Errorf("qh after failure = %+v", q)
	}
	tb.wantPending(u)

	if got := tb.hcd.SelectTransactions(); got != TransactionNonPeriodic {
		t.Fatalf("SelectTransactions() = %v on retry", got)
	}
	tb.hcd.QueueTransactions(TransactionNonPeriodic)
	tb.check()
	tb.finish(tb.busy(), hal.HaltComplete, 16, hal.PIDData1)
	tb.wantDone(u, nil)
}

func TestAssign_ControlStatusUsesBitBucket(t *testing.T) {
	tb := newTestBed(t, 4)
	tb.connect(hal.SpeedHigh)

	u := tb.controlIn(1, 0)
	tb.enqueue(u)
	tb.finish(tb.busy(), hal.HaltComplete, setupPacketSize, hal.PIDData1)

	p := tb.ctrl.Channel(tb.busy())
	if p.XferDMA != tb.hcd.statusDMA() || p.XferDMA == 0 {
		t.Errorf("status XferDMA = %#x, want status buffer %#x", p.XferDMA, tb.hcd.statusDMA())
	}
	if p.AlignBuf != 0 {
		t.Error("status stage bounced")
	}
}
