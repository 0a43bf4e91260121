package host

import (
	"errors"
	"testing"

	"github.com/ardnew/otghcd/host/hal"
	"github.com/ardnew/otghcd/host/hal/sim"
	"github.com/ardnew/otghcd/pkg"
)

// =============================================================================
// Enqueue Tests
// =============================================================================

func TestEnqueue_Rejects(t *testing.T) {
	tb := newTestBed(t, 4)

	if err := tb.hcd.Enqueue(tb.bulk(1, 1, DirIn, 8)); !errors.Is(err, pkg.ErrNoDevice) {
		t.Errorf("Enqueue while disconnected = %v, want %v", err, pkg.ErrNoDevice)
	}

	tb.connect(hal.SpeedHigh)

	iso := URBAlloc(0)
	iso.SetPipeInfo(1, 2, hal.TransferIsochronous, DirIn, 192)
	iso.SetBuffer(make([]byte, 192), 0x3000_0000)

	queued := tb.bulk(1, 3, DirIn, 8)
	tb.enqueue(queued)

	tests := []struct {
		name    string
		urb     *URB
		wantErr error
	}{
		{"nil", nil, pkg.ErrInvalidParameter},
		{"isochronous without packets", iso, pkg.ErrInvalidParameter},
		{"already queued", queued, pkg.ErrBusy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tb.hcd.Enqueue(tt.urb); !errors.Is(err, tt.wantErr) {
				t.Errorf("Enqueue() = %v, want %v", err, tt.wantErr)
			}
		})
	}
	tb.check()
}

func TestEnqueue_SlaveControlNeedsSetup(t *testing.T) {
	tb := newTestBed(t, 4, slaveMode)
	tb.connect(hal.SpeedHigh)

	u := tb.controlIn(1, 8)
	u.Setup = nil
	if err := tb.hcd.Enqueue(u); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("Enqueue() = %v, want %v", err, pkg.ErrInvalidParameter)
	}
}

func TestEnqueue_LowSpeedOnFullSpeedPort(t *testing.T) {
	ctrl := sim.NewWithConfig(hal.HWConfig{
		NumChannels: 4,
		FSPHYType:   hal.PHYDedicated,
		HSPHYType:   hal.PHYUTMI,
	})
	tb := newTestBedWith(t, ctrl)
	tb.connect(hal.SpeedFull)

	u := tb.interrupt(1, 1, 10)
	u.Speed = hal.SpeedLow
	if err := tb.hcd.Enqueue(u); !errors.Is(err, pkg.ErrNoDevice) {
		t.Errorf("Enqueue() = %v, want %v", err, pkg.ErrNoDevice)
	}
	if s := tb.hcd.Snapshot(); len(s.QHs) != 0 {
		t.Errorf("rejected urb left %d QHs", len(s.QHs))
	}
}

func TestEnqueue_PeriodicAdmission(t *testing.T) {
	t.Run("bandwidth", func(t *testing.T) {
		tb := newTestBed(t, 4, func(p *Params) { p.PeriodicBandwidthPercent = 10 })
		tb.connect(hal.SpeedHigh)

		u := tb.interrupt(1, 1, 1)
		u.Pipe.MPS = 1024 | 2<<11
		if err := tb.hcd.Enqueue(u); !errors.Is(err, pkg.ErrBandwidth) {
			t.Fatalf("Enqueue() = %v, want %v", err, pkg.ErrBandwidth)
		}
		s := tb.hcd.Snapshot()
		if len(s.QHs) != 0 || s.PeriodicUsecs != 0 {
			t.Errorf("after rejection: %d QHs, %d us claimed", len(s.QHs), s.PeriodicUsecs)
		}
		if s.Mask&hal.IntrSOF != 0 {
			t.Error("SOF armed without periodic QHs")
		}
		tb.check()
	})

	t.Run("channels", func(t *testing.T) {
		tb := newTestBed(t, 2)
		tb.connect(hal.SpeedHigh)

		tb.enqueue(tb.interrupt(1, 1, 8))
		if err := tb.hcd.Enqueue(tb.interrupt(1, 2, 8)); !errors.Is(err, pkg.ErrNoResources) {
			t.Fatalf("Enqueue() = %v, want %v", err, pkg.ErrNoResources)
		}

		s := tb.hcd.Snapshot()
		if s.PeriodicChannels != 1 || len(s.QHs) != 1 {
			t.Errorf("PeriodicChannels %d, QHs %d; want 1, 1", s.PeriodicChannels, len(s.QHs))
		}
		if s.PeriodicUsecs != 3 {
			t.Errorf("PeriodicUsecs = %d, want 3", s.PeriodicUsecs)
		}
	})
}

func TestEnqueue_BulkWaitsForScheduling(t *testing.T) {
	tb := newTestBed(t, 4)
	tb.connect(hal.SpeedHigh)

	u := tb.bulk(1, 1, DirOut, 64)
	tb.enqueue(u)
	if b := tb.ctrl.Busy(); len(b) != 0 {
		t.Fatalf("bulk urb started without GiveBackASAP: %v", b)
	}

	last := tb.bulk(1, 2, DirOut, 64)
	last.Flags = FlagGiveBackASAP
	tb.enqueue(last)
	if b := tb.ctrl.Busy(); len(b) != 2 {
		t.Fatalf("busy channels = %v, want the whole batch", b)
	}
}

// =============================================================================
// Dequeue Tests
// =============================================================================

func TestDequeue_Queued(t *testing.T) {
	tb := newTestBed(t, 4)
	tb.connect(hal.SpeedHigh)

	u := tb.bulk(1, 1, DirIn, 64)
	tb.enqueue(u)

	if err := tb.hcd.Dequeue(u); err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	tb.wantDone(u, pkg.ErrCancelled)
	tb.check()

	if err := tb.hcd.Dequeue(u); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("second Dequeue() = %v, want %v", err, pkg.ErrInvalidParameter)
	}
	tb.wantDone(u, pkg.ErrCancelled)

	s := tb.hcd.Snapshot()
	if q := qhOf(t, s, 1, 1); q.List != ScheduleDetached || q.QTDs != 0 {
		t.Errorf("qh after dequeue = %+v", q)
	}

	// The URB can be submitted again.
	tb.rec = newRecorder()
	u.Complete = tb.rec.complete
	u.Flags = FlagGiveBackASAP
	tb.enqueue(u)
	tb.finish(tb.busy(), hal.HaltComplete, 64, hal.PIDData1)
	tb.wantDone(u, nil)
}

func TestDequeue_BoundNotStarted(t *testing.T) {
	tb := newTestBed(t, 4)
	tb.connect(hal.SpeedHigh)

	u := tb.bulk(1, 1, DirIn, 64)
	tb.enqueue(u)
	if got := tb.hcd.SelectTransactions(); got != TransactionNonPeriodic {
		t.Fatalf("SelectTransactions() = %v", got)
	}

	if err := tb.hcd.Dequeue(u); err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	tb.wantDone(u, pkg.ErrCancelled)
	tb.check()

	s := tb.hcd.Snapshot()
	if s.FreeChannels != 4 || s.NonPeriodicChannels != 0 {
		t.Errorf("after dequeue: %d free, %d non-periodic", s.FreeChannels, s.NonPeriodicChannels)
	}
}

func TestDequeue_InFlight(t *testing.T) {
	tb := newTestBed(t, 4)
	tb.connect(hal.SpeedHigh)

	u := tb.controlIn(1, 64)
	tb.enqueue(u)
	ch := tb.busy()

	if err := tb.hcd.Dequeue(u); err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	tb.check()

	// The buffer stays with the channel until the halt is confirmed.
	tb.wantPending(u)
	if n := tb.ctrl.Halts(ch); n != 1 {
		t.Errorf("Halts(%d) = %d, want 1", ch, n)
	}
	s := tb.hcd.Snapshot()
	if s.Channels[ch].Free || !s.Channels[ch].Halting {
		t.Errorf("channel %d = %+v, want owned and halting", ch, s.Channels[ch])
	}

	if err := tb.hcd.Dequeue(u); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("second Dequeue() = %v, want %v", err, pkg.ErrInvalidParameter)
	}

	if n := tb.ctrl.AckHalts(); n != 1 {
		t.Fatalf("AckHalts() = %d, want 1", n)
	}
	tb.hcd.HandleInterrupt()
	tb.check()

	tb.wantDone(u, pkg.ErrCancelled)
	s = tb.hcd.Snapshot()
	if s.FreeChannels != 4 {
		t.Errorf("FreeChannels = %d, want 4", s.FreeChannels)
	}
	if q := qhOf(t, s, 1, 0); q.QTDs != 0 || q.List != ScheduleDetached {
		t.Errorf("qh after halt = %+v", q)
	}
}

func TestDequeue_InFlightResubmit(t *testing.T) {
	tb := newTestBed(t, 4)
	tb.connect(hal.SpeedHigh)

	u := tb.controlIn(1, 64)
	tb.enqueue(u)
	tb.busy()

	if err := tb.hcd.Dequeue(u); err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}

	// Still owned by the scheduler until the channel halts.
	if err := tb.hcd.Enqueue(u); !errors.Is(err, pkg.ErrBusy) {
		t.Fatalf("Enqueue while halt pending = %v, want %v", err, pkg.ErrBusy)
	}
	tb.check()

	tb.ctrl.AckHalts()
	tb.hcd.HandleInterrupt()
	tb.check()
	tb.wantDone(u, pkg.ErrCancelled)

	// Once cancelled the URB can be reused, and the new submission is
	// tracked like any other.
	tb.enqueue(u)
	if got := tb.rec.calls(u); len(got) != 1 {
		t.Fatalf("completions after resubmit = %v, want 1", got)
	}
	if q := qhOf(t, tb.hcd.Snapshot(), 1, 0); q.QTDs != 1 {
		t.Errorf("qh QTDs = %d, want 1", q.QTDs)
	}
	if err := tb.hcd.Dequeue(u); err != nil {
		t.Errorf("Dequeue of resubmitted urb = %v, want nil", err)
	}
	tb.check()
}

func TestDequeue_InFlightSlaveModeNoQueueSpace(t *testing.T) {
	tb := newTestBed(t, 4, slaveMode)
	tb.connect(hal.SpeedHigh)

	u := tb.bulk(1, 1, DirIn, 64)
	u.Flags = FlagGiveBackASAP
	tb.enqueue(u)
	ch := tb.busy()

	full := hal.TxStatus{QueueSpace: 0, FIFOSpace: 1024}
	room := hal.TxStatus{QueueSpace: 8, FIFOSpace: 1024}
	tb.ctrl.SetTxStatus(room, full)

	if err := tb.hcd.Dequeue(u); err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if n := tb.ctrl.Halts(ch); n != 0 {
		t.Fatalf("halt issued without queue space")
	}
	if tb.ctrl.InterruptMask()&hal.IntrNPTxFEmpty == 0 {
		t.Fatal("NPTxFEmpty not armed for the deferred halt")
	}

	tb.ctrl.SetTxStatus(room, room)
	tb.ctrl.Raise(hal.IntrNPTxFEmpty)
	tb.hcd.HandleInterrupt()
	if n := tb.ctrl.Halts(ch); n != 1 {
		t.Fatalf("Halts(%d) = %d after queue space returned, want 1", ch, n)
	}
	tb.wantPending(u)

	tb.ctrl.AckHalts()
	tb.hcd.HandleInterrupt()
	tb.check()
	tb.wantDone(u, pkg.ErrCancelled)
}

// =============================================================================
// Disconnect Tests
// =============================================================================

func TestDisconnect_KillsEverything(t *testing.T) {
	tb := newTestBed(t, 4)
	tb.connect(hal.SpeedHigh)

	var urbs []*URB
	add := func(u *URB) {
		tb.enqueue(u)
		urbs = append(urbs, u)
	}

	add(tb.interrupt(1, 1, 8))
	add(tb.interrupt(1, 2, 8))
	for ep := uint8(3); ep <= 5; ep++ {
		add(tb.bulk(1, ep, DirOut, 128))
	}

	tb.ctrl.AdvanceFrame(scheduleSlop)
	tb.hcd.HandleInterrupt()
	tb.check()

	// A second transfer queued behind a bound one.
	add(tb.interrupt(1, 1, 8))

	s := tb.hcd.Snapshot()
	if s.FreeChannels != 0 || s.Lists[ScheduleNonPeriodicInactive] != 1 {
		t.Fatalf("before disconnect: %d free, %d np-inactive",
			s.FreeChannels, s.Lists[ScheduleNonPeriodicInactive])
	}

	tb.ctrl.Disconnect()
	tb.hcd.HandleInterrupt()
	tb.check()

	for i, u := range urbs {
		if got := tb.rec.calls(u); len(got) != 1 || !errors.Is(got[0], pkg.ErrTimeout) {
			t.Errorf("urb %d completions = %v, want one %v", i, got, pkg.ErrTimeout)
		}
	}

	s = tb.hcd.Snapshot()
	if s.Connected {
		t.Error("still connected")
	}
	if s.FreeChannels != 4 {
		t.Errorf("FreeChannels = %d, want 4", s.FreeChannels)
	}
	for l, n := range s.Lists {
		if n != 0 {
			t.Errorf("%v holds %d QHs", l, n)
		}
	}
	if len(s.QHs) != 0 || s.PeriodicChannels != 0 || s.PeriodicUsecs != 0 {
		t.Errorf("after disconnect: %d QHs, %d periodic channels, %d us",
			len(s.QHs), s.PeriodicChannels, s.PeriodicUsecs)
	}
	if s.Mask&hal.IntrSOF != 0 {
		t.Error("SOF still armed")
	}

	var portBuf [PortStatusSize]byte
	if err := tb.hcd.HubControl(GetPortStatus, 0, 1, portBuf[:]); err != nil {
		t.Fatalf("GetPortStatus failed: %v", err)
	}
	if portBuf[0]|portBuf[1] != 0 || portBuf[2]&PortStatCConnection == 0 {
		t.Errorf("port status after disconnect = % x", portBuf)
	}

	// Disconnect is idempotent.
	tb.hcd.Disconnect()
	tb.check()
}

func TestDisconnect_HaltRequestedCompletesCancelled(t *testing.T) {
	tb := newTestBed(t, 4)
	tb.connect(hal.SpeedHigh)

	cancelled := tb.controlIn(1, 8)
	tb.enqueue(cancelled)
	if err := tb.hcd.Dequeue(cancelled); err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	other := tb.controlIn(2, 8)
	tb.enqueue(other)

	tb.ctrl.Disconnect()
	tb.hcd.HandleInterrupt()
	tb.check()

	tb.wantDone(cancelled, pkg.ErrCancelled)
	tb.wantDone(other, pkg.ErrTimeout)

	if err := tb.hcd.Enqueue(tb.controlIn(1, 8)); !errors.Is(err, pkg.ErrNoDevice) {
		t.Errorf("Enqueue after disconnect = %v, want %v", err, pkg.ErrNoDevice)
	}
}

func TestDisconnect_Reconnect(t *testing.T) {
	tb := newTestBed(t, 2)
	tb.connect(hal.SpeedHigh)

	tb.enqueue(tb.controlIn(1, 8))
	tb.ctrl.Disconnect()
	tb.hcd.HandleInterrupt()

	tb.connect(hal.SpeedFull)
	u := tb.controlIn(1, 0)
	tb.enqueue(u)

	ch := tb.busy()
	if p := tb.ctrl.Channel(ch); p.Speed != hal.SpeedFull || p.DoSplit {
		t.Errorf("channel after reconnect = %+v", p)
	}
	tb.finish(ch, hal.HaltComplete, setupPacketSize, hal.PIDData1)
	ch = tb.busy()
	if p := tb.ctrl.Channel(ch); !p.EPIsIn {
		t.Error("status stage of a transfer without data is not IN")
	}
	tb.finish(ch, hal.HaltComplete, 0, hal.PIDData1)
	tb.wantDone(u, nil)
}

func TestDisconnect_DeviceMode(t *testing.T) {
	tb := newTestBed(t, 2)
	tb.connect(hal.SpeedHigh)

	tb.ctrl.SetHostMode(false)
	tb.ctrl.Disconnect()
	tb.hcd.HandleInterrupt()

	if tb.ctrl.InterruptMask()&hal.IntrHostMask != 0 {
		t.Errorf("host interrupts armed in device mode: %#x", tb.ctrl.InterruptMask())
	}
	if tb.ctrl.ReadPort().Power {
		t.Error("port power left on in device mode")
	}
	tb.check()
}

// =============================================================================
// Endpoint Tests
// =============================================================================

func TestEndpoint_DisableAndReset(t *testing.T) {
	tb := newTestBed(t, 4)
	tb.connect(hal.SpeedHigh)

	u := tb.bulk(1, 1, DirIn, 64)
	tb.enqueue(u)
	if err := tb.hcd.EndpointDisable(u.Pipe); !errors.Is(err, pkg.ErrBusy) {
		t.Fatalf("EndpointDisable() with queued urb = %v, want %v", err, pkg.ErrBusy)
	}

	tb.hcd.SelectTransactions()
	tb.hcd.QueueTransactions(TransactionNonPeriodic)
	tb.finish(tb.busy(), hal.HaltComplete, 64, hal.PIDData1)
	tb.wantDone(u, nil)

	// The toggle carries over to the next transfer.
	next := tb.bulk(1, 1, DirIn, 64)
	next.Flags = FlagGiveBackASAP
	tb.enqueue(next)
	ch := tb.busy()
	if pid := tb.ctrl.Channel(ch).DataPIDStart; pid != hal.PIDData1 {
		t.Errorf("DataPIDStart = %v, want DATA1", pid)
	}
	tb.finish(ch, hal.HaltComplete, 64, hal.PIDData1)

	tb.hcd.EndpointReset(next.Pipe)
	again := tb.bulk(1, 1, DirIn, 64)
	again.Flags = FlagGiveBackASAP
	tb.enqueue(again)
	if pid := tb.ctrl.Channel(tb.busy()).DataPIDStart; pid != hal.PIDData0 {
		t.Errorf("DataPIDStart after reset = %v, want DATA0", pid)
	}
	tb.finish(tb.busy(), hal.HaltComplete, 64, hal.PIDData1)

	if err := tb.hcd.EndpointDisable(again.Pipe); err != nil {
		t.Fatalf("EndpointDisable failed: %v", err)
	}
	if s := tb.hcd.Snapshot(); len(s.QHs) != 0 {
		t.Errorf("QHs after EndpointDisable = %d, want 0", len(s.QHs))
	}
	if err := tb.hcd.EndpointDisable(again.Pipe); err != nil {
		t.Errorf("EndpointDisable of an unknown endpoint = %v", err)
	}
}
