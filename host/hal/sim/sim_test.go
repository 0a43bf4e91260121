package sim

import (
	"errors"
	"testing"

	"github.com/ardnew/otghcd/host/hal"
	"github.com/ardnew/otghcd/pkg"
)

// =============================================================================
// Controller Tests
// =============================================================================

func TestController_Connect(t *testing.T) {
	c := New(4)

	c.Connect(hal.SpeedFull)

	p := c.ReadPort()
	if !p.Connected || !p.ConnectDetected || !p.Power {
		t.Fatalf("port after Connect = %+v", p)
	}
	if p.Speed != hal.SpeedFull {
		t.Errorf("Speed = %v, want %v", p.Speed, hal.SpeedFull)
	}
	if c.InterruptStatus()&hal.IntrPort == 0 {
		t.Error("Connect did not raise IntrPort")
	}

	c.WritePort(p.Latches())
	if c.ReadPort().ConnectDetected {
		t.Error("ConnectDetected not cleared by write-one")
	}
	if !c.ReadPort().Connected {
		t.Error("latch write disturbed Connected")
	}
}

func TestController_ResetEnablesPort(t *testing.T) {
	c := New(4)
	c.Connect(hal.SpeedHigh)

	p := c.ReadPort().Masked()
	p.Reset = true
	c.WritePort(p)
	if c.ReadPort().Enabled {
		t.Fatal("port enabled while reset is asserted")
	}

	p = c.ReadPort().Masked()
	p.Reset = false
	c.WritePort(p)

	got := c.ReadPort()
	if !got.Enabled || !got.EnableChanged {
		t.Errorf("port after reset release = %+v", got)
	}
}

func TestController_DisablePort(t *testing.T) {
	c := New(4)
	c.Connect(hal.SpeedHigh)
	p := c.ReadPort().Masked()
	p.Reset = true
	c.WritePort(p)
	p.Reset = false
	c.WritePort(p)

	p = c.ReadPort().Masked()
	p.Enabled = false
	c.WritePort(p)

	if c.ReadPort().Enabled {
		t.Error("port still enabled")
	}
}

func TestController_ChannelLifecycle(t *testing.T) {
	c := New(2)
	p := &hal.ChannelParams{Num: 1, MaxPacket: 64, XferLen: 200}

	c.InitChannel(p)
	if c.ChannelEnabled(1) {
		t.Fatal("channel enabled after InitChannel")
	}

	c.StartTransfer(p)
	if !c.ChannelEnabled(1) || c.Starts(1) != 1 {
		t.Fatalf("channel not started")
	}

	c.ContinueTransfer(p)
	c.ContinueTransfer(p)
	if got := c.Requests(1); got != 3 {
		t.Errorf("Requests() = %d, want 3", got)
	}

	if !c.Complete(1, hal.HaltComplete, 200, hal.PIDData1) {
		t.Fatal("Complete returned false for enabled channel")
	}
	if c.Complete(1, hal.HaltComplete, 0, hal.PIDData0) {
		t.Error("Complete returned true for idle channel")
	}

	res := c.HaltedChannels()
	if len(res) != 1 {
		t.Fatalf("HaltedChannels() len = %d, want 1", len(res))
	}
	if res[0].Num != 1 || res[0].Status != hal.HaltComplete || res[0].XferCount != 200 {
		t.Errorf("result = %+v", res[0])
	}
	if len(c.HaltedChannels()) != 0 {
		t.Error("HaltedChannels did not drain")
	}
}

func TestController_AckHalts(t *testing.T) {
	c := New(3)
	for i := 0; i < 3; i++ {
		p := &hal.ChannelParams{Num: i, MaxPacket: 8}
		c.InitChannel(p)
		c.StartTransfer(p)
	}

	c.HaltChannel(0)
	c.HaltChannel(2)

	if n := c.AckHalts(); n != 2 {
		t.Fatalf("AckHalts() = %d, want 2", n)
	}
	if busy := c.Busy(); len(busy) != 1 || busy[0] != 1 {
		t.Errorf("Busy() = %v, want [1]", busy)
	}
	if c.Halts(0) != 1 || c.Halts(1) != 0 {
		t.Errorf("Halts = %d,%d", c.Halts(0), c.Halts(1))
	}
	if c.InterruptStatus()&hal.IntrHostChannel == 0 {
		t.Error("AckHalts did not raise IntrHostChannel")
	}
}

func TestController_Disconnect(t *testing.T) {
	c := New(2)
	c.Connect(hal.SpeedHigh)
	p := &hal.ChannelParams{Num: 0}
	c.StartTransfer(p)

	c.Disconnect()

	if c.ReadPort().Connected {
		t.Error("still connected")
	}
	if c.ChannelEnabled(0) {
		t.Error("channel enabled after disconnect")
	}
	if c.InterruptStatus()&hal.IntrDisconnect == 0 {
		t.Error("Disconnect did not raise IntrDisconnect")
	}
}

func TestController_Frame(t *testing.T) {
	c := New(1)
	c.SetFrame(0x3ffe)
	c.AdvanceFrame(3)

	if got := c.FrameNumber(); got != 1 {
		t.Errorf("FrameNumber() = %#x, want 1", got)
	}
	if c.InterruptStatus()&hal.IntrSOF == 0 {
		t.Error("AdvanceFrame did not raise IntrSOF")
	}
	c.ClearInterrupts(hal.IntrSOF)
	if c.InterruptStatus()&hal.IntrSOF != 0 {
		t.Error("ClearInterrupts did not clear IntrSOF")
	}
}

// =============================================================================
// DMA Tests
// =============================================================================

func TestDMA_Alloc(t *testing.T) {
	d := NewDMA()

	a, err := d.Alloc(10)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	b, err := d.Alloc(5000)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	if a.DMAAddr()&3 != 0 || b.DMAAddr()&3 != 0 {
		t.Errorf("unaligned addresses %#x %#x", a.DMAAddr(), b.DMAAddr())
	}
	if b.DMAAddr() != a.DMAAddr()+dmaPage {
		t.Errorf("b = %#x, want %#x", b.DMAAddr(), a.DMAAddr()+dmaPage)
	}
	if len(a.Buf()) != 10 {
		t.Errorf("len(Buf()) = %d, want 10", len(a.Buf()))
	}
	if d.Live() != 2 {
		t.Errorf("Live() = %d, want 2", d.Live())
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("double Close = %v, want ErrInvalidParameter", err)
	}
	if d.Live() != 1 {
		t.Errorf("Live() = %d, want 1", d.Live())
	}
}

func TestDMA_FailNext(t *testing.T) {
	d := NewDMA()
	d.FailNext(1)

	if _, err := d.Alloc(64); !errors.Is(err, pkg.ErrNoMemory) {
		t.Fatalf("Alloc = %v, want ErrNoMemory", err)
	}
	if _, err := d.Alloc(64); err != nil {
		t.Fatalf("second Alloc: %v", err)
	}
}

func TestDMA_Syncs(t *testing.T) {
	d := NewDMA()
	m, _ := d.Alloc(8)
	m.SyncForDevice()
	m.SyncForDevice()
	m.SyncForCPU()

	dev, cpu := d.Syncs()
	if dev != 2 || cpu != 1 {
		t.Errorf("Syncs() = %d,%d, want 2,1", dev, cpu)
	}
}
