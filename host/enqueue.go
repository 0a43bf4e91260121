package host

import (
	"fmt"

	"github.com/ardnew/otghcd/host/hal"
	"github.com/ardnew/otghcd/pkg"
)

// Enqueue submits u. The transfer runs asynchronously; u.Complete is
// called exactly once with the final status.
func (h *HCD) Enqueue(u *URB) error {
	if u == nil {
		return fmt.Errorf("%w: nil urb", pkg.ErrInvalidParameter)
	}

	h.lock()
	defer h.unlock()

	if h.closed {
		return pkg.ErrNotRunning
	}
	if !h.flags.connect {
		return fmt.Errorf("%w: port not connected", pkg.ErrNoDevice)
	}
	if u.qtd != nil {
		// Includes a dequeue still waiting for its channel to halt.
		return fmt.Errorf("%w: urb already queued", pkg.ErrBusy)
	}

	// Some cores cannot run low-speed traffic on a full-speed root port.
	if u.Speed == hal.SpeedLow &&
		h.hw.FSPHYType == hal.PHYDedicated &&
		h.hw.HSPHYType == hal.PHYUTMI &&
		h.ctrl.ReadPort().Speed == hal.SpeedFull {
		return fmt.Errorf("%w: low-speed device on full-speed port", pkg.ErrNoDevice)
	}

	switch u.Pipe.Type {
	case hal.TransferControl:
		if len(u.Setup) < setupPacketSize && !h.params.DMAEnable {
			return fmt.Errorf("%w: control urb without setup packet", pkg.ErrInvalidParameter)
		}
	case hal.TransferIsochronous:
		if len(u.IsoDescs) == 0 {
			return fmt.Errorf("%w: isochronous urb without packets", pkg.ErrInvalidParameter)
		}
	}

	u.Status = nil
	u.ActualLength = 0
	u.ErrorCount = 0

	t := newQTD(u)
	if err := h.qtdAdd(t); err != nil {
		pkg.LogWarn(pkg.ComponentURB, "enqueue failed",
			"dev", u.Pipe.DevAddr,
			"ep", u.Pipe.EPNum,
			"error", err)
		return err
	}
	u.qtd = t

	pkg.LogDebug(pkg.ComponentURB, "urb enqueued",
		"dev", u.Pipe.DevAddr,
		"ep", u.Pipe.EPNum,
		"type", u.Pipe.Type,
		"dir", u.Pipe.Dir,
		"len", u.Length,
		"qh", t.qh)

	// Without a running SOF tick nothing else would pick the transfer up.
	if h.ctrl.InterruptMask()&hal.IntrSOF == 0 {
		if u.Pipe.Type == hal.TransferBulk && u.Flags&FlagGiveBackASAP == 0 {
			return nil
		}
		h.service()
	}
	return nil
}

// Dequeue cancels u. A transfer not yet on the bus completes at once with
// [pkg.ErrCancelled]. A transfer whose channel is running completes once
// the channel has halted. Dequeueing a URB that is not queued returns
// [pkg.ErrInvalidParameter].
func (h *HCD) Dequeue(u *URB) error {
	if u == nil {
		return fmt.Errorf("%w: nil urb", pkg.ErrInvalidParameter)
	}

	h.lock()
	defer h.unlock()

	t := u.qtd
	if t == nil {
		return fmt.Errorf("%w: urb not queued", pkg.ErrInvalidParameter)
	}
	if t.cancelled {
		return fmt.Errorf("%w: urb dequeue already pending", pkg.ErrInvalidParameter)
	}
	q := h.qhs.get(t.qh)
	if q == nil {
		return fmt.Errorf("%w: urb has no queue head", pkg.ErrInvalidParameter)
	}

	if t.state == qtdQueued {
		h.qtdUnlinkAndFree(q, t)
		h.complete(u, pkg.ErrCancelled)
		if len(q.qtds) == 0 {
			h.qhUnlink(q)
		}
		pkg.LogDebug(pkg.ComponentURB, "queued urb dequeued", "qh", q.handle)
		return nil
	}

	ch := h.channels[q.channel]
	if h.flags.connect && ch.xferStarted {
		// The channel may still be moving data into the buffer; the free
		// waits for the halt.
		h.haltChannel(ch, hal.HaltURBDequeue)
		t.state = qtdHaltRequested
		t.cancelled = true
		pkg.LogDebug(pkg.ComponentURB, "in-flight urb dequeue pending halt",
			"qh", q.handle,
			"channel", ch.Num)
		return nil
	}

	h.freeChannel(ch)
	h.qtdUnlinkAndFree(q, t)
	h.complete(u, pkg.ErrCancelled)
	h.qhDeactivate(q, false)
	pkg.LogDebug(pkg.ComponentURB, "bound urb dequeued", "qh", q.handle)
	return nil
}

// Disconnect handles removal of the device on the root port: every
// outstanding URB completes with [pkg.ErrTimeout] and every channel goes
// back to the free list. It is safe to call more than once.
func (h *HCD) Disconnect() {
	h.lock()
	defer h.unlock()
	h.disconnect()
}

func (h *HCD) disconnect() {
	h.flags.connectChange = true
	h.flags.connect = false

	h.disarmInterrupt(hal.IntrNPTxFEmpty | hal.IntrPTxFEmpty | hal.IntrHostChannel)
	h.ctrl.ClearInterrupts(hal.IntrNPTxFEmpty | hal.IntrPTxFEmpty | hal.IntrHostChannel)

	hostMode := h.ctrl.IsHostMode()
	if !hostMode {
		// Keep port power in host mode to detect a reconnect.
		if h.otgState != OTGASuspend {
			h.ctrl.WritePort(hal.PortReg{})
		}
		h.disarmInterrupt(hal.IntrHostMask)
	}

	for _, ch := range h.channels {
		if ch.onFreeList {
			continue
		}
		if hostMode && h.ctrl.ChannelEnabled(ch.Num) {
			h.ctrl.HaltChannel(ch.Num)
		}
		h.freeChannel(ch)
	}

	n := h.killAll(pkg.ErrTimeout)
	h.queuingHighBandwidth = false

	// Halt events for the released channels may still arrive; they find
	// free channels and are dropped.
	pkg.LogInfo(pkg.ComponentHCD, "disconnected",
		"killed", n,
		"free", len(h.freeChannels))
}

// killAll completes every QTD on every schedule list with err and frees
// the emptied QHs. Channels must already be released. URBs dequeued while
// in flight complete with ErrCancelled instead.
func (h *HCD) killAll(err error) int {
	n := 0
	for s := 0; s < numSchedules; s++ {
		for len(h.schedule[s]) > 0 {
			q := h.head(ScheduleState(s), 0)
			for len(q.qtds) > 0 {
				t := q.qtds[0]
				u := t.urb
				status := err
				if t.cancelled {
					status = pkg.ErrCancelled
				}
				h.qtdUnlinkAndFree(q, t)
				h.complete(u, status)
				n++
			}
			h.qhFree(q)
		}
	}
	return n
}

// EndpointDisable releases the queue head of an idle endpoint.
func (h *HCD) EndpointDisable(pipe PipeInfo) error {
	h.lock()
	defer h.unlock()

	hd, ok := h.endpoints[keyOf(pipe)]
	if !ok {
		return nil
	}
	q := h.qhs.get(hd)
	if len(q.qtds) > 0 {
		return fmt.Errorf("%w: endpoint %d has %d transfers queued",
			pkg.ErrBusy, pipe.EPNum, len(q.qtds))
	}
	h.qhFree(q)
	return nil
}

// ClearTTBufferComplete tells the scheduler that the hub driver has
// cleared the transaction translator buffer used by pipe, so its QH may
// be scheduled again.
func (h *HCD) ClearTTBufferComplete(pipe PipeInfo) {
	h.lock()
	defer h.unlock()

	hd, ok := h.endpoints[keyOf(pipe)]
	if !ok {
		return
	}
	q := h.qhs.get(hd)
	if !q.ttBufferDirty {
		return
	}
	q.ttBufferDirty = false
	pkg.LogDebug(pkg.ComponentSchedule, "tt buffer cleared", "qh", q.handle)

	if h.flags.connect {
		h.service()
	}
}

// EndpointReset resets the data toggle of an endpoint to DATA0.
func (h *HCD) EndpointReset(pipe PipeInfo) {
	h.lock()
	defer h.unlock()

	if hd, ok := h.endpoints[keyOf(pipe)]; ok {
		q := h.qhs.get(hd)
		q.dataToggle = hal.PIDData0
		q.pingState = false
	}
}
