package host

import (
	"errors"

	"github.com/ardnew/otghcd/host/hal"
	"github.com/ardnew/otghcd/pkg"
)

// errAHB reports a bus error of the DMA engine. It maps to -EIO.
var errAHB = errors.New("AHB error")

// HandleInterrupt services every pending, enabled interrupt source. It is
// the entry point of the controller's interrupt line and returns the
// sources it handled.
func (h *HCD) HandleInterrupt() hal.Interrupt {
	h.lock()
	defer h.unlock()

	pending := h.ctrl.InterruptStatus() & h.ctrl.InterruptMask()
	if pending == 0 {
		return 0
	}
	h.ctrl.ClearInterrupts(pending)

	if pending&hal.IntrDisconnect != 0 {
		h.disconnect()
	}
	if pending&hal.IntrWakeup != 0 {
		h.wakeupIntr()
	}
	if !h.ctrl.IsHostMode() {
		return pending
	}

	if pending&hal.IntrSOF != 0 {
		h.sofIntr()
	}
	if pending&hal.IntrPort != 0 {
		h.portIntr()
	}
	if pending&hal.IntrHostChannel != 0 {
		for _, res := range h.ctrl.HaltedChannels() {
			h.handleChannelHalt(res)
		}
	}
	if pending&hal.IntrNPTxFEmpty != 0 {
		h.queueTransactions(TransactionNonPeriodic)
	}
	if pending&hal.IntrPTxFEmpty != 0 {
		h.queueTransactions(TransactionPeriodic)
	}
	return pending
}

// sofIntr makes every periodic QH due this (micro)frame ready and runs a
// scheduling pass.
func (h *HCD) sofIntr() {
	frame := h.ctrl.FrameNumber()
	for i := 0; i < len(h.schedule[SchedulePeriodicInactive]); {
		q := h.head(SchedulePeriodicInactive, i)
		if frameNumLE(q.nextActiveFrame, frame) {
			h.listMove(q, SchedulePeriodicReady)
			continue
		}
		i++
	}
	h.service()
}

// portIntr latches the port status changes into the root hub flags and
// acknowledges them.
func (h *HCD) portIntr() {
	p := h.ctrl.ReadPort()
	ack := p.Masked()

	if p.ConnectDetected {
		ack.ConnectDetected = true
		h.flags.connectChange = true
		h.flags.connect = true
		// Disconnect masked channel interrupts.
		h.armInterrupt(hal.IntrHostChannel)
		pkg.LogInfo(pkg.ComponentRootHub, "device connected", "speed", p.Speed)
	}
	if p.EnableChanged {
		ack.EnableChanged = true
		if !p.Enabled {
			h.flags.enableChange = true
		}
		pkg.LogDebug(pkg.ComponentRootHub, "port enable changed", "enabled", p.Enabled)
	}
	if p.OverCurrentChanged {
		ack.OverCurrentChanged = true
		h.flags.overCurrentChange = true
		pkg.LogWarn(pkg.ComponentRootHub, "port over-current changed", "active", p.OverCurrent)
	}
	h.ctrl.WritePort(ack)
}

func (h *HCD) wakeupIntr() {
	switch h.lx {
	case LxL2:
		h.clock.AfterFunc(wakeupClearDelay, h.WakeupDetected)
	case LxL1:
		h.remoteWakeup()
		h.lx = LxL0
	}
}

// handleChannelHalt processes one halted channel: account for the data
// moved, decide the fate of the QTD, release the channel and reschedule.
func (h *HCD) handleChannelHalt(res hal.ChannelResult) {
	if res.Num < 0 || res.Num >= len(h.channels) {
		pkg.LogWarn(pkg.ComponentChannel, "halt on unknown channel", "channel", res.Num)
		return
	}
	ch := h.channels[res.Num]
	if ch.onFreeList {
		// Released by disconnect or dequeue before the event arrived.
		pkg.LogDebug(pkg.ComponentChannel, "halt on free channel ignored", "channel", res.Num)
		return
	}

	q := h.qhs.get(ch.qh)
	t := ch.qtd
	if q == nil || t == nil {
		h.freeChannel(ch)
		return
	}
	u := t.urb

	if t.state == qtdHaltRequested {
		h.freeChannel(ch)
		h.qtdUnlinkAndFree(q, t)
		h.complete(u, pkg.ErrCancelled)
		h.qhDeactivate(q, false)
		h.service()
		return
	}

	status := res.Status
	if status == hal.HaltNone && (ch.haltPending || ch.haltOnQueue) {
		status = ch.haltStatus
	}
	count := min(res.XferCount, ch.XferLen)

	pkg.LogDebug(pkg.ComponentChannel, "channel halted",
		"channel", ch.Num,
		"qh", q.handle,
		"status", status,
		"count", count)

	out := h.haltOutcome(q, ch, t, u, status, count, res.NextPID)

	// A failed bulk or control split may leave a stale transaction in the
	// hub's TT buffer. The QH waits until the hub driver clears it.
	if out.done && out.err != nil && q.doSplit && !q.isPeriodic() {
		q.ttBufferDirty = true
		pkg.LogDebug(pkg.ComponentSchedule, "tt buffer dirty",
			"qh", q.handle,
			"hub", q.hubAddr,
			"port", q.hubPort)
	}

	h.freeChannel(ch)
	if out.done {
		u.ErrorCount = t.errorCount
		h.qtdUnlinkAndFree(q, t)
		h.complete(u, out.err)
	}
	h.qhDeactivate(q, out.schedNext)

	if h.flags.connect {
		h.service()
	}
}

// haltResult is what a channel halt means for its QTD.
type haltResult struct {
	done bool  // the URB is finished
	err  error // final URB status when done

	// schedNext retries a split QH in the next (micro)frame.
	schedNext bool
}

var (
	haltRetry     = haltResult{}
	haltNextFrame = haltResult{schedNext: true}
)

func haltFinished(err error) haltResult {
	return haltResult{done: true, err: err}
}

func haltProgress(done bool) haltResult {
	return haltResult{done: done}
}

// clearErrors forgets the transaction errors of a QTD once its retry
// channel saw a good handshake.
func (h *HCD) clearErrors(ch *Channel, t *qtd) {
	if !ch.errorState {
		return
	}
	pkg.LogDebug(pkg.ComponentChannel, "transaction error recovered",
		"channel", ch.Num,
		"errors", t.errorCount)
	t.errorCount = 0
	ch.errorState = false
}

// haltOutcome applies the halt status to the transfer state.
func (h *HCD) haltOutcome(q *qh, ch *Channel, t *qtd, u *URB, status hal.HaltStatus, count uint32, next hal.PID) haltResult {
	nonPeriodic := !q.isPeriodic()

	switch status {
	case hal.HaltComplete, hal.HaltURBComplete:
		h.clearErrors(ch, t)
		t.completeSplit = false
		return haltProgress(h.xferComplete(q, ch, t, u, count, next))

	case hal.HaltACK:
		h.clearErrors(ch, t)
		if ch.DoSplit && !ch.CompleteSplit {
			if u.Pipe.Type == hal.TransferIsochronous && !ch.EPIsIn {
				return haltProgress(h.isoSplitOut(ch, t, u))
			}
			// Start split accepted; the complete split follows.
			t.completeSplit = true
			return haltNextFrame
		}
		if ch.DoPing {
			q.pingState = false
		}
		return haltRetry

	case hal.HaltNAK:
		h.clearErrors(ch, t)
		if ch.DoSplit {
			t.completeSplit = false
		} else {
			h.advance(q, ch, t, u, count)
		}
		h.saveToggle(q, t, u, next)
		if nonPeriodic {
			q.nakFrame = h.ctrl.FrameNumber()
			if q.devSpeed == hal.SpeedHigh && !ch.EPIsIn && !ch.DoSplit {
				q.pingState = true
			}
		}
		return haltRetry

	case hal.HaltNYET:
		h.clearErrors(ch, t)
		if ch.CompleteSplit {
			// Retry the complete split.
			return haltNextFrame
		}
		h.advance(q, ch, t, u, count)
		h.saveToggle(q, t, u, next)
		q.pingState = true
		if u.Pipe.Type == hal.TransferControl {
			if t.phase == controlData && h.urbDone(ch, u, count) {
				t.phase = controlStatus
			}
			return haltRetry
		}
		return haltProgress(h.urbDone(ch, u, count))

	case hal.HaltStall:
		q.dataToggle = hal.PIDData0
		return haltFinished(pkg.ErrStall)

	case hal.HaltXactErr:
		t.errorCount++
		if t.errorCount >= maxTransactionErr {
			return haltFinished(pkg.ErrProtocol)
		}
		if ch.DoSplit {
			t.completeSplit = false
		} else {
			h.advance(q, ch, t, u, count)
			h.saveToggle(q, t, u, next)
			if q.devSpeed == hal.SpeedHigh && !ch.EPIsIn && nonPeriodic {
				q.pingState = true
			}
		}
		return haltRetry

	case hal.HaltDataToggleErr:
		if ch.EPIsIn {
			t.errorCount = 0
		}
		h.saveToggle(q, t, u, next)
		return haltRetry

	case hal.HaltBabbleErr:
		if u.Pipe.Type == hal.TransferIsochronous {
			return haltProgress(h.isoFrameDone(t, u, 0, pkg.ErrOverrun))
		}
		return haltFinished(pkg.ErrOverrun)

	case hal.HaltFrameOverrun, hal.HaltPeriodicIncomplete:
		if u.Pipe.Type == hal.TransferIsochronous {
			return haltProgress(h.isoFrameDone(t, u, 0, pkg.ErrFrameOverrun))
		}
		if u.Pipe.Type == hal.TransferInterrupt {
			return haltFinished(pkg.ErrFrameOverrun)
		}
		return haltRetry

	case hal.HaltAHBErr:
		return haltFinished(errAHB)

	default:
		pkg.LogWarn(pkg.ComponentChannel, "unexpected halt, retrying",
			"channel", ch.Num,
			"status", status)
		return haltRetry
	}
}

// xferComplete handles a channel that finished its programmed transfer.
func (h *HCD) xferComplete(q *qh, ch *Channel, t *qtd, u *URB, count uint32, next hal.PID) bool {
	switch u.Pipe.Type {
	case hal.TransferControl:
		switch t.phase {
		case controlSetup:
			if u.Length > 0 {
				t.phase = controlData
			} else {
				t.phase = controlStatus
			}
			t.dataToggle = hal.PIDData1
			return false

		case controlData:
			h.advance(q, ch, t, u, count)
			t.dataToggle = next
			if h.urbDone(ch, u, count) {
				t.phase = controlStatus
			}
			return false

		default:
			return true
		}

	case hal.TransferBulk, hal.TransferInterrupt:
		h.advance(q, ch, t, u, count)
		q.dataToggle = next
		return h.urbDone(ch, u, count)

	case hal.TransferIsochronous:
		h.copyIn(q, ch, bufTail(u.Buf, u.IsoDescs[t.isoFrameIndex].Offset+t.isoSplitOffset), count)
		return h.isoFrameDone(t, u, t.isoSplitOffset+count, nil)
	}
	return true
}

// isoSplitOut advances an isochronous OUT split by one start split.
func (h *HCD) isoSplitOut(ch *Channel, t *qtd, u *URB) bool {
	desc := &u.IsoDescs[t.isoFrameIndex]
	if ch.XactPos == hal.XactPosAll || ch.XactPos == hal.XactPosEnd {
		return h.isoFrameDone(t, u, desc.Length, nil)
	}
	t.isoSplitOffset += splitMaxPayload
	if desc.Length-t.isoSplitOffset > splitMaxPayload {
		t.isoSplitPos = hal.XactPosMid
	} else {
		t.isoSplitPos = hal.XactPosEnd
	}
	return false
}

// isoFrameDone records the result of the current isochronous packet and
// moves to the next one. It reports whether the URB is finished.
func (h *HCD) isoFrameDone(t *qtd, u *URB, actual uint32, err error) bool {
	desc := &u.IsoDescs[t.isoFrameIndex]
	desc.ActualLength = min(actual, desc.Length)
	desc.Status = err
	u.ActualLength += desc.ActualLength

	t.isoFrameIndex++
	t.isoSplitOffset = 0
	t.isoSplitPos = hal.XactPosAll
	t.completeSplit = false
	return t.isoFrameIndex >= len(u.IsoDescs)
}

// advance accounts for count bytes of a bulk, interrupt or control data
// transfer.
func (h *HCD) advance(q *qh, ch *Channel, t *qtd, u *URB, count uint32) {
	if count == 0 {
		return
	}
	if u.Pipe.Type == hal.TransferControl && t.phase != controlData {
		return
	}
	h.copyIn(q, ch, bufTail(u.Buf, u.ActualLength), count)
	u.ActualLength = min(u.ActualLength+count, u.Length)
}

// urbDone reports whether the data stage is over: everything moved, or a
// short IN packet ended it.
func (h *HCD) urbDone(ch *Channel, u *URB, count uint32) bool {
	if u.ActualLength >= u.Length {
		return true
	}
	return ch.EPIsIn && count < ch.XferLen
}

// copyIn copies IN data received through the alignment buffer to dst.
func (h *HCD) copyIn(q *qh, ch *Channel, dst []byte, count uint32) {
	if !ch.EPIsIn || ch.AlignBuf == 0 || q.alignBuf == nil || count == 0 {
		return
	}
	q.alignBuf.SyncForCPU()
	copy(dst, q.alignBuf.Buf()[:min(int(count), len(q.alignBuf.Buf()))])
}

// saveToggle keeps the data toggle the channel reported for the next
// transfer.
func (h *HCD) saveToggle(q *qh, t *qtd, u *URB, next hal.PID) {
	if u.Pipe.Type == hal.TransferControl {
		if t.phase == controlData {
			t.dataToggle = next
		}
		return
	}
	q.dataToggle = next
}
