package host

import (
	"fmt"

	"github.com/ardnew/otghcd/host/hal"
	"github.com/ardnew/otghcd/pkg"
)

// assignAndInitChannel binds the head QTD of q to the channel at the head
// of the free list and programs it. The transfer is not started.
//
// A missing QTD, an empty free list or a failed alignment buffer
// allocation return ErrNoMemory with the channel back on the free list and
// q untouched, to be retried on the next pass.
func (h *HCD) assignAndInitChannel(q *qh) error {
	if len(q.qtds) == 0 {
		return fmt.Errorf("%w: qh %d has no qtds", pkg.ErrNoMemory, q.handle)
	}
	ch := h.takeChannel()
	if ch == nil {
		return fmt.Errorf("%w: no free channel", pkg.ErrNoMemory)
	}

	t := q.qtds[0]
	u := t.urb
	q.channel = ch.Num
	t.state = qtdBound

	p := &ch.ChannelParams
	p.DevAddr = u.Pipe.DevAddr
	p.EPNum = u.Pipe.EPNum
	p.EPType = u.Pipe.Type
	p.Speed = q.devSpeed
	p.MaxPacket = maxPacket(q.maxp)

	ch.xferStarted = false
	ch.haltStatus = hal.HaltNone
	ch.errorState = t.errorCount > 0
	ch.haltOnQueue = false
	ch.haltPending = false
	ch.requests = 0

	p.EPIsIn = u.Pipe.IsIn()
	p.DoPing = !p.EPIsIn && q.pingState
	p.DataPIDStart = q.dataToggle
	p.MultiCount = 1

	if u.ActualLength > u.Length && !u.Pipe.IsIn() {
		u.ActualLength = u.Length
	}
	if u.ActualLength < u.Length {
		p.XferLen = u.Length - u.ActualLength
	}
	p.XferCount = 0

	if q.doSplit {
		p.DoSplit = true
		p.XactPos = t.isoSplitPos
		p.CompleteSplit = t.completeSplit
		p.HubAddr = u.HubAddr
		p.HubPort = u.HubPort
	}

	src, unaligned := h.initXfer(ch, t, u)
	if p.EPType != hal.TransferIsochronous && p.XferLen > h.params.MaxTransferSize {
		p.XferLen = h.params.MaxTransferSize
		if p.MaxPacket > 0 {
			p.XferLen -= p.XferLen % uint32(p.MaxPacket)
		}
	}

	if unaligned {
		if err := h.setupAlignBuf(q, ch, src); err != nil {
			ch.reset()
			h.putChannel(ch)
			t.state = qtdQueued
			q.channel = -1
			pkg.LogWarn(pkg.ComponentChannel, "alignment buffer unavailable",
				"qh", q.handle,
				"error", err)
			return fmt.Errorf("%w: alignment buffer: %v", pkg.ErrNoMemory, err)
		}
	}

	if q.isPeriodic() {
		p.MultiCount = hbMult(q.maxp)
	}

	ch.qh = q.handle
	ch.qtd = t
	h.ctrl.InitChannel(p)

	pkg.LogDebug(pkg.ComponentChannel, "channel assigned",
		"channel", ch.Num,
		"qh", q.handle,
		"dev", p.DevAddr,
		"ep", p.EPNum,
		"type", p.EPType,
		"in", p.EPIsIn,
		"len", p.XferLen,
		"split", p.DoSplit)
	return nil
}

// initXfer sets the buffer and length of the channel for the current
// phase of t. It returns the CPU view of the data and true when the DMA
// address is not dword aligned.
func (h *HCD) initXfer(ch *Channel, t *qtd, u *URB) ([]byte, bool) {
	p := &ch.ChannelParams

	switch u.Pipe.Type {
	case hal.TransferControl:
		switch t.phase {
		case controlSetup:
			p.DoPing = false
			p.EPIsIn = false
			p.DataPIDStart = hal.PIDSetup
			if h.params.DMAEnable {
				p.XferDMA = u.SetupDMA
			} else {
				p.XferBuf = u.Setup
			}
			p.XferLen = setupPacketSize

		case controlData:
			p.DataPIDStart = t.dataToggle
			return h.initXferData(ch, u)

		case controlStatus:
			// Opposite of the data stage, IN without one.
			p.EPIsIn = u.Length == 0 || !u.Pipe.IsIn()
			if p.EPIsIn {
				p.DoPing = false
			}
			p.DataPIDStart = hal.PIDData1
			p.XferLen = 0
			if h.params.DMAEnable {
				p.XferDMA = h.statusDMA()
			} else {
				p.XferBuf = h.statusBuf
			}
		}

	case hal.TransferBulk, hal.TransferInterrupt:
		return h.initXferData(ch, u)

	case hal.TransferIsochronous:
		desc := &u.IsoDescs[t.isoFrameIndex]
		desc.Status = nil

		off := desc.Offset + t.isoSplitOffset
		if h.params.DMAEnable {
			p.XferDMA = u.DMA + uint64(off)
		} else {
			p.XferBuf = bufTail(u.Buf, off)
		}
		p.XferLen = 0
		if desc.Length > t.isoSplitOffset {
			p.XferLen = desc.Length - t.isoSplitOffset
		}

		if p.DoSplit && p.XactPos == hal.XactPosAll && p.XferLen > splitMaxPayload {
			p.XactPos = hal.XactPosBegin
		}

		if h.params.DMAEnable && p.XferDMA&3 != 0 {
			return bufTail(u.Buf, off), true
		}
	}
	return nil, false
}

// initXferData points the channel at the unsent part of the URB buffer.
func (h *HCD) initXferData(ch *Channel, u *URB) ([]byte, bool) {
	p := &ch.ChannelParams
	if !h.params.DMAEnable {
		p.XferBuf = bufTail(u.Buf, u.ActualLength)
		return nil, false
	}
	p.XferDMA = u.DMA + uint64(u.ActualLength)
	if p.XferDMA&3 != 0 {
		return bufTail(u.Buf, u.ActualLength), true
	}
	return nil, false
}

// setupAlignBuf routes the transfer through the QH's alignment buffer,
// allocating it on first use. Outbound data is copied in.
func (h *HCD) setupAlignBuf(q *qh, ch *Channel, src []byte) error {
	size := int(h.params.MaxTransferSize)
	if ch.EPType == hal.TransferIsochronous {
		size = isoAlignBufSize
	}

	if q.alignBuf == nil {
		mem, err := h.dma.Alloc(size)
		if err != nil {
			return err
		}
		q.alignBuf = mem
		pkg.LogDebug(pkg.ComponentChannel, "alignment buffer allocated",
			"qh", q.handle,
			"size", size,
			"addr", mem.DMAAddr())
	}

	if !ch.EPIsIn && ch.XferLen > 0 {
		q.alignBuf.SyncForCPU()
		copy(q.alignBuf.Buf(), src[:min(int(ch.XferLen), len(src))])
		q.alignBuf.SyncForDevice()
	}

	ch.AlignBuf = q.alignBuf.DMAAddr()
	return nil
}

// bufTail returns buf from off, or nil past the end.
func bufTail(buf []byte, off uint32) []byte {
	if int(off) >= len(buf) {
		return nil
	}
	return buf[off:]
}
