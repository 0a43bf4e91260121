package host

import (
	"github.com/ardnew/otghcd/host/hal"
	"github.com/ardnew/otghcd/pkg"
)

// Channel is the scheduler's view of one host channel. It is either on the
// free list or owned by exactly one QH.
type Channel struct {
	hal.ChannelParams

	qh  qhHandle
	qtd *qtd

	onFreeList  bool
	xferStarted bool
	requests    int
	errorState  bool

	haltPending bool
	haltOnQueue bool
	haltStatus  hal.HaltStatus
}

func (ch *Channel) reset() {
	num := ch.Num
	*ch = Channel{qh: noQH}
	ch.Num = num
}

// takeChannel removes the head of the free list.
func (h *HCD) takeChannel() *Channel {
	if len(h.freeChannels) == 0 {
		return nil
	}
	ch := h.channels[h.freeChannels[0]]
	h.freeChannels = h.freeChannels[1:]
	ch.onFreeList = false
	return ch
}

// putChannel appends a channel to the free list tail.
func (h *HCD) putChannel(ch *Channel) {
	ch.onFreeList = true
	h.freeChannels = append(h.freeChannels, ch.Num)
}

// freeChannel unbinds ch from its QH and QTD, cleans it up and returns it
// to the free list. The bound QTD, if any, goes back to queued.
func (h *HCD) freeChannel(ch *Channel) {
	if q := h.qhs.get(ch.qh); q != nil && q.channel == ch.Num {
		q.channel = -1
	}
	if ch.qtd != nil {
		ch.qtd.state = qtdQueued
	}

	periodic := ch.EPType.IsPeriodic()
	h.ctrl.CleanupChannel(ch.Num)
	ch.reset()
	h.putChannel(ch)

	if h.params.UFrameSched {
		h.availableHostChannels++
	} else if !periodic {
		h.nonPeriodicChannels--
	}

	pkg.LogDebug(pkg.ComponentChannel, "channel freed",
		"channel", ch.Num,
		"free", len(h.freeChannels))
}

// startTransfer starts the transfer programmed into ch.
func (h *HCD) startTransfer(ch *Channel) {
	ch.xferStarted = true
	if h.params.DMAEnable || ch.DoPing {
		h.ctrl.StartTransfer(&ch.ChannelParams)
		return
	}

	// Slave mode: the first request, and the first OUT packet, go into
	// the Tx FIFO now.
	ch.requests = 1
	if !ch.EPIsIn && ch.XferLen > 0 {
		ch.XferCount += min(uint32(ch.MaxPacket), ch.XferLen)
	}
	h.ctrl.StartTransfer(&ch.ChannelParams)
}

// continueTransfer queues the next slave-mode request. It reports whether
// a request was queued.
func (h *HCD) continueTransfer(ch *Channel) bool {
	if ch.DoSplit {
		// Splits queue once per channel.
		return false
	}
	if ch.DataPIDStart == hal.PIDSetup {
		// SETUP cannot be NAKed; queued once.
		return false
	}
	if ch.EPIsIn {
		h.ctrl.ContinueTransfer(&ch.ChannelParams)
		ch.requests++
		return true
	}
	if ch.XferCount < ch.XferLen {
		ch.XferCount += min(uint32(ch.MaxPacket), ch.XferLen-ch.XferCount)
		h.ctrl.ContinueTransfer(&ch.ChannelParams)
		ch.requests++
		return true
	}
	return false
}

// haltChannel requests a halt. In slave mode the halt request needs a
// request queue entry; without one, or in the middle of a high-bandwidth
// burst, the halt is deferred to the next queueing pass.
func (h *HCD) haltChannel(ch *Channel, status hal.HaltStatus) {
	if ch.haltPending {
		return
	}
	ch.haltStatus = status

	if !h.params.DMAEnable {
		periodic := ch.EPType.IsPeriodic()
		var tx hal.TxStatus
		if periodic {
			tx = h.ctrl.PeriodicTxStatus()
		} else {
			tx = h.ctrl.NonPeriodicTxStatus()
		}
		if tx.QueueSpace == 0 || (periodic && h.queuingHighBandwidth) {
			ch.haltOnQueue = true
			if periodic {
				h.armInterrupt(hal.IntrPTxFEmpty)
			} else {
				h.armInterrupt(hal.IntrNPTxFEmpty)
			}
			pkg.LogDebug(pkg.ComponentChannel, "halt deferred",
				"channel", ch.Num,
				"status", status)
			return
		}
	}

	h.ctrl.HaltChannel(ch.Num)
	ch.haltPending = true
	ch.haltOnQueue = false
	pkg.LogDebug(pkg.ComponentChannel, "halt requested",
		"channel", ch.Num,
		"status", status)
}

// armInterrupt unmasks global interrupt sources.
func (h *HCD) armInterrupt(i hal.Interrupt) {
	mask := h.ctrl.InterruptMask()
	if mask&i != i {
		h.ctrl.SetInterruptMask(mask | i)
	}
}

// disarmInterrupt masks global interrupt sources.
func (h *HCD) disarmInterrupt(i hal.Interrupt) {
	mask := h.ctrl.InterruptMask()
	if mask&i != 0 {
		h.ctrl.SetInterruptMask(mask &^ i)
	}
}
