package host

import (
	"github.com/ardnew/otghcd/host/hal"
	"github.com/ardnew/otghcd/pkg"
)

// queueResult is the outcome of queueing one request on a channel.
type queueResult int8

const (
	// queueStalled: the Tx FIFO cannot take a packet. Not an error; the
	// caller arms the FIFO empty interrupt and retries.
	queueStalled queueResult = iota - 1

	// queueDone: nothing more to queue for this transfer.
	queueDone

	// queueMore: a request was queued and more may follow.
	queueMore
)

// queueTransaction queues at most one request for ch. fifoWords is the
// free space of the matching Tx FIFO in 32-bit words.
func (h *HCD) queueTransaction(ch *Channel, fifoWords int) queueResult {
	q := h.qhs.get(ch.qh)

	if h.params.DMAEnable {
		// The core bursts every packet of the transfer by itself.
		if !ch.xferStarted {
			h.startTransfer(ch)
			if q != nil {
				q.pingState = false
			}
		}
		return queueDone
	}

	switch {
	case ch.haltPending:
		// Nothing more goes into the queue of a halting channel.
		return queueDone

	case ch.haltOnQueue:
		h.haltChannel(ch, ch.haltStatus)
		return queueDone

	case ch.DoPing:
		if !ch.xferStarted {
			h.startTransfer(ch)
		}
		return queueDone

	case !ch.EPIsIn || ch.DataPIDStart == hal.PIDSetup:
		if fifoWords*4 < int(ch.MaxPacket) {
			return queueStalled
		}
		fallthrough

	default:
		if !ch.xferStarted {
			h.startTransfer(ch)
			return queueMore
		}
		if h.continueTransfer(ch) {
			return queueMore
		}
		return queueDone
	}
}

// processPeriodic queues requests for the channels of periodic assigned
// QHs, moving each to the queued list once its requests are in.
func (h *HCD) processPeriodic() {
	noQueueSpace := false
	noFIFOSpace := false

	for i := 0; i < len(h.schedule[SchedulePeriodicAssigned]); {
		tx := h.ctrl.PeriodicTxStatus()
		if tx.QueueSpace == 0 {
			noQueueSpace = true
			break
		}

		q := h.head(SchedulePeriodicAssigned, i)
		if q.channel < 0 || q.ttBufferDirty {
			i++
			continue
		}
		ch := h.channels[q.channel]

		// Keep halts out of the middle of a high-bandwidth burst.
		if !h.params.DMAEnable && ch.MultiCount > 1 {
			h.queuingHighBandwidth = true
		}

		res := h.queueTransaction(ch, tx.FIFOSpace)
		if res == queueStalled {
			noFIFOSpace = true
			break
		}

		// Slave mode stays on one channel until its burst is queued.
		if h.params.DMAEnable || res == queueDone || ch.requests == int(ch.MultiCount) {
			h.listMove(q, SchedulePeriodicQueued)
			h.queuingHighBandwidth = false
		}
	}

	if h.params.DMAEnable {
		return
	}
	if len(h.schedule[SchedulePeriodicAssigned]) > 0 || noQueueSpace || noFIFOSpace {
		h.armInterrupt(hal.IntrPTxFEmpty)
	} else {
		h.disarmInterrupt(hal.IntrPTxFEmpty)
	}
}

// processNonPeriodic makes one round-robin pass over the non-periodic
// active list, resuming where the previous pass stopped.
func (h *HCD) processNonPeriodic() {
	noQueueSpace := false
	noFIFOSpace := false
	moreToDo := false

	n := len(h.schedule[ScheduleNonPeriodicActive])
	if h.npCursor >= n {
		h.npCursor = 0
	}

	for visited := 0; visited < n; visited++ {
		tx := h.ctrl.NonPeriodicTxStatus()
		if !h.params.DMAEnable && tx.QueueSpace == 0 {
			noQueueSpace = true
			break
		}

		q := h.head(ScheduleNonPeriodicActive, h.npCursor)
		if q.channel >= 0 && !q.ttBufferDirty {
			switch h.queueTransaction(h.channels[q.channel], tx.FIFOSpace) {
			case queueMore:
				moreToDo = true
			case queueStalled:
				noFIFOSpace = true
			}
			if noFIFOSpace {
				break
			}
		}
		h.npCursor = (h.npCursor + 1) % n
	}

	if h.params.DMAEnable {
		return
	}
	if moreToDo || noQueueSpace || noFIFOSpace {
		h.armInterrupt(hal.IntrNPTxFEmpty)
	} else {
		h.disarmInterrupt(hal.IntrNPTxFEmpty)
	}
}

// QueueTransactions queues requests for the channels bound by selection.
func (h *HCD) QueueTransactions(tr TransactionType) {
	h.lock()
	defer h.unlock()
	h.queueTransactions(tr)
}

func (h *HCD) queueTransactions(tr TransactionType) {
	if (tr == TransactionPeriodic || tr == TransactionAll) &&
		len(h.schedule[SchedulePeriodicAssigned]) > 0 {
		h.processPeriodic()
	}

	if tr == TransactionNonPeriodic || tr == TransactionAll {
		if len(h.schedule[ScheduleNonPeriodicActive]) > 0 {
			h.processNonPeriodic()
		} else {
			h.disarmInterrupt(hal.IntrNPTxFEmpty)
		}
	}

	pkg.LogDebug(pkg.ComponentSchedule, "transactions queued",
		"type", tr,
		"p_queued", len(h.schedule[SchedulePeriodicQueued]),
		"np_active", len(h.schedule[ScheduleNonPeriodicActive]))
}

// service runs a selection pass and queues whatever it bound.
func (h *HCD) service() {
	if tr := h.selectTransactions(); tr != TransactionNone {
		h.queueTransactions(tr)
	}
}
