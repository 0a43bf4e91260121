package host

import "github.com/ardnew/otghcd/pkg"

// TransactionType reports which kinds of transfers a selection pass bound
// to channels.
type TransactionType uint8

// Selection results.
const (
	TransactionNone TransactionType = iota
	TransactionPeriodic
	TransactionNonPeriodic
	TransactionAll
)

// String returns a short name.
func (t TransactionType) String() string {
	switch t {
	case TransactionPeriodic:
		return "periodic"
	case TransactionNonPeriodic:
		return "non-periodic"
	case TransactionAll:
		return "all"
	default:
		return "none"
	}
}

// SelectTransactions runs one selection pass: periodic QHs that are due
// are bound to channels first, then non-periodic QHs as far as the
// channel budget allows.
func (h *HCD) SelectTransactions() TransactionType {
	h.lock()
	defer h.unlock()
	return h.selectTransactions()
}

func (h *HCD) selectTransactions() TransactionType {
	ret := TransactionNone

	// Periodic ready list, head first. A bound QH leaves the list, so the
	// head is always the next candidate.
	for len(h.schedule[SchedulePeriodicReady]) > 0 {
		if len(h.freeChannels) == 0 {
			break
		}
		if h.params.UFrameSched && h.availableHostChannels <= 1 {
			break
		}
		q := h.head(SchedulePeriodicReady, 0)
		if err := h.assignAndInitChannel(q); err != nil {
			pkg.LogDebug(pkg.ComponentSchedule, "periodic assign deferred",
				"qh", q.handle,
				"error", err)
			break
		}
		if h.params.UFrameSched {
			h.availableHostChannels--
		}
		h.listMove(q, SchedulePeriodicAssigned)
		ret = TransactionPeriodic
	}

	// Non-periodic inactive list. Skipped QHs stay in place, so the walk
	// indexes past them.
	for i := 0; i < len(h.schedule[ScheduleNonPeriodicInactive]); {
		if !h.params.UFrameSched && h.nonPeriodicChannels >= h.numChannels-h.periodicChannels {
			break
		}
		if len(h.freeChannels) == 0 {
			break
		}
		q := h.head(ScheduleNonPeriodicInactive, i)

		// Hold off retrying a NAKed endpoint within the same frame.
		if q.nakFrame != nakFrameNone &&
			fullFrameNum(q.nakFrame) == fullFrameNum(h.ctrl.FrameNumber()) {
			i++
			continue
		}
		q.nakFrame = nakFrameNone

		if q.ttBufferDirty {
			i++
			continue
		}

		if h.params.UFrameSched && h.availableHostChannels < 1 {
			break
		}
		if err := h.assignAndInitChannel(q); err != nil {
			pkg.LogDebug(pkg.ComponentSchedule, "non-periodic assign deferred",
				"qh", q.handle,
				"error", err)
			break
		}
		if h.params.UFrameSched {
			h.availableHostChannels--
		}
		h.listMove(q, ScheduleNonPeriodicActive)

		if ret == TransactionNone {
			ret = TransactionNonPeriodic
		} else {
			ret = TransactionAll
		}
		if !h.params.UFrameSched {
			h.nonPeriodicChannels++
		}
	}

	if ret != TransactionNone {
		pkg.LogDebug(pkg.ComponentSchedule, "transactions selected",
			"type", ret,
			"free", len(h.freeChannels),
			"np_channels", h.nonPeriodicChannels,
			"p_channels", h.periodicChannels)
	}
	return ret
}
