package host

import (
	"fmt"

	"github.com/ardnew/otghcd/host/hal"
	"github.com/ardnew/otghcd/pkg"
)

// Periodic frame budgets, in microseconds.
const (
	hsMicroFrameUsecs = 125
	fsFrameMaxUsecs   = 900
)

// periodicChannelAvailable checks that a periodic QH can reserve a channel
// without starving the non-periodic schedule. Micro-frame scheduling
// accounts channels per pass instead.
func (h *HCD) periodicChannelAvailable() error {
	if h.params.UFrameSched {
		return nil
	}
	n := h.numChannels
	if h.periodicChannels+h.nonPeriodicChannels < n && h.periodicChannels < n-1 {
		return nil
	}
	return fmt.Errorf("%w: %d periodic and %d non-periodic of %d channels in use",
		pkg.ErrNoResources, h.periodicChannels, h.nonPeriodicChannels, n)
}

// periodicBandwidthAvailable checks the bus time q would claim.
func (h *HCD) periodicBandwidthAvailable(q *qh) error {
	limit := fsFrameMaxUsecs
	if q.devSpeed == hal.SpeedHigh || q.doSplit {
		limit = hsMicroFrameUsecs * h.params.PeriodicBandwidthPercent / 100
	}
	if h.periodicUsecs+q.usecs > limit {
		return fmt.Errorf("%w: %d+%d us exceeds %d us",
			pkg.ErrBandwidth, h.periodicUsecs, q.usecs, limit)
	}
	return nil
}

// schedulePeriodic reserves a channel and bus time for q and puts it on
// the periodic inactive list. The SOF interrupt runs while any periodic QH
// is scheduled.
func (h *HCD) schedulePeriodic(q *qh) error {
	if err := h.periodicChannelAvailable(); err != nil {
		return err
	}
	if err := h.periodicBandwidthAvailable(q); err != nil {
		return err
	}

	frame := h.ctrl.FrameNumber()
	if frameNumLE(q.nextActiveFrame, frame) {
		q.nextActiveFrame = frameNumInc(frame, 1)
	}

	h.periodicUsecs += q.usecs
	if !h.params.UFrameSched {
		h.periodicChannels++
	}
	q.reserved = true
	h.listAdd(q, SchedulePeriodicInactive)

	h.periodicQHCount++
	if h.periodicQHCount == 1 {
		h.armInterrupt(hal.IntrSOF)
	}

	pkg.LogDebug(pkg.ComponentSchedule, "periodic qh scheduled",
		"qh", q.handle,
		"interval", q.interval,
		"next", q.nextActiveFrame,
		"usecs", q.usecs,
		"claimed", h.periodicUsecs)
	return nil
}

// unschedulePeriodic releases the reservation made by schedulePeriodic.
func (h *HCD) unschedulePeriodic(q *qh) {
	h.periodicUsecs -= q.usecs
	if !h.params.UFrameSched {
		h.periodicChannels--
	}
	q.reserved = false

	h.periodicQHCount--
	if h.periodicQHCount == 0 {
		h.disarmInterrupt(hal.IntrSOF)
	}
}
