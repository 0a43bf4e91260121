package host

import (
	"fmt"
	"slices"

	"github.com/ardnew/otghcd/host/hal"
	"github.com/ardnew/otghcd/pkg"
)

// ScheduleState is the schedule list a QH belongs to.
type ScheduleState uint8

// Schedule lists. A QH is on exactly one list, or detached while it is
// created or torn down.
const (
	ScheduleNonPeriodicInactive ScheduleState = iota
	ScheduleNonPeriodicActive
	SchedulePeriodicInactive
	SchedulePeriodicReady
	SchedulePeriodicAssigned
	SchedulePeriodicQueued
	ScheduleDetached

	numSchedules = int(ScheduleDetached)
)

var scheduleNames = [...]string{
	ScheduleNonPeriodicInactive: "np-inactive",
	ScheduleNonPeriodicActive:   "np-active",
	SchedulePeriodicInactive:    "p-inactive",
	SchedulePeriodicReady:       "p-ready",
	SchedulePeriodicAssigned:    "p-assigned",
	SchedulePeriodicQueued:      "p-queued",
	ScheduleDetached:            "detached",
}

// String returns a short list name.
func (s ScheduleState) String() string {
	if int(s) < len(scheduleNames) {
		return scheduleNames[s]
	}
	return "unknown"
}

// IsPeriodic reports whether s is one of the periodic lists.
func (s ScheduleState) IsPeriodic() bool {
	return s >= SchedulePeriodicInactive && s <= SchedulePeriodicQueued
}

// qhHandle references a QH in the arena.
type qhHandle int32

const noQH qhHandle = -1

// endpointKey identifies an endpoint. Control endpoints are bidirectional
// and always use in == false.
type endpointKey struct {
	devAddr uint8
	epNum   uint8
	in      bool
}

func keyOf(p PipeInfo) endpointKey {
	return endpointKey{
		devAddr: p.DevAddr,
		epNum:   p.EPNum,
		in:      p.Type != hal.TransferControl && p.IsIn(),
	}
}

// qh is the scheduling node of one endpoint.
type qh struct {
	handle qhHandle
	key    endpointKey

	epType   hal.TransferType
	epIsIn   bool
	maxp     uint16
	devSpeed hal.Speed
	hubAddr  uint8
	hubPort  uint8
	doSplit  bool

	pingState  bool
	dataToggle hal.PID

	qtds  []*qtd
	state ScheduleState

	// channel is the bound channel index, or -1.
	channel int

	nakFrame      uint16
	ttBufferDirty bool

	// Periodic scheduling.
	interval        uint16
	nextActiveFrame uint16
	usecs           int
	reserved        bool

	// alignBuf is the scratch buffer for non-dword-aligned DMA, acquired
	// on first use and released with the QH.
	alignBuf hal.Mem
}

func (q *qh) isPeriodic() bool {
	return q.epType.IsPeriodic()
}

// qhArena owns every QH. Lists, channels and QTDs refer to QHs by handle.
type qhArena struct {
	slots []*qh
	free  []qhHandle
}

func (a *qhArena) alloc(q *qh) qhHandle {
	if n := len(a.free); n > 0 {
		h := a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[h] = q
		q.handle = h
		return h
	}
	a.slots = append(a.slots, q)
	q.handle = qhHandle(len(a.slots) - 1)
	return q.handle
}

func (a *qhArena) get(h qhHandle) *qh {
	if h < 0 || int(h) >= len(a.slots) {
		return nil
	}
	return a.slots[h]
}

func (a *qhArena) release(h qhHandle) {
	a.slots[h] = nil
	a.free = append(a.free, h)
}

// live returns every allocated QH in handle order.
func (a *qhArena) live() []*qh {
	out := make([]*qh, 0, len(a.slots)-len(a.free))
	for _, q := range a.slots {
		if q != nil {
			out = append(out, q)
		}
	}
	return out
}

// =============================================================================
// Schedule lists
// =============================================================================

// listAdd appends a detached QH to the tail of list s.
func (h *HCD) listAdd(q *qh, s ScheduleState) {
	if q.state != ScheduleDetached {
		panic(fmt.Sprintf("host: qh %d added to %s while on %s", q.handle, s, q.state))
	}
	h.schedule[s] = append(h.schedule[s], q.handle)
	q.state = s
}

// listRemove detaches a QH from its list.
func (h *HCD) listRemove(q *qh) {
	if q.state == ScheduleDetached {
		return
	}
	l := h.schedule[q.state]
	i := slices.Index(l, q.handle)
	if i < 0 {
		panic(fmt.Sprintf("host: qh %d missing from %s", q.handle, q.state))
	}
	h.schedule[q.state] = slices.Delete(l, i, i+1)

	if q.state == ScheduleNonPeriodicActive {
		if i < h.npCursor {
			h.npCursor--
		}
		if h.npCursor >= len(h.schedule[ScheduleNonPeriodicActive]) {
			h.npCursor = 0
		}
	}
	q.state = ScheduleDetached
}

// listMove moves a QH to the tail of list s, keeping FIFO order within
// each list.
func (h *HCD) listMove(q *qh, s ScheduleState) {
	h.listRemove(q)
	h.listAdd(q, s)
}

// head returns the QH at position i of list s.
func (h *HCD) head(s ScheduleState, i int) *qh {
	return h.qhs.get(h.schedule[s][i])
}

// =============================================================================
// QH lifecycle
// =============================================================================

// qhCreate builds a QH for the endpoint of u and registers it. The QH
// starts detached.
func (h *HCD) qhCreate(u *URB, key endpointKey) *qh {
	portSpeed := h.ctrl.ReadPort().Speed

	q := &qh{
		key:        key,
		epType:     u.Pipe.Type,
		epIsIn:     u.Pipe.IsIn(),
		maxp:       u.Pipe.MPS,
		devSpeed:   u.Speed,
		hubAddr:    u.HubAddr,
		hubPort:    u.HubPort,
		dataToggle: hal.PIDData0,
		state:      ScheduleDetached,
		channel:    -1,
		nakFrame:   nakFrameNone,
	}
	if q.devSpeed == hal.SpeedUnknown {
		q.devSpeed = portSpeed
	}
	q.doSplit = q.devSpeed != hal.SpeedHigh && portSpeed == hal.SpeedHigh

	if q.isPeriodic() {
		speed := q.devSpeed
		if q.doSplit {
			speed = hal.SpeedHigh
		}
		bytes := int(hbMult(q.maxp)) * int(maxPacket(q.maxp))
		q.usecs = busTimeUS(speed, q.epIsIn, q.epType == hal.TransferIsochronous, bytes)

		q.interval = uint16(max(u.Interval, 1))
		q.nextActiveFrame = frameNumInc(h.ctrl.FrameNumber(), scheduleSlop)
		if portSpeed == hal.SpeedHigh && q.devSpeed != hal.SpeedHigh {
			// Full/low-speed intervals count frames; the schedule
			// counts micro-frames.
			q.interval *= 8
			q.nextActiveFrame |= 7
		}
	}

	h.qhs.alloc(q)
	h.endpoints[key] = q.handle

	pkg.LogDebug(pkg.ComponentSchedule, "qh created",
		"qh", q.handle,
		"dev", key.devAddr,
		"ep", key.epNum,
		"type", q.epType,
		"speed", q.devSpeed,
		"split", q.doSplit,
		"usecs", q.usecs)
	return q
}

// qhAdd places a detached QH on its inactive list. Periodic QHs must first
// pass admission control.
func (h *HCD) qhAdd(q *qh) error {
	if q.state != ScheduleDetached {
		return nil
	}
	if !q.isPeriodic() {
		h.listAdd(q, ScheduleNonPeriodicInactive)
		return nil
	}
	return h.schedulePeriodic(q)
}

// qhUnlink removes a QH from the schedule and releases its periodic
// reservation. The QH stays registered for its endpoint.
func (h *HCD) qhUnlink(q *qh) {
	h.listRemove(q)
	if q.reserved {
		h.unschedulePeriodic(q)
	}
}

// qhDeactivate takes a QH off the active part of the schedule after its
// channel was released. A QH with QTDs left goes back to an inactive (or,
// under micro-frame scheduling, ready) list; an empty one is unlinked.
func (h *HCD) qhDeactivate(q *qh, schedNextFrame bool) {
	if !q.isPeriodic() {
		h.qhUnlink(q)
		if len(q.qtds) > 0 {
			_ = h.qhAdd(q)
		}
		return
	}

	frame := h.ctrl.FrameNumber()
	if q.doSplit && schedNextFrame {
		q.nextActiveFrame = frameNumInc(frame, 1)
	} else {
		q.nextActiveFrame = frameNumInc(q.nextActiveFrame, q.interval)
		if frameNumLE(q.nextActiveFrame, frame) {
			q.nextActiveFrame = frame
		}
	}

	if len(q.qtds) == 0 {
		h.qhUnlink(q)
		return
	}
	if h.params.UFrameSched && q.nextActiveFrame == frame {
		h.listMove(q, SchedulePeriodicReady)
	} else {
		h.listMove(q, SchedulePeriodicInactive)
	}
}

// qhFree unlinks and destroys an empty QH.
func (h *HCD) qhFree(q *qh) {
	if len(q.qtds) > 0 {
		panic(fmt.Sprintf("host: freeing qh %d with %d qtds", q.handle, len(q.qtds)))
	}
	h.qhUnlink(q)
	if q.alignBuf != nil {
		if err := q.alignBuf.Close(); err != nil {
			pkg.LogWarn(pkg.ComponentSchedule, "align buffer release failed",
				"qh", q.handle,
				"error", err)
		}
		q.alignBuf = nil
	}
	if h.endpoints[q.key] == q.handle {
		delete(h.endpoints, q.key)
	}
	h.qhs.release(q.handle)
	pkg.LogDebug(pkg.ComponentSchedule, "qh freed", "qh", q.handle)
}

// =============================================================================
// QTD linkage
// =============================================================================

// qtdAdd links a QTD into the QH of its endpoint, creating and scheduling
// the QH if needed.
func (h *HCD) qtdAdd(t *qtd) error {
	u := t.urb
	key := keyOf(u.Pipe)

	var q *qh
	created := false
	if hd, ok := h.endpoints[key]; ok {
		q = h.qhs.get(hd)
	} else {
		q = h.qhCreate(u, key)
		created = true
	}

	if err := h.qhAdd(q); err != nil {
		if created {
			h.qhFree(q)
		}
		return err
	}

	t.qh = q.handle
	q.qtds = append(q.qtds, t)
	return nil
}

// qtdUnlinkAndFree removes a QTD from its QH. A QTD a channel still
// references must never be freed.
func (h *HCD) qtdUnlinkAndFree(q *qh, t *qtd) {
	if t.inProcess() {
		panic(fmt.Sprintf("host: freeing %s qtd of qh %d", t.state, q.handle))
	}
	i := slices.Index(q.qtds, t)
	if i < 0 {
		panic(fmt.Sprintf("host: qtd not on qh %d", q.handle))
	}
	q.qtds = slices.Delete(q.qtds, i, i+1)
	t.qh = noQH
	if t.urb.qtd == t {
		t.urb.qtd = nil
	}
}
