package host

import (
	"errors"
	"fmt"

	"github.com/ardnew/otghcd/host/hal"
)

// ChannelState is a snapshot of one host channel.
type ChannelState struct {
	Num        int
	Free       bool
	QH         int
	DevAddr    uint8
	EPNum      uint8
	EPType     hal.TransferType
	EPIsIn     bool
	Split      bool
	XferLen    uint32
	XferCount  uint32
	Requests   int
	Started    bool
	HaltStatus hal.HaltStatus
	Halting    bool
	ErrorState bool
}

// QHState is a snapshot of one queue head.
type QHState struct {
	Handle          int
	DevAddr         uint8
	EPNum           uint8
	EPType          hal.TransferType
	EPIsIn          bool
	Speed           hal.Speed
	List            ScheduleState
	Channel         int
	QTDs            int
	Interval        uint16
	NextActiveFrame uint16
	Usecs           int
	NAKFrame        uint16
	TTDirty         bool
}

// Snapshot is a point-in-time dump of the scheduler.
type Snapshot struct {
	Frame     uint16
	Connected bool
	Running   bool
	Lx        LxState
	Port      hal.PortReg

	NumChannels           int
	FreeChannels          int
	AvailableHostChannels int
	PeriodicChannels      int
	NonPeriodicChannels   int
	PeriodicUsecs         int

	PeriodicTx    hal.TxStatus
	NonPeriodicTx hal.TxStatus
	Mask          hal.Interrupt

	Lists    map[ScheduleState]int
	Channels []ChannelState
	QHs      []QHState
}

// Snapshot returns the current scheduler state.
func (h *HCD) Snapshot() Snapshot {
	h.lock()
	defer h.unlock()

	s := Snapshot{
		Frame:                 h.ctrl.FrameNumber(),
		Connected:             h.flags.connect,
		Running:               h.running,
		Lx:                    h.lx,
		Port:                  h.ctrl.ReadPort(),
		NumChannels:           h.numChannels,
		FreeChannels:          len(h.freeChannels),
		AvailableHostChannels: h.availableHostChannels,
		PeriodicChannels:      h.periodicChannels,
		NonPeriodicChannels:   h.nonPeriodicChannels,
		PeriodicUsecs:         h.periodicUsecs,
		PeriodicTx:            h.ctrl.PeriodicTxStatus(),
		NonPeriodicTx:         h.ctrl.NonPeriodicTxStatus(),
		Mask:                  h.ctrl.InterruptMask(),
		Lists:                 make(map[ScheduleState]int, numSchedules),
	}
	for i, l := range h.schedule {
		s.Lists[ScheduleState(i)] = len(l)
	}
	for _, ch := range h.channels {
		s.Channels = append(s.Channels, ChannelState{
			Num:        ch.Num,
			Free:       ch.onFreeList,
			QH:         int(ch.qh),
			DevAddr:    ch.DevAddr,
			EPNum:      ch.EPNum,
			EPType:     ch.EPType,
			EPIsIn:     ch.EPIsIn,
			Split:      ch.DoSplit,
			XferLen:    ch.XferLen,
			XferCount:  ch.XferCount,
			Requests:   ch.requests,
			Started:    ch.xferStarted,
			HaltStatus: ch.haltStatus,
			Halting:    ch.haltPending || ch.haltOnQueue,
			ErrorState: ch.errorState,
		})
	}
	for _, q := range h.qhs.live() {
		s.QHs = append(s.QHs, QHState{
			Handle:          int(q.handle),
			DevAddr:         q.key.devAddr,
			EPNum:           q.key.epNum,
			EPType:          q.epType,
			EPIsIn:          q.epIsIn,
			Speed:           q.devSpeed,
			List:            q.state,
			Channel:         q.channel,
			QTDs:            len(q.qtds),
			Interval:        q.interval,
			NextActiveFrame: q.nextActiveFrame,
			Usecs:           q.usecs,
			NAKFrame:        q.nakFrame,
			TTDirty:         q.ttBufferDirty,
		})
	}
	return s
}

// CheckInvariants verifies the ownership invariants of the scheduler:
// every channel is either free or owned by exactly one QH, every QH is on
// exactly the list its state names, and every bound QTD heads its QH.
func (h *HCD) CheckInvariants() error {
	h.lock()
	defer h.unlock()

	var errs []error

	owned := 0
	onFree := make(map[int]bool, len(h.freeChannels))
	for _, n := range h.freeChannels {
		if onFree[n] {
			errs = append(errs, fmt.Errorf("channel %d on free list twice", n))
		}
		onFree[n] = true
	}
	for _, ch := range h.channels {
		if onFree[ch.Num] != ch.onFreeList {
			errs = append(errs, fmt.Errorf("channel %d free flag %t, on free list %t",
				ch.Num, ch.onFreeList, onFree[ch.Num]))
		}
		if ch.onFreeList {
			if ch.qh != noQH {
				errs = append(errs, fmt.Errorf("free channel %d owned by qh %d", ch.Num, ch.qh))
			}
			continue
		}
		q := h.qhs.get(ch.qh)
		if q == nil {
			errs = append(errs, fmt.Errorf("channel %d neither free nor owned", ch.Num))
			continue
		}
		if q.channel != ch.Num {
			errs = append(errs, fmt.Errorf("channel %d owner qh %d points at channel %d",
				ch.Num, q.handle, q.channel))
		}
		owned++
	}
	if len(h.freeChannels)+owned != h.numChannels {
		errs = append(errs, fmt.Errorf("%d free + %d owned channels, want %d",
			len(h.freeChannels), owned, h.numChannels))
	}

	seen := make(map[qhHandle]ScheduleState)
	for i, l := range h.schedule {
		s := ScheduleState(i)
		for _, hd := range l {
			if prev, ok := seen[hd]; ok {
				errs = append(errs, fmt.Errorf("qh %d on %s and %s", hd, prev, s))
				continue
			}
			seen[hd] = s
			q := h.qhs.get(hd)
			if q == nil {
				errs = append(errs, fmt.Errorf("freed qh %d on %s", hd, s))
				continue
			}
			if q.state != s {
				errs = append(errs, fmt.Errorf("qh %d on %s, state %s", hd, s, q.state))
			}
		}
	}

	for _, q := range h.qhs.live() {
		if _, ok := seen[q.handle]; !ok && q.state != ScheduleDetached {
			errs = append(errs, fmt.Errorf("qh %d state %s but on no list", q.handle, q.state))
		}
		if q.channel >= 0 {
			if q.channel >= len(h.channels) || h.channels[q.channel].qh != q.handle {
				errs = append(errs, fmt.Errorf("qh %d claims channel %d it does not own",
					q.handle, q.channel))
			}
		}
		for i, t := range q.qtds {
			if t.qh != q.handle {
				errs = append(errs, fmt.Errorf("qtd %d of qh %d points at qh %d", i, q.handle, t.qh))
			}
			if t.urb.qtd != t {
				errs = append(errs, fmt.Errorf("qtd %d of qh %d detached from its urb", i, q.handle))
			}
			if t.inProcess() && (i != 0 || q.channel < 0) {
				errs = append(errs, fmt.Errorf("qtd %d of qh %d is %s without heading a bound qh",
					i, q.handle, t.state))
			}
		}
	}

	return errors.Join(errs...)
}
