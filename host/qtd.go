package host

import "github.com/ardnew/otghcd/host/hal"

// qtdState tracks whether a QTD may be freed.
type qtdState uint8

const (
	// qtdQueued: on its QH's list, not bound to a channel. Free to drop.
	qtdQueued qtdState = iota

	// qtdBound: a channel is executing this QTD. Freeing it is a bug.
	qtdBound

	// qtdHaltRequested: dequeued while bound; the free happens when the
	// channel reports the halt.
	qtdHaltRequested
)

func (s qtdState) String() string {
	switch s {
	case qtdQueued:
		return "queued"
	case qtdBound:
		return "bound"
	case qtdHaltRequested:
		return "halt-requested"
	default:
		return "unknown"
	}
}

// controlPhase is the stage of a control transfer.
type controlPhase uint8

const (
	controlSetup controlPhase = iota
	controlData
	controlStatus
)

func (p controlPhase) String() string {
	switch p {
	case controlSetup:
		return "setup"
	case controlData:
		return "data"
	default:
		return "status"
	}
}

// qtd is one URB's transfer state while a QH owns it.
type qtd struct {
	urb   *URB
	qh    qhHandle
	state qtdState

	phase      controlPhase
	dataToggle hal.PID

	isoFrameIndex  int
	isoSplitOffset uint32
	isoSplitPos    hal.XactPos
	completeSplit  bool

	errorCount int

	// cancelled is set when the URB was dequeued while its channel ran.
	cancelled bool
}

func newQTD(u *URB) *qtd {
	t := &qtd{
		urb:         u,
		qh:          noQH,
		phase:       controlSetup,
		dataToggle:  hal.PIDData1,
		isoSplitPos: hal.XactPosAll,
	}
	return t
}

// inProcess reports whether a channel references the QTD.
func (t *qtd) inProcess() bool {
	return t.state != qtdQueued
}
