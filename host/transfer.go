package host

import (
	"context"
	"encoding/binary"

	"github.com/ardnew/otghcd/host/hal"
)

// SetupPacket is the 8-byte SETUP packet of a control transfer.
type SetupPacket struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

// Bytes encodes the packet in wire order.
func (s SetupPacket) Bytes() []byte {
	b := make([]byte, setupPacketSize)
	b[0] = s.RequestType
	b[1] = s.Request
	binary.LittleEndian.PutUint16(b[2:4], s.Value)
	binary.LittleEndian.PutUint16(b[4:6], s.Index)
	binary.LittleEndian.PutUint16(b[6:8], s.Length)
	return b
}

// Dir returns the direction of the data stage.
func (s SetupPacket) Dir() Direction {
	if s.RequestType&RequestTypeIn != 0 {
		return DirIn
	}
	return DirOut
}

// NewControlURB builds a control URB for setup on endpoint 0 of devAddr.
// data is the data stage buffer; its length must match setup.Length.
func NewControlURB(devAddr uint8, mps uint16, setup SetupPacket, data []byte) *URB {
	u := URBAlloc(0)
	u.SetPipeInfo(devAddr, 0, hal.TransferControl, setup.Dir(), mps)
	u.Setup = setup.Bytes()
	u.SetBuffer(data, 0)
	return u
}

// Submit enqueues u and waits for it to complete. It returns the number of
// bytes transferred.
//
// If ctx ends first, u is dequeued and Submit waits for the cancellation
// to complete before returning ctx.Err(). Cancelling a transfer that is on
// the bus needs the channel halt interrupt, so interrupts must keep being
// serviced while Submit waits.
func (h *HCD) Submit(ctx context.Context, u *URB) (int, error) {
	done := make(chan error, 1)
	callback := u.Complete
	u.Complete = func(u *URB, err error) {
		if callback != nil {
			callback(u, err)
		}
		done <- err
	}
	defer func() { u.Complete = callback }()

	if err := h.Enqueue(u); err != nil {
		return 0, err
	}

	select {
	case err := <-done:
		return int(u.ActualLength), err

	case <-ctx.Done():
		if err := h.Dequeue(u); err != nil {
			// Completed while we were cancelling.
			err := <-done
			return int(u.ActualLength), err
		}
		<-done
		return int(u.ActualLength), ctx.Err()
	}
}
