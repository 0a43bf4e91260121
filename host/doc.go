// Package host implements the host-mode transfer scheduler of a dual-role
// USB 2.0 controller with a fixed pool of host channels.
//
// The scheduler is hardware-agnostic: it programs channels, reads the
// port register and manages interrupt masks through the [hal.Controller]
// interface, and allocates DMA memory through [hal.DMA]. A software model
// of both lives in [github.com/ardnew/otghcd/host/hal/sim].
//
// # Model
//
// Every endpoint with pending transfers has a queue head (QH) holding an
// ordered list of transfer descriptors (QTDs), one per submitted [URB].
// Each QH sits on exactly one of six schedule lists:
//
//   - non-periodic inactive and active (control, bulk)
//   - periodic inactive, ready, assigned and queued (interrupt, isochronous)
//
// A selection pass binds QHs to free channels, periodic QHs first. A
// queueing pass then starts the bound channels; in slave mode it writes
// requests into the transmit FIFOs and backs off when they are full. The
// channel halt interrupt completes or retries the transfer and returns the
// channel to the free list.
//
// # Locking
//
// One mutex guards all scheduler state. [HCD.HandleInterrupt] is the
// interrupt entry point; [HCD.Enqueue], [HCD.Dequeue] and
// [HCD.HubControl] are the caller-facing entry points. URB completion
// callbacks run after the lock is released and may submit new URBs.
//
// # Cancellation
//
// Dequeueing a URB whose channel is running requests a channel halt. The
// URB completes with [pkg.ErrCancelled] only once the halt is confirmed, so
// the buffer is never released while the channel may still use it.
//
// # Root hub
//
// [HCD.HubControl] answers USB 2.0 hub class requests for the single root
// port, with bit-exact wPortStatus and wPortChange words.
//
// # Example
//
//	ctrl := sim.New(8)
//	hcd, err := host.New(ctrl, sim.NewDMA())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	hcd.Start()
//
//	setup := host.SetupPacket{RequestType: 0x80, Request: 0x06, Value: 0x0100, Length: 18}
//	u := host.NewControlURB(0, 64, setup, make([]byte, 18))
//	n, err := hcd.Submit(ctx, u)
package host
