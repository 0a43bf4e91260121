// Package hal defines the hardware abstraction consumed by the host-mode
// transfer scheduler.
//
// The abstraction sits at register level: the scheduler decides which
// endpoint owns which channel and with what parameters, and the
// [Controller] implementation turns [ChannelParams] into register writes.
// Bit layouts, PHY bring-up and clock configuration stay behind the
// interface.
//
// # Interface Overview
//
// [Controller] groups the operations the scheduler needs:
//   - Channel programming, start, slave-mode continuation, halt and cleanup
//   - Host port register access ([PortReg]) for root hub emulation
//   - Global interrupt status and mask ([Interrupt])
//   - Periodic and non-periodic Tx FIFO status ([TxStatus]) for
//     slave-mode backpressure
//   - Frame number for periodic scheduling and NAK deferral
//
// [DMA] and [Mem] are the DMA memory collaborator: allocation of aligned
// scratch buffers plus the sync barriers around CPU copies.
//
// # Concurrency
//
// The scheduler serializes every call behind its own lock. Controller
// methods must not block; anything that completes asynchronously (such as a
// channel halt) is reported through [Controller.HaltedChannels] and the
// [IntrHostChannel] interrupt.
//
// A software implementation for tests and simulation is available in
// [github.com/ardnew/otghcd/host/hal/sim].
package hal
