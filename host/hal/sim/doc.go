// Package sim provides a software model of a dual-role USB controller in
// host mode, implementing [hal.Controller] and [hal.DMA].
//
// The model keeps just enough hardware state for the scheduler to run
// against it: per-channel programmed parameters and enable bits, a port
// register with write-one-to-clear change latches, interrupt status and
// mask, Tx FIFO status and a 14-bit frame counter. Nothing happens on its
// own; the "bus side" is driven explicitly:
//
//	ctrl := sim.New(8)
//	ctrl.Connect(hal.SpeedHigh)          // raises IntrPort
//	ctrl.Complete(0, hal.HaltComplete, 64, hal.PIDData1)
//	ctrl.AckHalts()                      // confirm requested halts
//	ctrl.AdvanceFrame(1)                 // raises IntrSOF
//
// The scheduler picks these up from its interrupt handler. [DMA] hands out
// page-aligned regions and can be told to fail, to exercise allocation
// failure paths.
package sim
