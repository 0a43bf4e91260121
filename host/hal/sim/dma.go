package sim

import (
	"fmt"
	"sync"

	"github.com/ardnew/otghcd/host/hal"
	"github.com/ardnew/otghcd/pkg"
)

// dmaBase is the bus address of the first allocation.
const dmaBase = 0x1000_0000

// dmaPage is the allocation granule.
const dmaPage = 4096

// DMA is a DMA memory allocator backed by ordinary Go memory. Regions get
// page-aligned fake bus addresses.
type DMA struct {
	mu   sync.Mutex
	next uint64
	fail int
	live map[uint64]*Mem

	syncDevice int
	syncCPU    int
}

// NewDMA creates an allocator.
func NewDMA() *DMA {
	return &DMA{
		next: dmaBase,
		live: make(map[uint64]*Mem),
	}
}

// Alloc implements [hal.DMA].
func (d *DMA) Alloc(size int) (hal.Mem, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: dma size %d", pkg.ErrInvalidParameter, size)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.fail > 0 {
		d.fail--
		return nil, pkg.ErrNoMemory
	}

	m := &Mem{dma: d, buf: make([]byte, size), addr: d.next}
	d.next += uint64((size + dmaPage - 1) / dmaPage * dmaPage)
	d.live[m.addr] = m
	return m, nil
}

// FailNext makes the next n allocations fail.
func (d *DMA) FailNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = n
}

// Live returns the number of regions allocated and not yet closed.
func (d *DMA) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}

// Syncs returns the number of SyncForDevice and SyncForCPU calls.
func (d *DMA) Syncs() (device, cpu int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.syncDevice, d.syncCPU
}

// Mem is a region returned by [DMA.Alloc].
type Mem struct {
	dma  *DMA
	buf  []byte
	addr uint64
}

// Buf implements [hal.Mem].
func (m *Mem) Buf() []byte { return m.buf }

// DMAAddr implements [hal.Mem].
func (m *Mem) DMAAddr() uint64 { return m.addr }

// SyncForDevice implements [hal.Mem].
func (m *Mem) SyncForDevice() {
	m.dma.mu.Lock()
	m.dma.syncDevice++
	m.dma.mu.Unlock()
}

// SyncForCPU implements [hal.Mem].
func (m *Mem) SyncForCPU() {
	m.dma.mu.Lock()
	m.dma.syncCPU++
	m.dma.mu.Unlock()
}

// Close implements [hal.Mem]. Closing a region twice is an error.
func (m *Mem) Close() error {
	m.dma.mu.Lock()
	defer m.dma.mu.Unlock()
	if _, ok := m.dma.live[m.addr]; !ok {
		return fmt.Errorf("%w: dma region %#x already freed", pkg.ErrInvalidParameter, m.addr)
	}
	delete(m.dma.live, m.addr)
	return nil
}

var _ hal.DMA = (*DMA)(nil)
