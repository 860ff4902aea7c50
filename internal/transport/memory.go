package transport

import (
	"context"
	"fmt"
	"sync"
)

// WriteRecord is one successful write on a Memory transport.
type WriteRecord struct {
	Addr  uint16
	Value byte
}

// Memory is a simulated register file. It backs the "memory" transport kind
// and the package tests; failures can be injected per call count or address.
type Memory struct {
	mu        sync.Mutex
	width     AddressWidth
	regs      map[uint16]byte
	writes    []WriteRecord
	reads     int
	failWrite int // 1-based index of the write attempt to fail, 0 = never
	attempts  int
	failAddr  map[uint16]error
}

func NewMemory(width AddressWidth) *Memory {
	return &Memory{
		width:    width,
		regs:     make(map[uint16]byte),
		failAddr: make(map[uint16]error),
	}
}

// Preload sets register contents without recording writes.
func (m *Memory) Preload(values map[uint16]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for addr, v := range values {
		m.regs[m.width.Mask(addr)] = v
	}
}

// FailNthWrite makes the n-th write attempt from now on fail.
func (m *Memory) FailNthWrite(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrite = n
	m.attempts = 0
}

// FailAddress makes every access to addr fail with err; nil clears it.
func (m *Memory) FailAddress(addr uint16, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failAddr, addr)
		return
	}
	m.failAddr[addr] = err
}

func (m *Memory) ReadReg(ctx context.Context, addr uint16) (byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	addr = m.width.Mask(addr)
	if err, ok := m.failAddr[addr]; ok {
		return 0, err
	}
	m.reads++
	return m.regs[addr], nil
}

func (m *Memory) WriteReg(ctx context.Context, addr uint16, value byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	addr = m.width.Mask(addr)
	m.attempts++
	if m.failWrite > 0 && m.attempts == m.failWrite {
		return fmt.Errorf("injected failure on write #%d", m.attempts)
	}
	if err, ok := m.failAddr[addr]; ok {
		return err
	}
	m.regs[addr] = value
	m.writes = append(m.writes, WriteRecord{Addr: addr, Value: value})
	return nil
}

// Value returns the current content of a register.
func (m *Memory) Value(addr uint16) byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regs[m.width.Mask(addr)]
}

// Writes returns a copy of all successful writes in order.
func (m *Memory) Writes() []WriteRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WriteRecord, len(m.writes))
	copy(out, m.writes)
	return out
}

// Reads returns the number of successful reads.
func (m *Memory) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// Reset forgets the write log; register contents are kept.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = nil
	m.reads = 0
	m.attempts = 0
	m.failWrite = 0
}
