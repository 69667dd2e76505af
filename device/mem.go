package device

import "sync"

var _ Device = (*MemDevice)(nil)

// MemDevice is an in-memory Device, used by tests and tooling.
type MemDevice struct {
	mu   sync.RWMutex
	data []byte
}

func NewMemDevice(size uint64) *MemDevice {
	return &MemDevice{data: make([]byte, size)}
}

func (d *MemDevice) ReadAt(p []byte, off uint64) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if off >= uint64(len(d.data)) {
		return 0, nil
	}
	n := copy(p, d.data[off:])
	return n, nil
}

func (d *MemDevice) WriteAt(p []byte, off uint64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if off >= uint64(len(d.data)) {
		return 0, nil
	}
	n := copy(d.data[off:], p)
	return n, nil
}

func (d *MemDevice) Size() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return uint64(len(d.data))
}

func (d *MemDevice) Barrier() error { return nil }

func (d *MemDevice) Close() error { return nil }
