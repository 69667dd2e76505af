package device

import (
	"fmt"

	"golang.org/x/sys/unix"
)

var _ Device = (*FileDevice)(nil)

// FileDevice is a Device backed by a regular file or a raw block
// device node, accessed with pread/pwrite.
type FileDevice struct {
	fd   int
	size uint64
}

// OpenFileDevice opens (creating if necessary) the file at path and
// sizes it to size bytes. An existing regular file of a different
// length is truncated or extended to size.
func OpenFileDevice(path string, size uint64) (*FileDevice, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening device %s: %w", path, err)
	}
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("stating device %s: %w", path, err)
	}
	if stat.Mode&unix.S_IFMT == unix.S_IFREG && uint64(stat.Size) != size {
		if err := unix.Ftruncate(fd, int64(size)); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("sizing device %s to %d bytes: %w", path, size, err)
		}
	}
	return &FileDevice{fd: fd, size: size}, nil
}

func (d *FileDevice) ReadAt(p []byte, off uint64) (int, error) {
	total := 0
	for total < len(p) {
		n, err := unix.Pread(d.fd, p[total:], int64(off)+int64(total))
		if err != nil {
			return total, fmt.Errorf("pread at offset %d: %w", off, err)
		}
		if n == 0 {
			break
		}
		total += n
	}
	return total, nil
}

func (d *FileDevice) WriteAt(p []byte, off uint64) (int, error) {
	total := 0
	for total < len(p) {
		n, err := unix.Pwrite(d.fd, p[total:], int64(off)+int64(total))
		total += n
		if err != nil {
			return total, fmt.Errorf("pwrite at offset %d: %w", off, err)
		}
	}
	return total, nil
}

func (d *FileDevice) Size() uint64 {
	return d.size
}

func (d *FileDevice) Barrier() error {
	return unix.Fsync(d.fd)
}

func (d *FileDevice) Close() error {
	return unix.Close(d.fd)
}
