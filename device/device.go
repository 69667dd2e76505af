// Package device defines the raw block-device boundary.
//
// Offsets and lengths supplied by the core are always multiples of the
// device alignment; the device itself is byte-addressed and makes no
// atomicity promise below that alignment.
package device

// Device provides random access to byte-addressable storage.
type Device interface {
	// ReadAt reads len(p) bytes starting at byte offset off and
	// returns the number of bytes transferred. A short count without
	// an error means the device could not supply the rest.
	ReadAt(p []byte, off uint64) (int, error)

	// WriteAt writes len(p) bytes starting at byte offset off and
	// returns the number of bytes transferred.
	WriteAt(p []byte, off uint64) (int, error)

	// Size reports the device capacity in bytes.
	Size() uint64

	// Barrier ensures data is persisted. When it returns, all
	// outstanding writes are guaranteed to be durably on the device.
	Barrier() error

	// Close releases any resources used by the device and makes it
	// unusable.
	Close() error
}
