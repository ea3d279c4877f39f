package gnordofs

import (
	"fmt"
	"io"
)

// device is the positioned image I/O primitive: no shared file cursor,
// no caching, every higher-level operation addresses the image by
// absolute offset. Any short read or write is surfaced as ErrIO.
type device struct {
	f interface {
		io.ReaderAt
		io.WriterAt
	}
}

func newDevice(f interface {
	io.ReaderAt
	io.WriterAt
}) *device {
	return &device{f: f}
}

// preadExact reads exactly len(buf) bytes at offset, or returns ErrIO.
func (d *device) preadExact(offset int64, buf []byte) error {
	n, err := d.f.ReadAt(buf, offset)
	if n < len(buf) {
		if err != nil {
			return fmt.Errorf("%w: short read at %d (%d/%d bytes): %v", ErrIO, offset, n, len(buf), err)
		}
		return fmt.Errorf("%w: short read at %d (%d/%d bytes)", ErrIO, offset, n, len(buf))
	}
	return nil
}

// pwriteExact writes exactly len(buf) bytes at offset, or returns ErrIO.
func (d *device) pwriteExact(offset int64, buf []byte) error {
	n, err := d.f.WriteAt(buf, offset)
	if n < len(buf) {
		if err != nil {
			return fmt.Errorf("%w: short write at %d (%d/%d bytes): %v", ErrIO, offset, n, len(buf), err)
		}
		return fmt.Errorf("%w: short write at %d (%d/%d bytes)", ErrIO, offset, n, len(buf))
	}
	return nil
}
