package tracker

import (
	"sync"

	"golang.org/x/sys/unix"

	trkerrors "github.com/CodedInternet/dextrack/tracker/errors"
)

// MicePointer integrates the relative motion read from a PS/2 style mouse
// device. Reads never block; no pending packets means no movement.
type MicePointer struct {
	Path string

	lock sync.Mutex
	fd   int
	x, y float64
	buf  [96]byte
}

func NewMicePointer(path string) *MicePointer {
	if path == "" {
		path = DefaultMiceDevice
	}
	return &MicePointer{Path: path, fd: -1}
}

func (p *MicePointer) Sample() (x, y float64, err error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.fd < 0 {
		p.fd, err = unix.Open(p.Path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err != nil {
			p.fd = -1
			return p.x, p.y, trkerrors.ConfigError{Field: "simulator.device", Reason: err.Error()}
		}
	}

	for {
		n, err := unix.Read(p.fd, p.buf[:])
		if err == unix.EAGAIN || err == unix.EINTR {
			break
		}
		if err != nil {
			return p.x, p.y, err
		}
		if n <= 0 {
			break
		}

		for i := 0; i+3 <= n; i += 3 {
			// bit 3 of the first byte is always set in a well formed packet
			if p.buf[i]&0x08 == 0 {
				continue
			}
			p.x += float64(int8(p.buf[i+1]))
			p.y += float64(int8(p.buf[i+2]))
		}

		if n < len(p.buf) {
			break
		}
	}

	return p.x, p.y, nil
}

func (p *MicePointer) Close() error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.fd < 0 {
		return nil
	}
	err := unix.Close(p.fd)
	p.fd = -1
	return err
}
