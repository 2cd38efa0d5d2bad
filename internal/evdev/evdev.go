// Package evdev provides exclusive capture of a single Linux input device
// node. A Device wraps one open, grabbed session against /dev/input/event*
// (or a stable alias under /dev/input/by-id) and hands out raw kernel
// input_event records one at a time.
//
// While a Device is held, EVIOCGRAB suppresses event delivery to every other
// consumer on the host. That is the point of this package, but it means the
// grabbed keyboard is unusable for normal typing.
package evdev

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Event classes from linux/input-event-codes.h, limited to what callers
// need to tell key events apart from the rest of the stream.
const (
	EV_SYN uint16 = 0x00
	EV_KEY uint16 = 0x01
	EV_REL uint16 = 0x02
	EV_ABS uint16 = 0x03
	EV_MSC uint16 = 0x04
)

// EVIOCGRAB = _IOW('E', 0x90, int), hardcoded to avoid cgo.
const eviocgrab = uintptr(0x40044590)

// ErrDisconnected reports that the underlying device node is no longer
// reachable. Read errors are wrapped with it so callers can match with
// errors.Is while keeping the errno detail.
var ErrDisconnected = errors.New("evdev: device disconnected")

// Event is one hardware-reported occurrence: a class tag, a device-defined
// code and a value (for EV_KEY: 0 release, 1 press, 2 autorepeat).
type Event struct {
	Type  uint16
	Code  uint16
	Value int32
}

// inputEvent mirrors struct input_event from linux/input.h.
type inputEvent struct {
	Time  unix.Timeval
	Type  uint16
	Code  uint16
	Value int32
}

var eventSize = int(unsafe.Sizeof(inputEvent{}))

// pollTimeoutMs bounds every ReadOne so callers can observe cancellation
// between reads even while the device is silent.
const pollTimeoutMs = 250

// Device is one exclusive capture session. It is owned by a single
// goroutine; none of its methods are safe for concurrent use.
type Device struct {
	path    string
	fd      int
	grabbed bool
	closed  bool
}

// Acquire opens path and requests an exclusive grab. It fails if the node
// does not exist, cannot be opened, or is already grabbed elsewhere.
func Acquire(path string) (*Device, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("evdev: open %s: %w", path, err)
	}

	d := &Device{path: path, fd: fd}
	if err := ioctl(fd, eviocgrab, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("evdev: grab %s: %w", path, err)
	}
	d.grabbed = true

	return d, nil
}

// Path returns the descriptor this session was opened against.
func (d *Device) Path() string {
	return d.path
}

// ReadOne waits up to the poll timeout for one event. It returns (nil, nil)
// when no event is currently available, and an error wrapping
// ErrDisconnected when the node has gone away under us.
func (d *Device) ReadOne() (*Event, error) {
	if d.closed {
		return nil, ErrDisconnected
	}

	pfd := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfd, pollTimeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: poll: %v", ErrDisconnected, err)
	}
	if n == 0 {
		return nil, nil
	}
	if pfd[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		return nil, fmt.Errorf("%w: poll revents %#x", ErrDisconnected, pfd[0].Revents)
	}

	buf := make([]byte, eventSize)
	nr, err := unix.Read(d.fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return nil, nil
		}
		// The kernel reports an unplugged evdev node as ENODEV; treat any
		// other hard read error the same way and let the caller reconnect.
		return nil, fmt.Errorf("%w: read: %v", ErrDisconnected, err)
	}
	if nr < eventSize {
		return nil, nil
	}

	ev := decode(buf)
	return &ev, nil
}

// Release ungrabs and closes the session. Best effort and idempotent: the
// ungrab may fail if the node is already gone, which is fine.
func (d *Device) Release() {
	if d.closed {
		return
	}
	d.closed = true
	if d.grabbed {
		_ = ioctl(d.fd, eviocgrab, 0)
		d.grabbed = false
	}
	_ = unix.Close(d.fd)
}

func decode(buf []byte) Event {
	raw := (*inputEvent)(unsafe.Pointer(&buf[0]))
	return Event{Type: raw.Type, Code: raw.Code, Value: raw.Value}
}

func ioctl(fd int, req, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, arg)
	if errno != 0 {
		return errno
	}
	return nil
}
