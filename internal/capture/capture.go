// Package capture contains the device-capture core: the event filter, the
// connection monitor and the capture loop that turns raw key events from a
// grabbed input device into bus notifications.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"k8s.io/klog/v2"

	"github.com/evremote/evremote/internal/evdev"
)

// EventKeyCommand names the notification published for every accepted key
// event. Automations subscribe by event name and dispatch on key_code.
const EventKeyCommand = "keyboard_remote_command_received"

// Mode selects which key-event value passes the filter.
type Mode string

const (
	ModeKeyUp   Mode = "key_up"
	ModeKeyDown Mode = "key_down"
	ModeKeyHold Mode = "key_hold"
)

// modeValues is the literal mode-to-value mapping. key_up deliberately maps
// to value 0 and key_down to 1; this follows the configuration contract
// as-is and must not be swapped to match kernel press/release conventions.
var modeValues = map[Mode]int32{
	ModeKeyUp:   0,
	ModeKeyDown: 1,
	ModeKeyHold: 2,
}

// ParseMode validates a configured mode string.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if _, ok := modeValues[m]; !ok {
		return "", fmt.Errorf("capture: unknown mode %q (expected %s, %s or %s)",
			s, ModeKeyUp, ModeKeyDown, ModeKeyHold)
	}
	return m, nil
}

// Notification is the emitted unit handed to the Publisher for every
// accepted event.
type Notification struct {
	Name    string `json:"event"`
	KeyCode uint16 `json:"key_code"`
	Device  string `json:"device,omitempty"`
}

// Classify accepts an event iff it is a key event carrying the value the
// mode selects. Rejections are silent: under key_hold a held key floods the
// stream and the hot path must not log.
func Classify(ev evdev.Event, mode Mode) (uint16, bool) {
	want, ok := modeValues[mode]
	if !ok {
		return 0, false
	}
	if ev.Type != evdev.EV_KEY || ev.Value != want {
		return 0, false
	}
	return ev.Code, true
}

// Device is the capture session the loop reads from. *evdev.Device
// implements it; tests substitute fakes.
type Device interface {
	ReadOne() (*evdev.Event, error)
	Release()
}

// AcquireFunc re-opens the descriptor after a reconnect.
type AcquireFunc func(descriptor string) (Device, error)

// SystemAcquire adapts evdev.Acquire to the Device interface.
func SystemAcquire(descriptor string) (Device, error) {
	d, err := evdev.Acquire(descriptor)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Monitor reports when the descriptor exists again after a disconnect.
type Monitor interface {
	// Await blocks until the descriptor is present or ctx is done.
	Await(ctx context.Context) error
}

// Publisher accepts notifications for distribution. Must be safe for use
// from the loop goroutine.
type Publisher interface {
	Publish(Notification) error
}

// settleDelay gives host access control (udev ACLs) time to catch up after
// a device node reappears, before we try to reopen it.
const settleDelay = time.Second

// LoopConfig wires a Loop. Acquire and Settle default to SystemAcquire and
// settleDelay when zero.
type LoopConfig struct {
	Descriptor string
	Mode       Mode
	Device     string // label stamped on every notification
	Monitor    Monitor
	Acquire    AcquireFunc
	Settle     time.Duration
}

// Loop owns one Device at a time and drives the CONNECTED/DISCONNECTED
// state machine. The Device is created on acquisition, replaced after each
// reconnect and never shared outside the loop goroutine.
type Loop struct {
	descriptor string
	mode       Mode
	device     string
	monitor    Monitor
	acquire    AcquireFunc
	settle     time.Duration
	pub        Publisher

	dev       Device
	connected atomic.Bool
}

// NewLoop builds a loop around an already-acquired device, so a loop that
// starts at all starts CONNECTED. Acquisition failures at startup are the
// caller's terminal condition, not the loop's.
func NewLoop(cfg LoopConfig, dev Device, pub Publisher) (*Loop, error) {
	if _, ok := modeValues[cfg.Mode]; !ok {
		return nil, fmt.Errorf("capture: unknown mode %q", cfg.Mode)
	}
	if dev == nil {
		return nil, errors.New("capture: nil device")
	}
	if pub == nil {
		return nil, errors.New("capture: nil publisher")
	}
	if cfg.Monitor == nil {
		return nil, errors.New("capture: nil monitor")
	}

	l := &Loop{
		descriptor: cfg.Descriptor,
		mode:       cfg.Mode,
		device:     cfg.Device,
		monitor:    cfg.Monitor,
		acquire:    cfg.Acquire,
		settle:     cfg.Settle,
		pub:        pub,
		dev:        dev,
	}
	if l.acquire == nil {
		l.acquire = SystemAcquire
	}
	if l.settle <= 0 {
		l.settle = settleDelay
	}
	return l, nil
}

// Connected reports whether the loop currently holds a live device. Safe to
// call from other goroutines (health endpoint).
func (l *Loop) Connected() bool {
	return l.connected.Load()
}

// Run iterates until ctx is cancelled. Disconnections are absorbed locally:
// the handle is released, the monitor waits for the descriptor to come
// back, and acquisition is retried at a constant cadence with no cap. Run
// only ever returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	dev := l.dev
	l.dev = nil
	l.connected.Store(true)
	defer func() {
		if dev != nil {
			dev.Release()
		}
		l.connected.Store(false)
	}()

	klog.V(2).Infof("capture loop started for %s", l.descriptor)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if dev == nil {
			d, err := l.reacquire(ctx)
			if err != nil {
				return err
			}
			if d == nil {
				continue // acquisition rejected, retry next iteration
			}
			dev = d
			l.connected.Store(true)
			klog.V(2).Infof("device %s reconnected", l.descriptor)
			continue
		}

		ev, err := dev.ReadOne()
		switch {
		case errors.Is(err, evdev.ErrDisconnected):
			klog.V(2).Infof("device %s disconnected: %v", l.descriptor, err)
			dev.Release()
			dev = nil
			l.connected.Store(false)
		case err != nil:
			klog.V(4).Infof("read %s: %v", l.descriptor, err)
		case ev == nil:
			// nothing pending, go around and observe cancellation
		default:
			if code, ok := Classify(*ev, l.mode); ok {
				l.emit(code)
			}
		}
	}
}

// reacquire waits for the descriptor to reappear, settles, then makes a
// single acquisition attempt. A nil, nil return means the attempt was
// rejected and the caller should retry.
func (l *Loop) reacquire(ctx context.Context) (Device, error) {
	if err := l.monitor.Await(ctx); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(l.settle):
	}

	d, err := l.acquire(l.descriptor)
	if err != nil {
		klog.V(2).Infof("reacquire %s: %v", l.descriptor, err)
		return nil, nil
	}
	return d, nil
}

func (l *Loop) emit(code uint16) {
	n := Notification{
		Name:    EventKeyCommand,
		KeyCode: code,
		Device:  l.device,
	}
	klog.V(3).Infof("key command: code=%d device=%s", code, l.device)
	if err := l.pub.Publish(n); err != nil {
		klog.Errorf("failed to publish key command (code=%d): %v", code, err)
	}
}
