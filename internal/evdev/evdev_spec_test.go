package evdev

import (
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("decode", func() {
	It("extracts type, code and value from the kernel wire layout", func() {
		raw := inputEvent{
			Time:  unix.Timeval{Sec: 12345, Usec: 678},
			Type:  EV_KEY,
			Code:  107,
			Value: 2,
		}
		buf := unsafe.Slice((*byte)(unsafe.Pointer(&raw)), eventSize)

		ev := decode(buf)
		Expect(ev.Type).To(Equal(EV_KEY))
		Expect(ev.Code).To(Equal(uint16(107)))
		Expect(ev.Value).To(Equal(int32(2)))
	})
})

var _ = Describe("Acquire", func() {
	It("fails when the path does not exist", func() {
		_, err := Acquire(filepath.Join(GinkgoT().TempDir(), "event0"))
		Expect(err).To(HaveOccurred())
	})

	It("fails to grab a node that is not an input device", func() {
		path := filepath.Join(GinkgoT().TempDir(), "not-a-device")
		Expect(os.WriteFile(path, nil, 0o600)).To(Succeed())

		_, err := Acquire(path)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("grab"))
	})
})

var _ = Describe("Release", func() {
	openPlain := func() *Device {
		path := filepath.Join(GinkgoT().TempDir(), "node")
		Expect(os.WriteFile(path, nil, 0o600)).To(Succeed())
		fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK, 0)
		Expect(err).NotTo(HaveOccurred())
		return &Device{path: path, fd: fd}
	}

	It("is idempotent", func() {
		d := openPlain()
		d.Release()
		Expect(func() { d.Release() }).NotTo(Panic())
	})

	It("makes subsequent reads report disconnection", func() {
		d := openPlain()
		d.Release()
		_, err := d.ReadOne()
		Expect(err).To(MatchError(ErrDisconnected))
	})
})
