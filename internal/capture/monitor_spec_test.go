package capture_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/evremote/evremote/internal/capture"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("PathMonitor", func() {
	var (
		dir  string
		node string
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		node = filepath.Join(dir, "event7")
	})

	create := func() {
		Expect(os.WriteFile(node, nil, 0o600)).To(Succeed())
	}

	It("returns immediately when the node already exists", func() {
		create()
		mon, err := capture.NewPathMonitor(node)
		Expect(err).NotTo(HaveOccurred())
		defer mon.Close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		Expect(mon.Await(ctx)).To(Succeed())
		Expect(mon.Present()).To(BeTrue())
	})

	It("wakes up when the node appears", func() {
		mon, err := capture.NewPathMonitor(node)
		Expect(err).NotTo(HaveOccurred())
		defer mon.Close()

		Expect(mon.Present()).To(BeFalse())

		done := make(chan error, 1)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			done <- mon.Await(ctx)
		}()

		Consistently(done, 50*time.Millisecond).ShouldNot(Receive())
		create()

		var err2 error
		Eventually(done).Should(Receive(&err2))
		Expect(err2).NotTo(HaveOccurred())
	})

	It("returns the context error on cancellation", func() {
		mon, err := capture.NewPathMonitor(node)
		Expect(err).NotTo(HaveOccurred())
		defer mon.Close()

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- mon.Await(ctx)
		}()

		cancel()
		var err2 error
		Eventually(done).Should(Receive(&err2))
		Expect(err2).To(MatchError(context.Canceled))
	})

	It("fails when the parent directory does not exist", func() {
		_, err := capture.NewPathMonitor(filepath.Join(dir, "missing", "event0"))
		Expect(err).To(HaveOccurred())
	})
})
