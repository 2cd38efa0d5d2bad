package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/evremote/evremote/internal/api"
	"github.com/evremote/evremote/internal/bus"
	"github.com/evremote/evremote/internal/capture"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Server", func() {
	var (
		b         *bus.Bus[capture.Notification]
		connected atomic.Bool
		server    *api.Server
		ctx       context.Context
		stop      context.CancelFunc
		done      chan error
	)

	BeforeEach(func() {
		b = bus.New[capture.Notification]()
		connected.Store(true)
		server = api.NewServer("127.0.0.1:0", b, connected.Load)
		ctx, stop = context.WithCancel(context.Background())
		done = make(chan error, 1)

		go func() {
			done <- server.Run(ctx)
		}()
		Eventually(server.BoundAddr).ShouldNot(BeEmpty())
	})

	AfterEach(func() {
		stop()
		Eventually(done).Should(Receive())
		b.Close()
	})

	It("streams published notifications to websocket clients", func() {
		url := fmt.Sprintf("ws://%s/ws", server.BoundAddr())
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()

		// The subscription hand-off races with the dial; retry the publish
		// until the client sees it.
		received := make(chan capture.Notification, 1)
		go func() {
			var n capture.Notification
			for {
				_, payload, err := conn.ReadMessage()
				if err != nil {
					return
				}
				if json.Unmarshal(payload, &n) == nil {
					received <- n
					return
				}
			}
		}()

		stopPublishing := make(chan struct{})
		defer close(stopPublishing)
		go func() {
			ticker := time.NewTicker(20 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-stopPublishing:
					return
				case <-ticker.C:
					_ = b.Publish(capture.Notification{
						Name:    capture.EventKeyCommand,
						KeyCode: 107,
						Device:  "test-keyboard",
					})
				}
			}
		}()

		var n capture.Notification
		Eventually(received, 5*time.Second).Should(Receive(&n))
		Expect(n.Name).To(Equal(capture.EventKeyCommand))
		Expect(n.KeyCode).To(Equal(uint16(107)))
		Expect(n.Device).To(Equal("test-keyboard"))
	})

	It("reports health from device connectivity", func() {
		url := fmt.Sprintf("http://%s/healthz", server.BoundAddr())

		resp, err := http.Get(url)
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		connected.Store(false)

		resp, err = http.Get(url)
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
	})
})
