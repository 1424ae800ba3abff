package feed_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/irrigation-dashboard/internal/feed"
	"procodus.dev/irrigation-dashboard/internal/poll"
	"procodus.dev/irrigation-dashboard/pkg/irrigation"
	"procodus.dev/irrigation-dashboard/pkg/logger"
)

type fakeConn struct {
	frames chan []byte
	closed chan struct{}
	closes atomic.Int32

	mu     sync.Mutex
	writes []string
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, string(data))
	return nil
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	case data := <-c.frames:
		return websocket.TextMessage, data, nil
	}
}

func (c *fakeConn) Close() error {
	if c.closes.Add(1) == 1 {
		close(c.closed)
	}
	return nil
}

func (c *fakeConn) Writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.writes...)
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	fail  atomic.Int32
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (feed.Conn, error) {
	if d.fail.Load() > 0 {
		d.fail.Add(-1)
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) Conns() []*fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeConn(nil), d.conns...)
}

func (d *fakeDialer) Last() *fakeConn {
	conns := d.Conns()
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

func ptr(v float64) *float64 { return &v }

var _ = Describe("Feed", func() {
	var (
		dialer  *fakeDialer
		updates atomic.Int32
		cfg     *feed.Config
	)

	BeforeEach(func() {
		dialer = &fakeDialer{}
		updates.Store(0)
		cfg = &feed.Config{
			Logger:         logger.Discard(),
			URL:            "ws://sensors.local/ws",
			Policy:         poll.Every(time.Hour),
			HandshakeDelay: 20 * time.Millisecond,
			Dialer:         dialer,
			OnUpdate:       func(irrigation.Snapshot) { updates.Add(1) },
		}
	})

	start := func(f *feed.Feed) (context.CancelFunc, <-chan error) {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		finished := make(chan struct{})
		go func() {
			done <- f.Run(ctx)
			close(finished)
		}()
		DeferCleanup(func() {
			cancel()
			Eventually(finished).Should(BeClosed())
		})
		return cancel, done
	}

	Describe("New", func() {
		It("should require a URL", func() {
			cfg.URL = ""
			_, err := feed.New(cfg)
			Expect(err).To(MatchError(ContainSubstring("URL cannot be empty")))
		})

		It("should reject non-websocket URLs", func() {
			cfg.URL = "http://sensors.local"
			_, err := feed.New(cfg)
			Expect(err).To(MatchError(ContainSubstring("scheme must be ws or wss")))
		})

		It("should default the interval", func() {
			cfg.Policy = poll.Policy{}
			f, err := feed.New(cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(f).NotTo(BeNil())
		})
	})

	It("should request data on open and again after the handshake delay", func() {
		f, err := feed.New(cfg)
		Expect(err).NotTo(HaveOccurred())
		start(f)

		Eventually(dialer.Last).ShouldNot(BeNil())
		conn := dialer.Last()
		Eventually(conn.Writes).Should(Equal([]string{feed.RequestMessage, feed.RequestMessage}))
	})

	It("should merge partial frames field by field", func() {
		f, err := feed.New(cfg)
		Expect(err).NotTo(HaveOccurred())
		start(f)

		Eventually(dialer.Last).ShouldNot(BeNil())
		conn := dialer.Last()
		conn.frames <- []byte(`{"Temperature":20}`)
		conn.frames <- []byte(`{"Humidity":50}`)
		conn.frames <- []byte(`not json`)
		conn.frames <- []byte(`{"Temperature":21.5}`)

		Eventually(updates.Load).Should(Equal(int32(3)))
		snap := f.Snapshot()
		Expect(snap.Temperature).To(Equal(ptr(21.5)))
		Expect(snap.Humidity).To(Equal(ptr(50)))
		Expect(snap.SoilMoisture).To(BeNil())
	})

	It("should recycle the connection every interval and keep the snapshot", func() {
		cfg.Policy = poll.Every(100 * time.Millisecond)
		f, err := feed.New(cfg)
		Expect(err).NotTo(HaveOccurred())
		start(f)

		Eventually(dialer.Last).ShouldNot(BeNil())
		dialer.Last().frames <- []byte(`{"SoilMoisture":33}`)
		Eventually(updates.Load).Should(Equal(int32(1)))

		Eventually(func() int { return len(dialer.Conns()) }, 2*time.Second).Should(BeNumerically(">=", 3))

		conns := dialer.Conns()
		for _, c := range conns[:len(conns)-1] {
			Expect(c.closes.Load()).To(Equal(int32(1)))
		}
		Expect(f.Snapshot().SoilMoisture).To(Equal(ptr(33)))
	})

	It("should close the socket exactly once and ignore frames after stop", func() {
		f, err := feed.New(cfg)
		Expect(err).NotTo(HaveOccurred())
		cancel, done := start(f)

		Eventually(dialer.Last).ShouldNot(BeNil())
		conn := dialer.Last()
		conn.frames <- []byte(`{"Temperature":19}`)
		Eventually(updates.Load).Should(Equal(int32(1)))

		cancel()
		Eventually(done).Should(Receive(BeNil()))
		Expect(conn.closes.Load()).To(Equal(int32(1)))

		conn.frames <- []byte(`{"Temperature":40}`)
		Consistently(updates.Load, 100*time.Millisecond).Should(Equal(int32(1)))
		Expect(f.Snapshot().Temperature).To(Equal(ptr(19)))
		Expect(dialer.Conns()).To(HaveLen(1))
	})

	It("should keep retrying after dial failures", func() {
		dialer.fail.Store(2)
		cfg.Policy = poll.Every(10 * time.Millisecond)
		f, err := feed.New(cfg)
		Expect(err).NotTo(HaveOccurred())
		start(f)

		Eventually(dialer.Last).ShouldNot(BeNil())
		Expect(dialer.fail.Load()).To(BeZero())
	})

	It("should refuse to run twice at once", func() {
		f, err := feed.New(cfg)
		Expect(err).NotTo(HaveOccurred())
		start(f)
		Eventually(dialer.Last).ShouldNot(BeNil())

		Expect(f.Run(context.Background())).To(MatchError(ContainSubstring("already running")))
	})

	Context("against a websocket server", func() {
		It("should read frames pushed in reply to a data request", func() {
			upgrader := websocket.Upgrader{}
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				conn, err := upgrader.Upgrade(w, r, nil)
				if err != nil {
					return
				}
				defer conn.Close()
				for {
					_, msg, err := conn.ReadMessage()
					if err != nil {
						return
					}
					if string(msg) == feed.RequestMessage {
						_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"SoilMoisture":40.5}`))
					}
				}
			}))
			DeferCleanup(srv.Close)

			cfg.Dialer = nil
			cfg.URL = "ws" + strings.TrimPrefix(srv.URL, "http")
			f, err := feed.New(cfg)
			Expect(err).NotTo(HaveOccurred())
			start(f)

			Eventually(func() *float64 { return f.Snapshot().SoilMoisture }).Should(Equal(ptr(40.5)))
		})
	})
})
