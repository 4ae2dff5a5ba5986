package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/paygate/internal/notification"
	"github.com/congo-pay/paygate/internal/payments"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []Frame
	closed bool
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("closed")
	}
	var fr Frame
	if err := json.Unmarshal(data, &fr); err != nil {
		return err
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.frames))
	for _, fr := range f.frames {
		out = append(out, fr.Event)
	}
	return out
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestHubDeliversToRegisteredUser(t *testing.T) {
	hub := NewHub(nil)
	conn := &fakeConn{}
	hub.Register("user-1", conn)

	require.NoError(t, hub.Notify(context.Background(), "user-1", notification.Event{Name: notification.EventFundingSettled}))
	require.NoError(t, hub.Notify(context.Background(), "user-2", notification.Event{Name: notification.EventFundingSettled}))

	assert.Eventually(t, func() bool { return len(conn.events()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{notification.EventFundingSettled}, conn.events())
}

func TestHubSupersedesPreviousConnection(t *testing.T) {
	hub := NewHub(nil)
	first := &fakeConn{}
	second := &fakeConn{}

	old := hub.Register("user-1", first)
	hub.Register("user-1", second)
	assert.True(t, first.isClosed())
	assert.Equal(t, 1, hub.Count())

	// The stale client's deferred unregister must not evict the new one.
	hub.Unregister(old)
	assert.True(t, hub.Connected("user-1"))

	require.NoError(t, hub.Notify(context.Background(), "user-1", notification.Event{Name: notification.EventPaymentFailed}))
	assert.Eventually(t, func() bool { return len(second.events()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, first.events())
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	c := newClient("user-1", &fakeConn{})
	// No write loop, so the queue fills up.
	for i := 0; i < sendBuffer; i++ {
		require.True(t, c.Send(Frame{Event: "tick"}))
	}
	assert.False(t, c.Send(Frame{Event: "tick"}))
}

// gatedConn blocks every write until gate is closed and counts writes that
// start after the connection was handed back.
type gatedConn struct {
	gate     chan struct{}
	writing  chan struct{}
	once     sync.Once
	mu       sync.Mutex
	released bool
	late     int
}

func (g *gatedConn) WriteMessage(int, []byte) error {
	g.mu.Lock()
	if g.released {
		g.late++
	}
	g.mu.Unlock()
	g.once.Do(func() { close(g.writing) })
	<-g.gate
	return nil
}

func (g *gatedConn) Close() error { return nil }

func TestUnregisterWaitsForWriter(t *testing.T) {
	hub := NewHub(nil)
	conn := &gatedConn{gate: make(chan struct{}), writing: make(chan struct{})}
	client := hub.Register("user-1", conn)

	require.True(t, client.Send(Frame{Event: "first"}))
	<-conn.writing
	for i := 0; i < 10; i++ {
		require.True(t, client.Send(Frame{Event: "queued"}))
	}

	unregistered := make(chan struct{})
	go func() {
		hub.Unregister(client)
		conn.mu.Lock()
		conn.released = true
		conn.mu.Unlock()
		close(unregistered)
	}()

	select {
	case <-unregistered:
		t.Fatal("unregister returned while a write was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(conn.gate)
	select {
	case <-unregistered:
	case <-time.After(time.Second):
		t.Fatal("unregister did not return")
	}

	time.Sleep(20 * time.Millisecond)
	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Zero(t, conn.late)
	assert.False(t, client.Send(Frame{Event: "after"}))
}

type stubTokens struct{}

func (stubTokens) VerifyRealtime(token string) (string, error) {
	if token == "good" {
		return "user-1", nil
	}
	return "", errors.New("bad token")
}

type stubCommands struct {
	got payments.Command
}

func (s *stubCommands) Handle(_ context.Context, cmd payments.Command) (any, error) {
	s.got = cmd
	if cmd.TransactionID == "missing" {
		return nil, payments.ErrNotFound
	}
	return payments.StatusView{TransactionID: cmd.TransactionID, Status: payments.StatusPending}, nil
}

func TestDispatch(t *testing.T) {
	cmds := &stubCommands{}
	h := NewHandler(NewHub(nil), stubTokens{}, cmds, nil)

	assert.Equal(t, FramePong, h.dispatch("user-1", []byte(`{"type":"ping"}`)).Event)
	assert.Equal(t, FrameReady, h.dispatch("user-1", []byte(`{"type":"ready"}`)).Event)
	assert.Equal(t, FrameError, h.dispatch("user-1", []byte(`not json`)).Event)
	assert.Equal(t, FrameError, h.dispatch("user-1", []byte(`{"type":"fund","amount":"10"}`)).Event)
	assert.Equal(t, FrameError, h.dispatch("user-1", []byte(`{"type":"transaction_status"}`)).Event)

	fr := h.dispatch("user-1", []byte(`{"type":"transaction_status","transaction_id":"tx-1"}`))
	assert.Equal(t, FrameTransactionStatus, fr.Event)
	assert.Equal(t, "user-1", cmds.got.UID)
	assert.Equal(t, payments.CommandTransactionStatus, cmds.got.Name)

	fr = h.dispatch("user-1", []byte(`{"type":"transaction_status","transaction_id":"missing"}`))
	assert.Equal(t, FrameError, fr.Event)
}

func TestUpgradeRequiresToken(t *testing.T) {
	h := NewHandler(NewHub(nil), stubTokens{}, &stubCommands{}, nil)
	app := fiber.New()
	app.Get("/realtime", h.Upgrade, func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("user_id").(string))
	})

	upgrade := func(token string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/realtime?token="+token, nil)
		req.Header.Set("Connection", "Upgrade")
		req.Header.Set("Upgrade", "websocket")
		return req
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/realtime?token=good", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)

	resp, err = app.Test(upgrade("bad"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = app.Test(upgrade("good"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRedisFanoutRelaysToHub(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	hub := NewHub(nil)
	conn := &fakeConn{}
	hub.Register("user-1", conn)
	fanout := NewRedisFanout(client, hub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fanout.Run(ctx) }()

	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(FanoutChannel)[FanoutChannel] == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, fanout.Notify(ctx, "user-1", notification.Event{Name: notification.EventObligationSettled}))
	assert.Eventually(t, func() bool { return len(conn.events()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("fanout did not stop")
	}
}
