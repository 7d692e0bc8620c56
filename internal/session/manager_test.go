package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskgate/internal/testing/mock"
)

// fakeTransport answers requests with {"ok":true} and notifications with
// nothing, unless respond is set.
type fakeTransport struct {
	id         string
	respond    func(frame json.RawMessage) (any, error)
	closeErr   error
	closePanic bool
	closeWait  chan struct{}

	closes    atomic.Int32
	frames    atomic.Int32
	streaming chan struct{}
	done      chan struct{}
	once      sync.Once
}

func (t *fakeTransport) HandleMessage(_ context.Context, frame json.RawMessage) (any, error) {
	t.frames.Add(1)
	if t.respond != nil {
		return t.respond(frame)
	}
	var h frameHeader
	_ = json.Unmarshal(frame, &h)
	if len(h.ID) == 0 {
		return nil, nil
	}
	return map[string]any{"jsonrpc": "2.0", "id": h.ID, "result": map[string]any{"ok": true}}, nil
}

func (t *fakeTransport) ServeStream(ctx context.Context, w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	close(t.streaming)
	select {
	case <-ctx.Done():
	case <-t.done:
	}
	return nil
}

func (t *fakeTransport) Close() error {
	t.closes.Add(1)
	if t.closeWait != nil {
		<-t.closeWait
	}
	t.once.Do(func() { close(t.done) })
	if t.closePanic {
		panic("close exploded")
	}
	return t.closeErr
}

func (t *fakeTransport) Done() <-chan struct{} { return t.done }

// fakeFactory records the transports it creates.
type fakeFactory struct {
	mu         sync.Mutex
	transports map[string]*fakeTransport
	configure  func(t *fakeTransport)
}

func newFakeFactory(configure func(t *fakeTransport)) *fakeFactory {
	return &fakeFactory{transports: make(map[string]*fakeTransport), configure: configure}
}

func (f *fakeFactory) New(id string) (Transport, error) {
	t := &fakeTransport{id: id, streaming: make(chan struct{}), done: make(chan struct{})}
	if f.configure != nil {
		f.configure(t)
	}
	f.mu.Lock()
	f.transports[id] = t
	f.mu.Unlock()
	return t, nil
}

func (f *fakeFactory) get(id string) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transports[id]
}

func sequentialIDs() func() string {
	var n atomic.Int32
	return func() string { return fmt.Sprintf("session-%04d", n.Add(1)) }
}

var (
	initFrame = json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	listFrame = json.RawMessage(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
)

func newTestManager(t *testing.T, cfg Config, factory *fakeFactory, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithIDGenerator(sequentialIDs())}, opts...)
	m, err := NewManager(cfg, factory.New, opts...)
	require.NoError(t, err)
	return m
}

func TestNewManager_Defaults(t *testing.T) {
	m, err := NewManager(Config{}, newFakeFactory(nil).New)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), m.Config())

	_, err = NewManager(Config{}, nil)
	assert.Error(t, err)
}

func TestManager_CreateAndTerminate(t *testing.T) {
	factory := newFakeFactory(nil)
	m := newTestManager(t, Config{}, factory)
	ctx := context.Background()

	id, resp, err := m.Initialize(ctx, initFrame)
	require.NoError(t, err)
	assert.Equal(t, "session-0001", id)
	assert.NotNil(t, resp)
	assert.Equal(t, 1, m.Len())

	_, err = m.Handle(ctx, id, listFrame)
	require.NoError(t, err)

	require.NoError(t, m.Terminate(id))
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, int32(1), factory.get(id).closes.Load())

	_, err = m.Handle(ctx, id, listFrame)
	assert.True(t, IsSessionNotFound(err))
	assert.True(t, IsSessionNotFound(m.Terminate(id)))
}

func TestManager_InitializeErrorIsNotStored(t *testing.T) {
	factory := newFakeFactory(func(t *fakeTransport) {
		t.respond = func(json.RawMessage) (any, error) {
			return rejectedInitialize(), nil
		}
	})
	m := newTestManager(t, Config{}, factory)

	id, _, err := m.Initialize(context.Background(), initFrame)
	var initErr *InitializeError
	require.True(t, errors.As(err, &initErr), "got %v", err)
	assert.Empty(t, id)
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, int32(1), factory.get("session-0001").closes.Load())
}

func TestManager_InitializeTransportFailure(t *testing.T) {
	factory := newFakeFactory(func(t *fakeTransport) {
		t.respond = func(json.RawMessage) (any, error) { panic("boom") }
	})
	m := newTestManager(t, Config{}, factory)

	_, _, err := m.Initialize(context.Background(), initFrame)
	require.Error(t, err)
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, int32(1), factory.get("session-0001").closes.Load())
}

func TestManager_IdleSweep(t *testing.T) {
	clock := mock.NewMockClock(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC))
	factory := newFakeFactory(nil)
	m := newTestManager(t, Config{IdleTimeout: 30 * time.Minute}, factory, WithClock(clock.Now))
	ctx := context.Background()

	idle, _, err := m.Initialize(ctx, initFrame)
	require.NoError(t, err)
	busy, _, err := m.Initialize(ctx, initFrame)
	require.NoError(t, err)

	clock.Advance(20 * time.Minute)
	_, err = m.Handle(ctx, busy, listFrame)
	require.NoError(t, err)

	clock.Advance(11 * time.Minute)
	assert.Equal(t, 1, m.sweep())

	_, err = m.Handle(ctx, idle, listFrame)
	assert.True(t, IsSessionNotFound(err))
	assert.Equal(t, int32(1), factory.get(idle).closes.Load())

	_, err = m.Handle(ctx, busy, listFrame)
	assert.NoError(t, err)
}

func TestManager_IdleSweepSkipsOpenStreams(t *testing.T) {
	clock := mock.NewMockClock(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC))
	factory := newFakeFactory(nil)
	m := newTestManager(t, Config{IdleTimeout: 30 * time.Minute}, factory, WithClock(clock.Now))

	id, _, err := m.Initialize(context.Background(), initFrame)
	require.NoError(t, err)

	streamCtx, cancel := context.WithCancel(context.Background())
	streamDone := make(chan error, 1)
	go func() {
		streamDone <- m.Stream(streamCtx, id, httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/mcp", nil))
	}()
	<-factory.get(id).streaming

	// A listening client keeps the session alive past the idle timeout.
	clock.Advance(45 * time.Minute)
	assert.Equal(t, 0, m.sweep())
	assert.Equal(t, 1, m.Len())

	cancel()
	require.NoError(t, <-streamDone)

	// Once the stream is gone the idle clock restarts from its close.
	clock.Advance(29 * time.Minute)
	assert.Equal(t, 0, m.sweep())
	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, m.sweep())
	assert.Equal(t, int32(1), factory.get(id).closes.Load())
}

func TestManager_SweepSurvivesCloseFailures(t *testing.T) {
	clock := mock.NewMockClock(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC))
	factory := newFakeFactory(func(t *fakeTransport) {
		if t.id == "session-0001" {
			t.closePanic = true
		} else {
			t.closeErr = errors.New("close failed")
		}
	})
	m := newTestManager(t, Config{}, factory, WithClock(clock.Now))

	for i := 0; i < 2; i++ {
		_, _, err := m.Initialize(context.Background(), initFrame)
		require.NoError(t, err)
	}

	clock.Advance(time.Hour)
	assert.Equal(t, 2, m.sweep())
	assert.Equal(t, 0, m.Len())
}

func TestManager_EvictsLeastRecentlyUsed(t *testing.T) {
	factory := newFakeFactory(nil)
	m := newTestManager(t, Config{MaxSessions: 2}, factory)
	ctx := context.Background()

	first, _, _ := m.Initialize(ctx, initFrame)
	second, _, _ := m.Initialize(ctx, initFrame)

	// Touch the first session so the second becomes the eviction candidate.
	_, err := m.Handle(ctx, first, listFrame)
	require.NoError(t, err)

	third, _, err := m.Initialize(ctx, initFrame)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())

	_, err = m.Handle(ctx, second, listFrame)
	assert.True(t, IsSessionNotFound(err))
	assert.Eventually(t, func() bool {
		return factory.get(second).closes.Load() == 1
	}, time.Second, 5*time.Millisecond)

	for _, id := range []string{first, third} {
		_, err := m.Handle(ctx, id, listFrame)
		assert.NoError(t, err, id)
	}
}

func TestManager_TransportSelfCloseRemovesSession(t *testing.T) {
	factory := newFakeFactory(nil)
	m := newTestManager(t, Config{}, factory)

	id, _, err := m.Initialize(context.Background(), initFrame)
	require.NoError(t, err)

	require.NoError(t, factory.get(id).Close())
	assert.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestManager_TerminateSwallowsCloseError(t *testing.T) {
	factory := newFakeFactory(func(t *fakeTransport) { t.closeErr = errors.New("already gone") })
	m := newTestManager(t, Config{}, factory)

	id, _, err := m.Initialize(context.Background(), initFrame)
	require.NoError(t, err)
	assert.NoError(t, m.Terminate(id))
	assert.Equal(t, 0, m.Len())
}

func TestManager_FramesAreSerializedPerSession(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	factory := newFakeFactory(func(t *fakeTransport) {
		t.respond = func(json.RawMessage) (any, error) {
			n := inFlight.Add(1)
			for {
				cur := maxInFlight.Load()
				if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
			return map[string]any{"ok": true}, nil
		}
	})
	m := newTestManager(t, Config{}, factory)
	ctx := context.Background()

	id, _, err := m.Initialize(ctx, initFrame)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Handle(ctx, id, listFrame)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestManager_Shutdown(t *testing.T) {
	factory := newFakeFactory(nil)
	m := newTestManager(t, Config{}, factory)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		id, _, err := m.Initialize(ctx, initFrame)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	require.NoError(t, m.Shutdown(ctx))
	assert.Equal(t, 0, m.Len())
	for _, id := range ids {
		assert.Equal(t, int32(1), factory.get(id).closes.Load(), id)
	}

	_, _, err := m.Initialize(ctx, initFrame)
	assert.ErrorIs(t, err, ErrShuttingDown)

	// Run returns immediately once shut down.
	assert.NoError(t, m.Run(ctx))
}

func TestManager_ShutdownGracePeriod(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	factory := newFakeFactory(func(t *fakeTransport) { t.closeWait = block })
	m := newTestManager(t, Config{ShutdownTimeout: 50 * time.Millisecond}, factory)

	_, _, err := m.Initialize(context.Background(), initFrame)
	require.NoError(t, err)

	start := time.Now()
	err = m.Shutdown(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestManager_RunStopsWithContext(t *testing.T) {
	m := newTestManager(t, Config{SweepInterval: time.Millisecond}, newFakeFactory(nil))
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
