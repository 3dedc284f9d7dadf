package hooks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/logging"
)

func testManager() *Manager {
	return NewManager(logging.New(nil, "silent"))
}

func TestManager_EmitInOrderWithData(t *testing.T) {
	m := testManager()

	var order []string
	m.On(EventSessionState, "first", func(_ context.Context, p Payload) error {
		order = append(order, "first:"+p.String("state"))
		return nil
	})
	m.On(EventSessionState, "second", func(_ context.Context, p Payload) error {
		assert.Equal(t, EventSessionState, p.Event)
		order = append(order, "second:"+p.String("session"))
		return nil
	})

	m.Emit(context.Background(), EventSessionState, map[string]any{"session": "s1", "state": "connected"})
	assert.Equal(t, []string{"first:connected", "second:s1"}, order)
}

func TestManager_ErrorDoesNotStopChain(t *testing.T) {
	m := testManager()

	var secondCalled bool
	m.On(EventEscalation, "failing", func(_ context.Context, _ Payload) error {
		return errors.New("boom")
	})
	m.On(EventEscalation, "second", func(_ context.Context, _ Payload) error {
		secondCalled = true
		return nil
	})

	m.Emit(context.Background(), EventEscalation, nil)
	assert.True(t, secondCalled)
}

func TestManager_NoHandlersAndNilManager(t *testing.T) {
	m := testManager()
	m.Emit(context.Background(), EventGatewayStop, nil)

	var nilManager *Manager
	nilManager.Emit(context.Background(), EventGatewayStop, nil)
	nilManager.EmitAsync(context.Background(), EventGatewayStop, nil)
}

func TestManager_Off(t *testing.T) {
	m := testManager()

	var kept, removed int
	m.On(EventAdminCommand, "remove-me", func(_ context.Context, _ Payload) error {
		removed++
		return nil
	})
	m.On(EventAdminCommand, "keep-me", func(_ context.Context, _ Payload) error {
		kept++
		return nil
	})

	m.Emit(context.Background(), EventAdminCommand, nil)
	m.Off(EventAdminCommand, "remove-me")
	m.Emit(context.Background(), EventAdminCommand, nil)

	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, kept)
	assert.Equal(t, 1, m.Count(EventAdminCommand))
}

func TestManager_EmitAsync(t *testing.T) {
	m := testManager()

	var count atomic.Int32
	var wg sync.WaitGroup
	wg.Add(2)
	for _, name := range []string{"async1", "async2"} {
		m.On(EventMessageSending, name, func(_ context.Context, _ Payload) error {
			count.Add(1)
			wg.Done()
			return nil
		})
	}

	m.EmitAsync(context.Background(), EventMessageSending, nil)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async handlers did not complete in time")
	}
	assert.Equal(t, int32(2), count.Load())
}

func TestManager_Events(t *testing.T) {
	m := testManager()
	m.On(EventSessionState, "h1", func(_ context.Context, _ Payload) error { return nil })
	m.On(EventMessageReceived, "h2", func(_ context.Context, _ Payload) error { return nil })

	assert.Equal(t, []string{EventMessageReceived, EventSessionState}, m.Events())
}

func TestPayloadString(t *testing.T) {
	p := Payload{Data: map[string]any{"a": "x", "n": 3}}
	assert.Equal(t, "x", p.String("a"))
	assert.Empty(t, p.String("n"))
	assert.Empty(t, p.String("missing"))
}

func TestAllEvents(t *testing.T) {
	require.NotEmpty(t, AllEvents)
	assert.Contains(t, AllEvents, EventSessionState)
	assert.Contains(t, AllEvents, EventEscalation)
}
