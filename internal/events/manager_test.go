package events

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func TestEmitDeliversToSubscriber(t *testing.T) {
	m := NewManager(testLogger())

	ch, cancel := m.Subscribe()
	defer cancel()

	m.Emit(EventTradeExecuted, "trading", map[string]interface{}{
		"code": "600519",
	})

	select {
	case ev := <-ch:
		assert.Equal(t, EventTradeExecuted, ev.Type)
		assert.Equal(t, "trading", ev.Module)
		assert.Equal(t, "600519", ev.Data["code"])
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestEmitWithoutSubscribersDoesNotBlock(t *testing.T) {
	m := NewManager(testLogger())

	done := make(chan struct{})
	go func() {
		m.Emit(EventSnapshotTaken, "snapshots", nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked with no subscribers")
	}
}

func TestEmitDropsWhenSubscriberIsFull(t *testing.T) {
	m := NewManager(testLogger())

	_, cancel := m.Subscribe()
	defer cancel()

	// Fill well past the subscriber buffer; Emit must never stall.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			m.Emit(EventTradeExecuted, "trading", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a slow subscriber")
	}
}

func TestCancelRemovesSubscriber(t *testing.T) {
	m := NewManager(testLogger())

	_, cancel := m.Subscribe()
	assert.Equal(t, 1, m.SubscriberCount())

	cancel()
	assert.Equal(t, 0, m.SubscriberCount())

	// Second cancel is a no-op
	cancel()
	assert.Equal(t, 0, m.SubscriberCount())
}

func TestEmitError(t *testing.T) {
	m := NewManager(testLogger())

	ch, cancel := m.Subscribe()
	defer cancel()

	m.EmitError("ledger", errors.New("disk full"))

	select {
	case ev := <-ch:
		assert.Equal(t, EventErrorOccurred, ev.Type)
		assert.Equal(t, "ledger", ev.Module)
		assert.Equal(t, "disk full", ev.Data["error"])
	case <-time.After(time.Second):
		t.Fatal("error event not delivered")
	}
}
