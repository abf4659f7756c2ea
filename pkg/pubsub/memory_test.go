package pubsub

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nao1215/siren/pkg/event"
)

func newTestEvent(t *testing.T, recipientID int64, message string) event.Event {
	t.Helper()
	ev, err := event.New(recipientID, event.TypeNotificationCreated, event.Notification{
		ID:          "n-" + message,
		RecipientID: recipientID,
		Message:     message,
		Timestamp:   time.Now().UTC(),
	})
	require.NoError(t, err)
	return *ev
}

func receive(t *testing.T, sub *Subscription) event.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C:
		require.True(t, ok, "チャネルがクローズされている")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("イベントが届かない")
		return event.Event{}
	}
}

func assertNoEvent(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case ev, ok := <-sub.C:
		if ok {
			t.Fatalf("想定外のイベント: %+v", ev)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBroker_PublishToAllSubscribers(t *testing.T) {
	t.Parallel()

	b := NewMemoryBroker(4)
	t.Cleanup(func() { _ = b.Close() })
	ctx := t.Context()

	s1, err := b.Subscribe(ctx, 42)
	require.NoError(t, err)
	s2, err := b.Subscribe(ctx, 42)
	require.NoError(t, err)

	ev := newTestEvent(t, 42, "fire")
	require.NoError(t, b.Publish(ctx, 42, ev))

	got1 := receive(t, s1)
	got2 := receive(t, s2)
	assert.Equal(t, ev.ID, got1.ID)
	assert.Equal(t, got1.ID, got2.ID)
	assert.JSONEq(t, string(got1.Data), string(got2.Data))

	// 発行後に購読した場合は過去のイベントを受け取らない
	late, err := b.Subscribe(ctx, 42)
	require.NoError(t, err)
	assertNoEvent(t, late)
}

func TestMemoryBroker_OtherRecipientIsolated(t *testing.T) {
	t.Parallel()

	b := NewMemoryBroker(4)
	ctx := t.Context()

	other, err := b.Subscribe(ctx, 7)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, 42, newTestEvent(t, 42, "fire")))
	assertNoEvent(t, other)
}

func TestMemoryBroker_PublishWithoutSubscribers(t *testing.T) {
	t.Parallel()

	b := NewMemoryBroker(0)
	assert.NoError(t, b.Publish(t.Context(), 1, newTestEvent(t, 1, "x")))
}

func TestMemoryBroker_DropWhenFull(t *testing.T) {
	t.Parallel()

	b := NewMemoryBroker(1)
	var drops atomic.Int64
	b.OnDrop = func(recipientID int64) {
		assert.Equal(t, int64(3), recipientID)
		drops.Add(1)
	}
	ctx := t.Context()

	slow, err := b.Subscribe(ctx, 3)
	require.NoError(t, err)

	first := newTestEvent(t, 3, "first")
	require.NoError(t, b.Publish(ctx, 3, first))
	require.NoError(t, b.Publish(ctx, 3, newTestEvent(t, 3, "second")))
	require.NoError(t, b.Publish(ctx, 3, newTestEvent(t, 3, "third")))

	assert.Equal(t, int64(2), drops.Load())
	assert.Equal(t, first.ID, receive(t, slow).ID)
}

func TestMemoryBroker_CloseSubscription(t *testing.T) {
	t.Parallel()

	t.Run("Closeで配信対象から外れチャネルが閉じること", func(t *testing.T) {
		t.Parallel()

		b := NewMemoryBroker(4)
		sub, err := b.Subscribe(t.Context(), 5)
		require.NoError(t, err)
		assert.Equal(t, 1, b.SubscriberCount(5))

		sub.Close()
		sub.Close()

		assert.Equal(t, 0, b.SubscriberCount(5))
		_, ok := <-sub.C
		assert.False(t, ok)
		assert.NoError(t, b.Publish(t.Context(), 5, newTestEvent(t, 5, "after")))
	})

	t.Run("コンテキスト終了で購読が終わること", func(t *testing.T) {
		t.Parallel()

		b := NewMemoryBroker(4)
		ctx, cancel := context.WithCancel(t.Context())
		sub, err := b.Subscribe(ctx, 5)
		require.NoError(t, err)

		cancel()
		assert.Eventually(t, func() bool { return b.SubscriberCount(5) == 0 }, time.Second, 10*time.Millisecond)
		_, ok := <-sub.C
		assert.False(t, ok)
	})

	t.Run("ブローカーのClose後は操作がErrClosedになること", func(t *testing.T) {
		t.Parallel()

		b := NewMemoryBroker(4)
		sub, err := b.Subscribe(t.Context(), 5)
		require.NoError(t, err)

		require.NoError(t, b.Close())
		_, ok := <-sub.C
		assert.False(t, ok)
		sub.Close()

		assert.ErrorIs(t, b.Publish(t.Context(), 5, newTestEvent(t, 5, "x")), ErrClosed)
		_, err = b.Subscribe(t.Context(), 5)
		assert.ErrorIs(t, err, ErrClosed)
	})
}
