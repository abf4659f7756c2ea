package pubsub

import (
	"context"
	"sync"

	"github.com/nao1215/siren/pkg/event"
)

// MemoryBroker はプロセス内で完結するブローカー。
// 単一インスタンスの通知サービスで使用する。
type MemoryBroker struct {
	mu      sync.RWMutex
	subs    map[int64]map[*memorySubscriber]struct{}
	bufSize int
	closed  bool

	// OnDrop はイベントを破棄したときに呼ばれる。Subscribe前に設定すること。
	OnDrop DropFunc
}

type memorySubscriber struct {
	ch chan event.Event
}

// NewMemoryBroker は購読者ごとのバッファ長を指定してブローカーを生成する。
// bufSizeが0以下の場合はDefaultBufferSizeを使う。
func NewMemoryBroker(bufSize int) *MemoryBroker {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &MemoryBroker{
		subs:    make(map[int64]map[*memorySubscriber]struct{}),
		bufSize: bufSize,
	}
}

// Publish は受信者の全購読者にイベントを送る。送信はブロックしない。
func (b *MemoryBroker) Publish(_ context.Context, recipientID int64, ev event.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}
	for sub := range b.subs[recipientID] {
		select {
		case sub.ch <- ev:
		default:
			if b.OnDrop != nil {
				b.OnDrop(recipientID)
			}
		}
	}
	return nil
}

// Subscribe は受信者宛てのイベントを購読する。
func (b *MemoryBroker) Subscribe(ctx context.Context, recipientID int64) (*Subscription, error) {
	sub := &memorySubscriber{ch: make(chan event.Event, b.bufSize)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	set, ok := b.subs[recipientID]
	if !ok {
		set = make(map[*memorySubscriber]struct{})
		b.subs[recipientID] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	return newSubscription(ctx, recipientID, sub.ch, func() { b.remove(recipientID, sub) }), nil
}

// remove は購読者を配信対象から外してチャネルを閉じる。
func (b *MemoryBroker) remove(recipientID int64, sub *memorySubscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.subs[recipientID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, recipientID)
	}
	close(sub.ch)
}

// SubscriberCount は受信者の現在の購読者数を返す。
func (b *MemoryBroker) SubscriberCount(recipientID int64) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[recipientID])
}

// Close は全購読を終了し、以降の操作を拒否する。
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for id, set := range b.subs {
		for sub := range set {
			close(sub.ch)
		}
		delete(b.subs, id)
	}
	return nil
}
