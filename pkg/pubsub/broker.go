// Package pubsub は受信者ごとのライブ配信チャネルを提供する。
//
// 発行側は受信者IDを宛先にイベントを流し、購読側は同じ受信者IDで購読する。
// 発行は購読者の処理速度に引きずられない。購読者のバッファが埋まっている場合、
// そのイベントはその購読者に対してのみ破棄される。
package pubsub

import (
	"context"
	"errors"
	"sync"

	"github.com/nao1215/siren/pkg/event"
)

// DefaultBufferSize は購読者ごとのバッファ長の既定値。
const DefaultBufferSize = 64

// ErrClosed はクローズ済みのブローカーを操作した場合に返る。
var ErrClosed = errors.New("pubsub: ブローカーはクローズ済みです")

// Broker は受信者単位のPub/Subブローカー。
type Broker interface {
	// Publish は受信者の全購読者にイベントを配信する。購読者がいなければ何もしない。
	Publish(ctx context.Context, recipientID int64, ev event.Event) error
	// Subscribe は受信者宛てのイベントを購読する。ctxが終了すると購読も終了する。
	Subscribe(ctx context.Context, recipientID int64) (*Subscription, error)
	// Close はブローカーを停止する。
	Close() error
}

// DropFunc はバッファ溢れでイベントを破棄したときに呼ばれる。
type DropFunc func(recipientID int64)

// Subscription は1つの購読。
type Subscription struct {
	// C は購読したイベントが届くチャネル。購読終了時にクローズされる。
	C <-chan event.Event

	// RecipientID は購読対象の受信者ID。
	RecipientID int64

	once    sync.Once
	release func()
	stop    func() bool
}

// newSubscription は購読を生成し、ctxの終了で自動的にCloseされるようにする。
func newSubscription(ctx context.Context, recipientID int64, ch <-chan event.Event, release func()) *Subscription {
	s := &Subscription{
		C:           ch,
		RecipientID: recipientID,
		release:     release,
	}
	s.stop = context.AfterFunc(ctx, s.Close)
	return s
}

// Close は購読を終了する。複数回呼び出しても安全。
// 戻った時点で配信対象から外れており、Cはクローズ済みになっている。
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
		s.release()
	})
}
