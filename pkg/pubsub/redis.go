package pubsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/nao1215/siren/pkg/event"
)

// channelPrefix はRedisのPub/Subチャネル名の接頭辞。
const channelPrefix = "siren:notify:"

// Channel は受信者IDに対応するRedisチャネル名を返す。
func Channel(recipientID int64) string {
	return fmt.Sprintf("%s%d", channelPrefix, recipientID)
}

// RedisBroker はRedisのPub/Subを使うブローカー。
// 通知サービスを複数インスタンスで動かす場合に使用する。
type RedisBroker struct {
	rdb     *redis.Client
	bufSize int
	logger  *zap.Logger

	// OnDrop はイベントを破棄したときに呼ばれる。Subscribe前に設定すること。
	OnDrop DropFunc
}

// NewRedisBroker はRedisクライアントを所有するブローカーを生成する。
// Closeでクライアントも閉じる。
func NewRedisBroker(rdb *redis.Client, bufSize int, logger *zap.Logger) *RedisBroker {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &RedisBroker{rdb: rdb, bufSize: bufSize, logger: logger}
}

// Ping はRedisへの疎通を確認する。
func (b *RedisBroker) Ping(ctx context.Context) error {
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("Redisへの接続に失敗: %w", err)
	}
	return nil
}

// Publish はイベントをJSONにしてRedisチャネルに発行する。
func (b *RedisBroker) Publish(ctx context.Context, recipientID int64, ev event.Event) error {
	payload, err := event.Encode(ev)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, Channel(recipientID), payload).Err(); err != nil {
		return fmt.Errorf("Redisへの発行に失敗: %w", err)
	}
	return nil
}

// Subscribe はRedisチャネルを購読する。購読の確立を待ってから戻る。
func (b *RedisBroker) Subscribe(ctx context.Context, recipientID int64) (*Subscription, error) {
	ps := b.rdb.Subscribe(ctx, Channel(recipientID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("Redisの購読に失敗: %w", err)
	}

	out := make(chan event.Event, b.bufSize)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go b.forward(recipientID, ps.Channel(), out, done, &wg)

	release := func() {
		close(done)
		_ = ps.Close()
		wg.Wait()
	}
	return newSubscription(ctx, recipientID, out, release), nil
}

// forward はRedisから受け取ったメッセージをデコードして購読チャネルへ送る。
func (b *RedisBroker) forward(recipientID int64, in <-chan *redis.Message, out chan<- event.Event, done <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	defer close(out)

	for {
		select {
		case <-done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			ev, err := event.Decode([]byte(msg.Payload))
			if err != nil {
				b.logger.Warn("不正なペイロードを破棄しました",
					zap.Int64("recipient_id", recipientID),
					zap.Error(err),
				)
				continue
			}
			select {
			case out <- ev:
			default:
				if b.OnDrop != nil {
					b.OnDrop(recipientID)
				}
			}
		}
	}
}

// Close はRedisクライアントを閉じる。
func (b *RedisBroker) Close() error {
	return b.rdb.Close()
}
