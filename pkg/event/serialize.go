package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New は新しいイベントを生成する。
// dataにはイベント固有のデータ構造体を渡す。JSON形式にシリアライズされる。
func New(recipientID int64, eventType Type, data any) (*Event, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("イベントデータのシリアライズに失敗: %w", err)
	}

	return &Event{
		ID:          uuid.New().String(),
		EventType:   eventType,
		RecipientID: recipientID,
		Data:        jsonData,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Encode はイベントをブローカー転送用のJSONに変換する。
func Encode(e Event) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("イベントのエンコードに失敗: %w", err)
	}
	return b, nil
}

// Decode はブローカーから受け取ったJSONをイベントに戻す。
func Decode(b []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return Event{}, fmt.Errorf("イベントのデコードに失敗: %w", err)
	}
	return e, nil
}
