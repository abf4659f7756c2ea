package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Level はアラームの重要度を表す。info < warning < critical の順に重い。
type Level string

const (
	// LevelInfo は情報レベルのアラームを表す。
	LevelInfo Level = "info"
	// LevelWarning は警告レベルのアラームを表す。
	LevelWarning Level = "warning"
	// LevelCritical は緊急レベルのアラームを表す。
	LevelCritical Level = "critical"
)

// ParseLevel は文字列を重要度に変換する。列挙値以外はエラーを返す。
func ParseLevel(s string) (Level, error) {
	l := Level(s)
	if !l.Valid() {
		return "", fmt.Errorf("不正な重要度です: %q", s)
	}
	return l, nil
}

// Valid は重要度が列挙値のいずれかであるかを返す。
func (l Level) Valid() bool {
	return l.Rank() > 0
}

// Rank は重要度の順位を返す。不正な値は0。
func (l Level) Rank() int {
	switch l {
	case LevelInfo:
		return 1
	case LevelWarning:
		return 2
	case LevelCritical:
		return 3
	default:
		return 0
	}
}

// Type はライブ配信イベントの種類を表す。
type Type string

const (
	// TypeNotificationCreated は受信者宛ての通知が保存・配信されたことを表す。
	TypeNotificationCreated Type = "NotificationCreated"
)

// Event はライブ配信チャネルに流れるイベントの封筒。
// 1回の発行で1つだけ生成し、同じ受信者の全購読者に同一の内容を届ける。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// RecipientID は宛先の受信者ID。
	RecipientID int64 `json:"recipient_id"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// Delivery はアラームサービスから通知サービスへの配信リクエストの本文。
type Delivery struct {
	// Message はアラームのメッセージ。必須。
	Message string `json:"message"`
	// Position はアラームの発生場所。
	Position string `json:"position,omitempty"`
	// Level はアラームの重要度。
	Level Level `json:"level,omitempty"`
	// Timestamp はアラームの発生日時。
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Notification は受信者に届いた通知。TypeNotificationCreatedイベントのデータでもある。
type Notification struct {
	// ID は通知の一意識別子。
	ID string `json:"id"`
	// RecipientID は通知先の受信者ID。
	RecipientID int64 `json:"recipientId"`
	// Message は通知メッセージ。
	Message string `json:"message"`
	// Position はアラームの発生場所。
	Position string `json:"position,omitempty"`
	// Level はアラームの重要度。
	Level Level `json:"level,omitempty"`
	// Timestamp はアラームの発生日時。指定がなければ受信日時。
	Timestamp time.Time `json:"timestamp"`
}
