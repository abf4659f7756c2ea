package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	notificationdb "github.com/nao1215/siren/internal/notification/db"
	"github.com/nao1215/siren/pkg/apperr"
	"github.com/nao1215/siren/pkg/event"
	"github.com/nao1215/siren/pkg/pubsub"
)

// Service は受信者ごとの通知の保存、履歴参照、ライブ配信を担う。
type Service struct {
	queries *notificationdb.Queries
	broker  pubsub.Broker
	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewService は通知サービスを生成する。
func NewService(queries *notificationdb.Queries, broker pubsub.Broker, logger *zap.Logger, metrics *Metrics) *Service {
	return &Service{
		queries: queries,
		broker:  broker,
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Receive は受信者宛ての通知を保存し、保存後にライブ配信へ発行する。
// 発行に失敗しても保存済みの通知は残るため、エラーにはしない。
func (s *Service) Receive(ctx context.Context, recipientID int64, d event.Delivery) (notificationdb.Notification, error) {
	if strings.TrimSpace(d.Message) == "" {
		s.reject(string(apperr.MissingField))
		return notificationdb.Notification{}, apperr.NewValidation(apperr.MissingField, "message")
	}
	if d.Level != "" && !d.Level.Valid() {
		s.reject(string(apperr.MissingField))
		return notificationdb.Notification{}, apperr.NewValidation(apperr.MissingField, "level")
	}
	if err := s.ensureRecipient(ctx, recipientID); err != nil {
		if apperr.IsReason(err, apperr.UnknownRecipient) {
			s.reject(string(apperr.UnknownRecipient))
		}
		return notificationdb.Notification{}, err
	}

	now := s.now()
	ts := now
	if d.Timestamp != nil && !d.Timestamp.IsZero() {
		ts = d.Timestamp.UTC()
	}

	n := notificationdb.Notification{
		ID:          uuid.New().String(),
		RecipientID: recipientID,
		Message:     d.Message,
		Position:    nullString(d.Position),
		Level:       nullString(string(d.Level)),
		Timestamp:   ts,
		CreatedAt:   now,
	}
	if err := s.queries.CreateNotification(ctx, notificationdb.CreateNotificationParams{
		ID:          n.ID,
		RecipientID: n.RecipientID,
		Message:     n.Message,
		Position:    n.Position,
		Level:       n.Level,
		Timestamp:   n.Timestamp,
		CreatedAt:   n.CreatedAt,
	}); err != nil {
		return notificationdb.Notification{}, fmt.Errorf("通知の保存に失敗: %w", err)
	}
	s.metrics.received.Inc()

	s.publish(ctx, n)
	return n, nil
}

// publish は保存済みの通知をライブ配信に流す。
// イベントは1回だけ生成し、全購読者に同じ内容を届ける。
func (s *Service) publish(ctx context.Context, n notificationdb.Notification) {
	ev, err := event.New(n.RecipientID, event.TypeNotificationCreated, ToEvent(n))
	if err == nil {
		err = s.broker.Publish(context.WithoutCancel(ctx), n.RecipientID, *ev)
	}
	if err != nil {
		s.metrics.publishFailures.Inc()
		s.logger.Warn("ライブ配信への発行に失敗しました",
			zap.String("notification_id", n.ID),
			zap.Int64("recipient_id", n.RecipientID),
			zap.Error(err),
		)
	}
}

// History は受信者の通知履歴を古い順に返す。
func (s *Service) History(ctx context.Context, recipientID int64) ([]notificationdb.Notification, error) {
	if err := s.ensureRecipient(ctx, recipientID); err != nil {
		return nil, err
	}
	items, err := s.queries.ListNotificationsByRecipient(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("通知履歴の取得に失敗: %w", err)
	}
	return items, nil
}

// Subscribe は受信者のライブ配信を購読する。過去の通知は再送しない。
func (s *Service) Subscribe(ctx context.Context, recipientID int64) (*pubsub.Subscription, error) {
	if err := s.ensureRecipient(ctx, recipientID); err != nil {
		return nil, err
	}
	sub, err := s.broker.Subscribe(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("ライブ配信の購読に失敗: %w", err)
	}
	return sub, nil
}

// RegisterRecipient は受信者を登録する。ID、ユーザー名、メールアドレスは一意。
func (s *Service) RegisterRecipient(ctx context.Context, id int64, username, email string) (notificationdb.Recipient, error) {
	if id <= 0 {
		return notificationdb.Recipient{}, apperr.NewValidation(apperr.MissingField, "id")
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return notificationdb.Recipient{}, apperr.NewValidation(apperr.MissingField, "username")
	}
	r := notificationdb.Recipient{
		ID:        id,
		Username:  username,
		Email:     nullString(strings.TrimSpace(email)),
		CreatedAt: s.now(),
	}

	conflicts, err := s.queries.CountRecipientConflicts(ctx, notificationdb.CountRecipientConflictsParams{
		ID:       r.ID,
		Username: r.Username,
		Email:    r.Email,
	})
	if err != nil {
		return notificationdb.Recipient{}, fmt.Errorf("受信者の重複確認に失敗: %w", err)
	}
	if conflicts > 0 {
		return notificationdb.Recipient{}, apperr.NewValidation(apperr.DuplicateIdentity, "")
	}

	if err := s.queries.CreateRecipient(ctx, notificationdb.CreateRecipientParams{
		ID:        r.ID,
		Username:  r.Username,
		Email:     r.Email,
		CreatedAt: r.CreatedAt,
	}); err != nil {
		if notificationdb.IsUniqueViolation(err) {
			return notificationdb.Recipient{}, apperr.NewValidation(apperr.DuplicateIdentity, "")
		}
		return notificationdb.Recipient{}, fmt.Errorf("受信者の登録に失敗: %w", err)
	}
	return r, nil
}

// ensureRecipient は受信者が登録済みであることを確認する。
func (s *Service) ensureRecipient(ctx context.Context, recipientID int64) error {
	if _, err := s.queries.GetRecipient(ctx, recipientID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NewNotFound(apperr.UnknownRecipient)
		}
		return fmt.Errorf("受信者の取得に失敗: %w", err)
	}
	return nil
}

func (s *Service) reject(reason string) {
	s.metrics.rejected.WithLabelValues(reason).Inc()
}

// ToEvent は保存済みの通知をライブ配信のペイロードに変換する。
func ToEvent(n notificationdb.Notification) event.Notification {
	return event.Notification{
		ID:          n.ID,
		RecipientID: n.RecipientID,
		Message:     n.Message,
		Position:    n.Position.String,
		Level:       event.Level(n.Level.String),
		Timestamp:   n.Timestamp,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
