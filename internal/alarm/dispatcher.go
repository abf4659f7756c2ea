package alarm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	alarmdb "github.com/nao1215/siren/internal/alarm/db"
	"github.com/nao1215/siren/pkg/apperr"
	"github.com/nao1215/siren/pkg/event"
	"github.com/nao1215/siren/pkg/httpclient"
)

const (
	// DefaultDispatchConcurrency は同時に実行する配信呼び出しの既定の上限。
	DefaultDispatchConcurrency = 8
	// DefaultDispatchTimeout は配信呼び出し1回あたりの既定のタイムアウト。
	DefaultDispatchTimeout = 5 * time.Second
)

// Deliverer は受信者1人へ通知を届ける。
type Deliverer interface {
	Deliver(ctx context.Context, recipientID int64, d event.Delivery) error
}

// HTTPDeliverer は通知サービスの POST /notify/{recipientId} を呼び出すDeliverer。
type HTTPDeliverer struct {
	client *httpclient.Client
}

// NewHTTPDeliverer はHTTPDelivererを生成する。
func NewHTTPDeliverer(client *httpclient.Client) *HTTPDeliverer {
	return &HTTPDeliverer{client: client}
}

// Deliver は通知サービスへ通知を1件送る。
func (h *HTTPDeliverer) Deliver(ctx context.Context, recipientID int64, d event.Delivery) error {
	return h.client.PostJSON(ctx, fmt.Sprintf("/notify/%d", recipientID), d, nil)
}

// DeliveryResult は受信者1人への配信結果。
type DeliveryResult struct {
	// RecipientID は配信先の受信者ID。
	RecipientID int64
	// Err は配信に失敗した場合の理由。成功時はnil。
	Err *apperr.DeliveryError
}

// DispatchReport はアラーム1件の配信結果。Resultsは受信者の並び順と同じ。
type DispatchReport struct {
	AlarmID   string
	Results   []DeliveryResult
	Delivered int
	Failed    int
}

// Failures は失敗した配信だけを返す。
func (r DispatchReport) Failures() []*apperr.DeliveryError {
	var failures []*apperr.DeliveryError
	for _, res := range r.Results {
		if res.Err != nil {
			failures = append(failures, res.Err)
		}
	}
	return failures
}

// Dispatcher はアラームを受信者ごとに配信する。
// 同時実行数と1回あたりのタイムアウトに上限を持ち、失敗は記録するだけで再試行しない。
type Dispatcher struct {
	deliverer   Deliverer
	concurrency int
	timeout     time.Duration
	logger      *zap.Logger
	metrics     *Metrics
}

// NewDispatcher はDispatcherを生成する。0以下の値には既定値を使う。
func NewDispatcher(deliverer Deliverer, concurrency int, timeout time.Duration, logger *zap.Logger, metrics *Metrics) *Dispatcher {
	if concurrency <= 0 {
		concurrency = DefaultDispatchConcurrency
	}
	if timeout <= 0 {
		timeout = DefaultDispatchTimeout
	}
	return &Dispatcher{
		deliverer:   deliverer,
		concurrency: concurrency,
		timeout:     timeout,
		logger:      logger,
		metrics:     metrics,
	}
}

// Dispatch はアラームを全受信者に配信し、全呼び出しが終わってから結果を返す。
// 呼び出し元のキャンセルは配信を中断しない。個々の失敗は呼び出し元へ返さない。
func (d *Dispatcher) Dispatch(ctx context.Context, alarm alarmdb.Alarm, recipients []alarmdb.User) DispatchReport {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	ts := alarm.CreatedAt
	delivery := event.Delivery{
		Message:   alarm.Message,
		Position:  alarm.Position,
		Level:     event.Level(alarm.Level),
		Timestamp: &ts,
	}

	results := make([]DeliveryResult, len(recipients))
	g := new(errgroup.Group)
	g.SetLimit(d.concurrency)
	for i, r := range recipients {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()

			results[i] = DeliveryResult{RecipientID: r.ID}
			if err := d.deliverer.Deliver(callCtx, r.ID, delivery); err != nil {
				results[i].Err = classify(r.ID, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	report := DispatchReport{AlarmID: alarm.ID, Results: results}
	for _, res := range results {
		if res.Err == nil {
			report.Delivered++
			d.metrics.deliveries.WithLabelValues("delivered").Inc()
			continue
		}
		report.Failed++
		d.metrics.deliveries.WithLabelValues(string(res.Err.Reason)).Inc()
		d.logger.Warn("通知の配信に失敗しました",
			zap.String("alarm_id", alarm.ID),
			zap.Int64("recipient_id", res.RecipientID),
			zap.String("reason", string(res.Err.Reason)),
			zap.Error(res.Err.Err),
		)
	}
	d.metrics.dispatchDuration.Observe(time.Since(start).Seconds())

	d.logger.Info("アラームを配信しました",
		zap.String("alarm_id", alarm.ID),
		zap.Int("recipients", len(recipients)),
		zap.Int("delivered", report.Delivered),
		zap.Int("failed", report.Failed),
	)
	return report
}

// classify は配信エラーを理由ごとに分類する。
func classify(recipientID int64, err error) *apperr.DeliveryError {
	reason := apperr.Unreachable

	var statusErr *httpclient.StatusError
	var netErr net.Error
	switch {
	case errors.As(err, &statusErr):
		reason = apperr.NonSuccessResponse
	case errors.Is(err, context.DeadlineExceeded):
		reason = apperr.Timeout
	case errors.As(err, &netErr) && netErr.Timeout():
		reason = apperr.Timeout
	}
	return &apperr.DeliveryError{Reason: reason, RecipientID: recipientID, Err: err}
}
