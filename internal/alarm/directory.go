package alarm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	alarmdb "github.com/nao1215/siren/internal/alarm/db"
	"github.com/nao1215/siren/pkg/apperr"
	"github.com/nao1215/siren/pkg/httpclient"
)

// Role はテナント内でのユーザーの役割。
type Role string

const (
	// RoleNormal はアラームを受け取らない一般ユーザー。
	RoleNormal Role = "normal"
	// RoleAdmin はテナントの管理者。ユーザーを登録でき、アラームも受け取る。
	RoleAdmin Role = "admin"
	// RoleAlarmed はアラームを受け取るユーザー。
	RoleAlarmed Role = "alarmed"
)

// ParseRole は文字列をRoleに変換する。
func ParseRole(s string) (Role, bool) {
	switch r := Role(s); r {
	case RoleNormal, RoleAdmin, RoleAlarmed:
		return r, true
	default:
		return "", false
	}
}

// RecipientRegistrar は作成したユーザーを通知サービスの受信者として登録する。
// 登録済みの場合は DuplicateIdentity の ValidationError を返す。
type RecipientRegistrar interface {
	RegisterRecipient(ctx context.Context, user alarmdb.User) error
}

// HTTPRecipientRegistrar は通知サービスの POST /recipients を呼び出すRecipientRegistrar。
type HTTPRecipientRegistrar struct {
	client *httpclient.Client
}

// NewHTTPRecipientRegistrar はHTTPRecipientRegistrarを生成する。
func NewHTTPRecipientRegistrar(client *httpclient.Client) *HTTPRecipientRegistrar {
	return &HTTPRecipientRegistrar{client: client}
}

// RegisterRecipient は受信者を登録する。
func (r *HTTPRecipientRegistrar) RegisterRecipient(ctx context.Context, user alarmdb.User) error {
	body := map[string]any{
		"id":       user.ID,
		"username": user.Username,
		"email":    user.Email.String,
	}
	err := r.client.PostJSON(ctx, "/recipients", body, nil)
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusConflict {
		return apperr.NewValidation(apperr.DuplicateIdentity, "")
	}
	return err
}

// Directory はテナントとユーザーの登録を担う。
type Directory struct {
	db        *sql.DB
	queries   *alarmdb.Queries
	registrar RecipientRegistrar
	logger    *zap.Logger
	metrics   *Metrics
	now       func() time.Time
}

// NewDirectory はDirectoryを生成する。
func NewDirectory(sqlDB *sql.DB, registrar RecipientRegistrar, logger *zap.Logger, metrics *Metrics) *Directory {
	return &Directory{
		db:        sqlDB,
		queries:   alarmdb.New(sqlDB),
		registrar: registrar,
		logger:    logger,
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateTenant はテナントと最初の管理者ユーザーを1つのトランザクションで作成する。
// テナントキーはこのとき払い出す。
func (d *Directory) CreateTenant(ctx context.Context, name, adminUsername, adminEmail string) (alarmdb.Tenant, alarmdb.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return alarmdb.Tenant{}, alarmdb.User{}, apperr.NewValidation(apperr.MissingField, "name")
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return alarmdb.Tenant{}, alarmdb.User{}, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	q := d.queries.WithTx(tx)
	tenant, err := q.CreateTenant(ctx, alarmdb.CreateTenantParams{
		Key:       uuid.New().String(),
		Name:      name,
		CreatedAt: d.now(),
	})
	if err != nil {
		return alarmdb.Tenant{}, alarmdb.User{}, fmt.Errorf("テナントの作成に失敗: %w", err)
	}

	admin, err := d.createUser(ctx, q, tenant.ID, adminUsername, adminEmail, RoleAdmin)
	if err != nil {
		return alarmdb.Tenant{}, alarmdb.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return alarmdb.Tenant{}, alarmdb.User{}, fmt.Errorf("コミットに失敗: %w", err)
	}

	d.mirror(ctx, admin)
	return tenant, admin, nil
}

// CreateUser はテナントにユーザーを追加する。
func (d *Directory) CreateUser(ctx context.Context, tenantID int64, username, email string, role Role) (alarmdb.User, error) {
	user, err := d.createUser(ctx, d.queries, tenantID, username, email, role)
	if err != nil {
		return alarmdb.User{}, err
	}
	d.mirror(ctx, user)
	return user, nil
}

// ListUsers はテナントのユーザーをID順に返す。
func (d *Directory) ListUsers(ctx context.Context, tenantID int64) ([]alarmdb.User, error) {
	users, err := d.queries.ListUsersByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗: %w", err)
	}
	return users, nil
}

func (d *Directory) createUser(ctx context.Context, q *alarmdb.Queries, tenantID int64, username, email string, role Role) (alarmdb.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return alarmdb.User{}, apperr.NewValidation(apperr.MissingField, "username")
	}
	if _, ok := ParseRole(string(role)); !ok {
		return alarmdb.User{}, apperr.NewValidation(apperr.MissingField, "role")
	}
	emailValue := sql.NullString{String: strings.TrimSpace(email), Valid: strings.TrimSpace(email) != ""}

	conflicts, err := q.CountUserConflicts(ctx, alarmdb.CountUserConflictsParams{
		Username: username,
		Email:    emailValue,
	})
	if err != nil {
		return alarmdb.User{}, fmt.Errorf("ユーザーの重複確認に失敗: %w", err)
	}
	if conflicts > 0 {
		return alarmdb.User{}, apperr.NewValidation(apperr.DuplicateIdentity, "")
	}

	user, err := q.CreateUser(ctx, alarmdb.CreateUserParams{
		TenantID:  tenantID,
		Username:  username,
		Email:     emailValue,
		Role:      string(role),
		CreatedAt: d.now(),
	})
	if err != nil {
		if alarmdb.IsUniqueViolation(err) {
			return alarmdb.User{}, apperr.NewValidation(apperr.DuplicateIdentity, "")
		}
		return alarmdb.User{}, fmt.Errorf("ユーザーの作成に失敗: %w", err)
	}
	return user, nil
}

// mirror は作成したユーザーを通知サービスへ登録する。失敗してもユーザー作成は取り消さない。
// 登録できなかったユーザーはSyncRecipientsで後から登録される。
func (d *Directory) mirror(ctx context.Context, user alarmdb.User) {
	if d.registrar == nil {
		return
	}
	err := d.registrar.RegisterRecipient(context.WithoutCancel(ctx), user)
	if err != nil && !apperr.IsReason(err, apperr.DuplicateIdentity) {
		d.metrics.mirrorFailures.Inc()
		d.logger.Warn("通知サービスへの受信者登録に失敗しました",
			zap.Int64("user_id", user.ID),
			zap.Error(err),
		)
	}
}

// SyncReport は受信者同期1回分の結果。
type SyncReport struct {
	// Registered は今回新たに登録したユーザー数。
	Registered int
	// Existing は登録済みだったユーザー数。
	Existing int
	// Failed は登録に失敗したユーザー数。次回の同期で再試行される。
	Failed int
}

// SyncRecipients は全ユーザーを通知サービスへ登録し直す。
// 登録済みのユーザーは DuplicateIdentity として数えるだけなので、何度実行してもよい。
func (d *Directory) SyncRecipients(ctx context.Context) (SyncReport, error) {
	var report SyncReport
	if d.registrar == nil {
		return report, nil
	}

	users, err := d.queries.ListAllUsers(ctx)
	if err != nil {
		return report, fmt.Errorf("ユーザー一覧の取得に失敗: %w", err)
	}

	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		err := d.registrar.RegisterRecipient(ctx, u)
		switch {
		case err == nil:
			report.Registered++
		case apperr.IsReason(err, apperr.DuplicateIdentity):
			report.Existing++
		default:
			report.Failed++
			d.metrics.mirrorFailures.Inc()
			d.logger.Warn("受信者の同期に失敗しました",
				zap.Int64("user_id", u.ID),
				zap.Error(err),
			)
		}
	}

	if report.Registered > 0 || report.Failed > 0 {
		d.logger.Info("受信者を同期しました",
			zap.Int("registered", report.Registered),
			zap.Int("existing", report.Existing),
			zap.Int("failed", report.Failed),
		)
	}
	return report, nil
}
