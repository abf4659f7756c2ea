package alarm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	alarmdb "github.com/nao1215/siren/internal/alarm/db"
	"github.com/nao1215/siren/pkg/apperr"
)

const (
	// HeaderTenantKey はテナントキーを渡すHTTPヘッダー。
	HeaderTenantKey = "X-Tenant-Key"
	// HeaderActingUserID は操作ユーザーのIDを渡すHTTPヘッダー。
	HeaderActingUserID = "X-Acting-User-ID"
)

// ginコンテキストのキー。
const (
	contextKeyTenant     = "tenant"
	contextKeyActingUser = "acting_user"
)

// AuthGate はテナントキーと操作ユーザーのロールでリクエストを認可する。
// データは読むだけで変更しない。
type AuthGate struct {
	queries *alarmdb.Queries
}

// NewAuthGate はAuthGateを生成する。
func NewAuthGate(queries *alarmdb.Queries) *AuthGate {
	return &AuthGate{queries: queries}
}

// AuthorizeTenant はテナントキーに一致するテナントを返す。
// 一致するテナントが無ければ AuthError(InvalidKey) になる。
func (g *AuthGate) AuthorizeTenant(ctx context.Context, key string) (alarmdb.Tenant, error) {
	if key == "" {
		return alarmdb.Tenant{}, apperr.NewAuth(apperr.InvalidKey)
	}
	tenant, err := g.queries.GetTenantByKey(ctx, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return alarmdb.Tenant{}, apperr.NewAuth(apperr.InvalidKey)
		}
		return alarmdb.Tenant{}, fmt.Errorf("テナントの取得に失敗: %w", err)
	}
	return tenant, nil
}

// AuthorizeElevated はテナントキーに加え、操作ユーザーがそのテナントのadminであることを確認する。
func (g *AuthGate) AuthorizeElevated(ctx context.Context, key string, actingUserID int64) (alarmdb.Tenant, alarmdb.User, error) {
	tenant, err := g.AuthorizeTenant(ctx, key)
	if err != nil {
		return alarmdb.Tenant{}, alarmdb.User{}, err
	}

	user, err := g.queries.GetUser(ctx, actingUserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return alarmdb.Tenant{}, alarmdb.User{}, apperr.NewAuth(apperr.InsufficientRole)
		}
		return alarmdb.Tenant{}, alarmdb.User{}, fmt.Errorf("操作ユーザーの取得に失敗: %w", err)
	}
	if user.TenantID != tenant.ID || Role(user.Role) != RoleAdmin {
		return alarmdb.Tenant{}, alarmdb.User{}, apperr.NewAuth(apperr.InsufficientRole)
	}
	return tenant, user, nil
}

// RequireTenant は X-Tenant-Key ヘッダーでテナントを認可するGinミドルウェアを返す。
// 認可したテナントはTenantFromで取り出せる。
func (s *Server) RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderTenantKey)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "X-Tenant-Keyヘッダーが必要です"})
			return
		}

		tenant, err := s.auth.AuthorizeTenant(c.Request.Context(), key)
		if err != nil {
			s.abortWithError(c, err)
			return
		}
		c.Set(contextKeyTenant, tenant)
		c.Next()
	}
}

// RequireElevated は X-Tenant-Key と X-Acting-User-ID ヘッダーで、
// 操作ユーザーがテナントのadminであることを確認するGinミドルウェアを返す。
func (s *Server) RequireElevated() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderTenantKey)
		rawUserID := c.GetHeader(HeaderActingUserID)
		if key == "" || rawUserID == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "X-Tenant-KeyとX-Acting-User-IDヘッダーが必要です"})
			return
		}
		actingUserID, err := strconv.ParseInt(rawUserID, 10, 64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "X-Acting-User-IDが不正です"})
			return
		}

		tenant, user, err := s.auth.AuthorizeElevated(c.Request.Context(), key, actingUserID)
		if err != nil {
			s.abortWithError(c, err)
			return
		}
		c.Set(contextKeyTenant, tenant)
		c.Set(contextKeyActingUser, user)
		c.Next()
	}
}

// TenantFrom はミドルウェアが認可したテナントを返す。
func TenantFrom(c *gin.Context) (alarmdb.Tenant, bool) {
	v, ok := c.Get(contextKeyTenant)
	if !ok {
		return alarmdb.Tenant{}, false
	}
	tenant, ok := v.(alarmdb.Tenant)
	return tenant, ok
}

// ActingUserFrom はRequireElevatedが認可した操作ユーザーを返す。
func ActingUserFrom(c *gin.Context) (alarmdb.User, bool) {
	v, ok := c.Get(contextKeyActingUser)
	if !ok {
		return alarmdb.User{}, false
	}
	user, ok := v.(alarmdb.User)
	return user, ok
}
