package alarm

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	alarmdb "github.com/nao1215/siren/internal/alarm/db"
	"github.com/nao1215/siren/pkg/apperr"
	"github.com/nao1215/siren/pkg/middleware"
)

// validateKeyRequest はテナントキー確認リクエストのJSON構造。
type validateKeyRequest struct {
	Key string `json:"key"`
}

// handleValidateKey はテナントキーが有効かどうかを返すハンドラ。
func (s *Server) handleValidateKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req validateKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		if _, err := s.auth.AuthorizeTenant(c.Request.Context(), req.Key); err != nil {
			if apperr.IsReason(err, apperr.InvalidKey) {
				c.JSON(http.StatusNotFound, gin.H{"valid": false})
				return
			}
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"valid": true})
	}
}

// createAlarmRequest はアラーム発報リクエストのJSON構造。
type createAlarmRequest struct {
	// Key はテナントキー。
	Key string `json:"key"`
	// UserID は発報したユーザー。匿名の発報では省略する。
	UserID *int64 `json:"userId"`
	// Position はアラームの発生場所。
	Position string `json:"position"`
	// Message はアラームのメッセージ。
	Message string `json:"message"`
	// Level は info, warning, critical のいずれか。
	Level string `json:"level"`
}

// handleCreateAlarm はアラームを保存して受信者へ配信するハンドラ。
// 配信の成否はレスポンスに影響しない。
func (s *Server) handleCreateAlarm() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createAlarmRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.metrics.rejected.WithLabelValues(strconv.Itoa(http.StatusBadRequest)).Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		ctx := c.Request.Context()
		tenant, err := s.auth.AuthorizeTenant(ctx, req.Key)
		if err != nil {
			s.rejectAlarm(c, err)
			return
		}

		alarm, err := s.store.CreateAlarm(ctx, tenant, req.UserID, req.Position, req.Message, req.Level)
		if err != nil {
			s.rejectAlarm(c, err)
			return
		}
		s.metrics.alarms.WithLabelValues(alarm.Level).Inc()

		recipients, err := s.resolver.ResolveRecipients(ctx, tenant.ID)
		if err != nil {
			// アラームは保存済みのため、受信者を解決できなくても発報自体は成功とする
			s.logger.Error("受信者の解決に失敗したため配信できませんでした",
				zap.String("alarm_id", alarm.ID),
				zap.Error(err),
			)
		} else {
			s.dispatcher.Dispatch(ctx, alarm, recipients)
		}

		c.JSON(http.StatusCreated, gin.H{"alarmId": alarm.ID})
	}
}

// rejectAlarm は発報の拒否をメトリクスに記録してエラーを返す。
func (s *Server) rejectAlarm(c *gin.Context, err error) {
	s.metrics.rejected.WithLabelValues(strconv.Itoa(apperr.HTTPStatus(err))).Inc()
	s.writeError(c, err)
}

// alarmResponse はアラームのJSONレスポンス構造。
type alarmResponse struct {
	ID       string `json:"id"`
	TenantID int64  `json:"tenantId"`
	// RaisedBy は発報したユーザー。匿名の発報では省略される。
	RaisedBy  *int64 `json:"raisedBy,omitempty"`
	Position  string `json:"position"`
	Message   string `json:"message"`
	Level     string `json:"level"`
	CreatedAt string `json:"createdAt"`
}

func toAlarmResponses(items []alarmdb.Alarm) []alarmResponse {
	responses := make([]alarmResponse, 0, len(items))
	for _, a := range items {
		resp := alarmResponse{
			ID:        a.ID,
			TenantID:  a.TenantID,
			Position:  a.Position,
			Message:   a.Message,
			Level:     a.Level,
			CreatedAt: a.CreatedAt.Format(time.RFC3339Nano),
		}
		if a.RaisedBy.Valid {
			id := a.RaisedBy.Int64
			resp.RaisedBy = &id
		}
		responses = append(responses, resp)
	}
	return responses
}

// handleListAlarms はテナントのアラームを発報順に返すハンドラ。
func (s *Server) handleListAlarms() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := parsePathID(c, "id")
		if !ok {
			return
		}
		tenant, _ := TenantFrom(c)
		if tenant.ID != tenantID {
			s.writeError(c, apperr.NewAuth(apperr.InvalidKey))
			return
		}

		items, err := s.store.ListAlarms(c.Request.Context(), tenant.ID)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, toAlarmResponses(items))
	}
}

// createTenantRequest はテナント作成リクエストのJSON構造。
type createTenantRequest struct {
	Name  string `json:"name"`
	Admin struct {
		Username string `json:"username"`
		Email    string `json:"email"`
	} `json:"admin"`
}

// handleCreateTenant はテナントと最初の管理者を作成するハンドラ。
// テナントキーはこのレスポンスでのみ返す。
func (s *Server) handleCreateTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createTenantRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		tenant, admin, err := s.directory.CreateTenant(c.Request.Context(), req.Name, req.Admin.Username, req.Admin.Email)
		if err != nil {
			s.writeError(c, err)
			return
		}

		s.logger.Info("テナントを作成しました",
			zap.Int64("tenant_id", tenant.ID),
			zap.String("operator", middleware.GetSubject(c)),
		)
		c.JSON(http.StatusCreated, gin.H{
			"id":          tenant.ID,
			"key":         tenant.Key,
			"name":        tenant.Name,
			"adminUserId": admin.ID,
		})
	}
}

// createUserRequest はユーザー作成リクエストのJSON構造。
type createUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// userResponse はユーザーのJSONレスポンス構造。
type userResponse struct {
	ID       int64  `json:"id"`
	TenantID int64  `json:"tenantId"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role"`
}

// handleCreateUser は操作ユーザーのテナントにユーザーを追加するハンドラ。
func (s *Server) handleCreateUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		tenant, _ := TenantFrom(c)
		acting, _ := ActingUserFrom(c)
		user, err := s.directory.CreateUser(c.Request.Context(), tenant.ID, req.Username, req.Email, Role(req.Role))
		if err != nil {
			s.writeError(c, err)
			return
		}

		s.logger.Info("ユーザーを作成しました",
			zap.Int64("tenant_id", tenant.ID),
			zap.Int64("user_id", user.ID),
			zap.String("role", user.Role),
			zap.Int64("acting_user_id", acting.ID),
		)
		c.JSON(http.StatusCreated, gin.H{"id": user.ID})
	}
}

// handleListUsers は操作ユーザーのテナントのユーザー一覧を返すハンドラ。
func (s *Server) handleListUsers() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant, _ := TenantFrom(c)
		users, err := s.directory.ListUsers(c.Request.Context(), tenant.ID)
		if err != nil {
			s.writeError(c, err)
			return
		}

		responses := make([]userResponse, 0, len(users))
		for _, u := range users {
			responses = append(responses, userResponse{
				ID:       u.ID,
				TenantID: u.TenantID,
				Username: u.Username,
				Email:    u.Email.String,
				Role:     u.Role,
			})
		}
		c.JSON(http.StatusOK, responses)
	}
}

// handleDevToken は開発用のオペレータートークンを発行するハンドラ。
// dev_mode が有効な場合だけ登録される。
func (s *Server) handleDevToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := middleware.GenerateJWT(s.cfg.JWTSecret, "dev-operator", middleware.RoleOperator, devTokenTTL)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	}
}
