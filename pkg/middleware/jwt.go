package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// RoleOperator はテナントを作成できる運用者のロール。
	RoleOperator = "operator"
	// RoleService はサービス間呼び出しのロール。
	RoleService = "service"
)

// tokenIssuer はJWTの発行者。
const tokenIssuer = "siren"

// serviceTokenTTL はサービス間トークンの有効期間。
const serviceTokenTTL = 5 * time.Minute

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
type JWTClaims struct {
	jwt.RegisteredClaims
	// Role はトークン保持者のロール（operator または service）。
	Role string `json:"role"`
}

// GenerateJWT は主体とロールを含むJWTトークンを生成する。
func GenerateJWT(secret, subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
		Role: role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// ServiceTokenSource はサービス間トークンを毎回発行する関数を返す。
// httpclient.WithTokenSource に渡して使用する。
func ServiceTokenSource(secret, service string) func() (string, error) {
	return func() (string, error) {
		return GenerateJWT(secret, service, RoleService, serviceTokenTTL)
	}
}

// JWTAuth はJWTトークンを検証し、ロールが一致することを確認するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに "subject" と "role" を設定する。
func JWTAuth(secret, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorizationヘッダーが必要です",
			})
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer トークン形式が不正です",
			})
			return
		}

		claims := &JWTClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(tokenIssuer))
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		if claims.Role != role {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンのロールが不正です",
			})
			return
		}

		c.Set("subject", claims.Subject)
		c.Set("role", claims.Role)
		c.Next()
	}
}

// GetSubject はGinコンテキストからトークンの主体を取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetSubject(c *gin.Context) string {
	subject, _ := c.Get("subject")
	if s, ok := subject.(string); ok {
		return s
	}
	return ""
}
