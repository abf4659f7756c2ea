package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/siren/pkg/httpclient"
)

// corsAllowHeaders はブラウザから送ってよいリクエストヘッダー。
// テナントキーと操作ユーザーのヘッダーを含む。
var corsAllowHeaders = strings.Join([]string{
	"Authorization",
	"Content-Type",
	"X-Tenant-Key",
	"X-Acting-User-ID",
	httpclient.HeaderRequestID,
}, ", ")

// CORS は許可したオリジンからのクロスオリジンリクエストを受け付けるGinミドルウェアを返す。
// "*" を含めると全オリジンを許可する。プリフライトには本体を処理せず204を返す。
func CORS(allowedOrigins []string) gin.HandlerFunc {
	allowAll := false
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
			continue
		}
		origins[strings.TrimRight(o, "/")] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			c.Writer.Header().Add("Vary", "Origin")
			if _, ok := origins[origin]; ok || allowAll {
				h := c.Writer.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
				h.Set("Access-Control-Expose-Headers", httpclient.HeaderRequestID)
				h.Set("Access-Control-Max-Age", "86400")
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
