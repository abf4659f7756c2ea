// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// 運用者トークンとサービス間トークンの検証、リクエストID、アクセスログ、
// パニックリカバリ、CORS設定など、全サービスで共通して使用するミドルウェアを含む。
package middleware
