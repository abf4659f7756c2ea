// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// アラームサービスから通知サービスへの配信呼び出しや受信者登録など、
// サービス間の通信パターンを統一する。呼び出しごとのタイムアウト、
// サービス間トークンの付与、2xx以外の応答の型付きエラー化を担う。
package httpclient
