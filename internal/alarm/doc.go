// Package alarm はアラームサービスを実装する。
//
// テナントキーで認可した発報リクエストを保存し、テナント内の受信者を決めて
// 通知サービスへ受信者ごとに配信する。配信は同時実行数とタイムアウトに上限を持ち、
// 失敗してもアラームの保存と発報の応答には影響しない。
//
// 主な構成要素:
//   - AuthGate: テナントキーと操作ユーザーのロールによる認可
//   - AlarmStore: アラームの検証と保存
//   - RecipientResolver: 受信者の決定
//   - Dispatcher: 受信者ごとの配信
//   - Directory: テナントとユーザーの登録
package alarm
