// Package notification は通知サービスを実装する。
//
// アラームサービスから受信者単位で届いた通知を保存し、受信者ごとの履歴として
// 古い順に参照できるようにする。保存した通知は同じ受信者のライブ配信購読者
// （WebSocket または Server-Sent Events）にも届ける。ライブ配信は接続中の
// 購読者にのみ届き、オフラインだった受信者は履歴から取得する。
package notification
