// Package notification は通知サービスの内部実装を提供する。
//
// Redis Streamsから受信したイベントを元にユーザー向け通知を生成・保存し、
// WebSocket経由でリアルタイム配信する。通知のページネーション付き一覧取得、
// 既読管理（単件・一括）、未読件数の取得も行う。
package notification
