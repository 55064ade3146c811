// Package consumer はRedis Streamsからのイベント消費を担当する。
//
// 1つのコンシューマグループで複数のストリームを購読し、レコードを
// ストリームごとに登録されたハンドラへ振り分ける。ハンドラが成功した
// レコードのみACKし、失敗したレコードはpendingのまま残してブローカーの
// 再配信に委ねる（at-least-once配信）。
package consumer
