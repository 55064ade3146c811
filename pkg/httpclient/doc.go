// Package httpclient はJSONベースのHTTP通信を行うクライアントを提供する。
//
// Brevoトランザクションメール APIのような外部APIの呼び出しと、
// サービス間通信の両方で使用する。デフォルトヘッダーによるAPIキー付与、
// ユーザーIDの伝播、2xx以外のステータスのエラー分類をサポートする。
package httpclient
