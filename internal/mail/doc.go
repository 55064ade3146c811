// Package mail はBrevoのトランザクションメールAPIを使った
// メール送信を担当する。OTPメールとウェルカムメールの2種類を扱い、
// 本文は埋め込みHTMLテンプレートからレンダリングする。
package mail
