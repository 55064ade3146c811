package mail

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log"

	"github.com/EvoTicket/Notification-Service/pkg/httpclient"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

const (
	// sendPath はBrevoのトランザクションメール送信エンドポイント。
	sendPath = "/v3/smtp/email"

	// otpSubject はOTPメールの件名。
	otpSubject = "Mã OTP xác thực - EvoTicket"
	// welcomeSubject はウェルカムメールの件名。
	welcomeSubject = "Chào mừng đến với EvoTicket! 🎉"
)

// ErrProvider はメールプロバイダーがリクエストを拒否したことを表す。
// APIキー不正やレート制限など、再送しても成功する見込みがある場合と
// ない場合の両方を含む。
var ErrProvider = errors.New("メールプロバイダーがリクエストを拒否しました")

// Sender はメールの送信元。
type Sender struct {
	// Name は送信元の表示名。
	Name string
	// Email は送信元のメールアドレス。
	Email string
}

// Client はBrevo APIを使ったメール送信クライアント。
type Client struct {
	// http はBrevo APIへのHTTPクライアント。
	http *httpclient.Client
	// sender はメールの送信元。
	sender Sender
	// templates はメール本文のHTMLテンプレート。
	templates *template.Template
}

// NewClient は新しいBrevoメールクライアントを生成する。
// baseURLにはBrevo APIのベースURL（例: "https://api.brevo.com"）を指定する。
func NewClient(baseURL, apiKey string, sender Sender) *Client {
	return &Client{
		http: httpclient.NewWithHeaders(baseURL, map[string]string{
			"api-key": apiKey,
		}),
		sender:    sender,
		templates: template.Must(template.ParseFS(templateFS, "templates/*.html.tmpl")),
	}
}

// recipient はメールの宛先。
type recipient struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// sendRequest はBrevoのメール送信リクエストボディ。
type sendRequest struct {
	Sender      recipient   `json:"sender"`
	To          []recipient `json:"to"`
	Subject     string      `json:"subject"`
	HTMLContent string      `json:"htmlContent"`
}

// sendResponse はBrevoのメール送信レスポンスボディ。
type sendResponse struct {
	MessageID string `json:"messageId"`
}

// SendOtpEmail はパスワード再設定用のOTPコードを記載したメールを送信する。
func (c *Client) SendOtpEmail(ctx context.Context, toEmail, otpCode string) error {
	html, err := c.render("otp.html.tmpl", map[string]string{"OtpCode": otpCode})
	if err != nil {
		return err
	}
	return c.send(ctx, recipient{Email: toEmail}, otpSubject, html)
}

// SendWelcomeEmail は新規登録ユーザーへのウェルカムメールを送信する。
func (c *Client) SendWelcomeEmail(ctx context.Context, toEmail, fullName, username string) error {
	html, err := c.render("welcome.html.tmpl", map[string]string{
		"FullName": fullName,
		"Username": username,
	})
	if err != nil {
		return err
	}
	return c.send(ctx, recipient{Email: toEmail, Name: fullName}, welcomeSubject, html)
}

// render は埋め込みテンプレートからメール本文をレンダリングする。
func (c *Client) render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := c.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("メール本文のレンダリングに失敗: %w", err)
	}
	return buf.String(), nil
}

// send はBrevo APIへメール送信リクエストを送る。
// プロバイダーがリクエストを拒否した場合はErrProviderに分類して返す。
func (c *Client) send(ctx context.Context, to recipient, subject, htmlContent string) error {
	req := sendRequest{
		Sender:      recipient{Email: c.sender.Email, Name: c.sender.Name},
		To:          []recipient{to},
		Subject:     subject,
		HTMLContent: htmlContent,
	}

	var resp sendResponse
	if err := c.http.PostJSON(ctx, sendPath, req, &resp); err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) {
			return fmt.Errorf("%w: status=%d", ErrProvider, statusErr.StatusCode)
		}
		return fmt.Errorf("メールの送信に失敗: %w", err)
	}

	log.Printf("メールを送信しました to=%s subject=%s messageId=%s", to.Email, subject, resp.MessageID)
	return nil
}
