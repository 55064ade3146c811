package consumer

import (
	"context"
	"fmt"
	"log"

	"github.com/EvoTicket/Notification-Service/internal/notification"
	"github.com/EvoTicket/Notification-Service/pkg/event"
)

const (
	// welcomeTitle はウェルカム通知のタイトル。
	welcomeTitle = "Chào mừng đến với EvoTicket!"
	// welcomeMessageFormat はウェルカム通知の本文フォーマット。
	welcomeMessageFormat = "Xin chào %s! Tài khoản của bạn đã được tạo thành công. Chúc bạn có trải nghiệm tuyệt vời!"
)

// Mailer はトランザクションメールの送信を行う。
type Mailer interface {
	// SendOtpEmail はパスワード再設定用OTPメールを送信する。
	SendOtpEmail(ctx context.Context, toEmail, otpCode string) error
	// SendWelcomeEmail はウェルカムメールを送信する。
	SendWelcomeEmail(ctx context.Context, toEmail, fullName, username string) error
}

// NotificationCreator は通知の作成とリアルタイム配信を行う。
type NotificationCreator interface {
	// CreateAndSend は通知を作成・保存し、リアルタイム配信を試みる。
	CreateAndSend(ctx context.Context, userID, title, message string, typ notification.Type, imageURL string) (*notification.Notification, error)
}

// RegisterHandlers は既知の全ストリームのハンドラをDispatcherに登録する。
// logoURLはウェルカム通知に添付する画像のURL。
func RegisterHandlers(d *Dispatcher, mailer Mailer, notifications NotificationCreator, logoURL string) {
	d.Register(event.StreamForgotPasswordOtp, HandleForgotPasswordOtp(mailer))
	d.Register(event.StreamWelcomeSignup, HandleWelcomeSignup(mailer, notifications, logoURL))
}

// HandleForgotPasswordOtp はforgot-password-otpストリームのハンドラを返す。
// OTPメールを送信するのみで、通知エンティティは作成しない。
// メール送信の失敗はエラーとして返し、レコードはACKされず再配信を待つ。
func HandleForgotPasswordOtp(mailer Mailer) Handler {
	return func(ctx context.Context, env Envelope) error {
		otpEvent, err := event.Decode[event.OtpEvent](env.Payload)
		if err != nil {
			return fmt.Errorf("OTPイベントの解析に失敗: %w", err)
		}

		if err := mailer.SendOtpEmail(ctx, otpEvent.Email, otpEvent.OtpCode); err != nil {
			return fmt.Errorf("OTPメールの送信に失敗: %w", err)
		}
		log.Printf("OTPメールを送信しました email=%s", otpEvent.Email)
		return nil
	}
}

// HandleWelcomeSignup はwelcome-signupストリームのハンドラを返す。
// ウェルカムメールを送信し、ユーザー向けのウェルカム通知を作成する。
// 通知作成内のリアルタイム配信失敗は吸収されるため、配信失敗だけで
// レコードが再配信されることはない。
func HandleWelcomeSignup(mailer Mailer, notifications NotificationCreator, logoURL string) Handler {
	return func(ctx context.Context, env Envelope) error {
		welcomeEvent, err := event.Decode[event.WelcomeEvent](env.Payload)
		if err != nil {
			return fmt.Errorf("ウェルカムイベントの解析に失敗: %w", err)
		}

		if err := mailer.SendWelcomeEmail(ctx, welcomeEvent.Email, welcomeEvent.FullName, welcomeEvent.Username); err != nil {
			return fmt.Errorf("ウェルカムメールの送信に失敗: %w", err)
		}
		log.Printf("ウェルカムメールを送信しました email=%s", welcomeEvent.Email)

		_, err = notifications.CreateAndSend(
			ctx,
			welcomeEvent.UserID,
			welcomeTitle,
			fmt.Sprintf(welcomeMessageFormat, welcomeEvent.FullName),
			notification.TypeWelcome,
			logoURL,
		)
		if err != nil {
			return fmt.Errorf("ウェルカム通知の作成に失敗: %w", err)
		}
		return nil
	}
}
