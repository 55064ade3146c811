package event

// Stream はRedis Streamsのストリーム名を表す。
type Stream string

const (
	// StreamForgotPasswordOtp はパスワード再設定用OTPイベントが流れるストリーム。
	StreamForgotPasswordOtp Stream = "forgot-password-otp"
	// StreamWelcomeSignup は新規登録完了イベントが流れるストリーム。
	StreamWelcomeSignup Stream = "welcome-signup"
)

// OtpEvent はforgot-password-otpストリームのペイロード。
// 認証サービスがパスワード再設定時に発行する。
type OtpEvent struct {
	// Email はOTPの送信先メールアドレス。
	Email string `json:"email"`
	// OtpCode はワンタイムパスワード。
	OtpCode string `json:"otpCode"`
}

// WelcomeEvent はwelcome-signupストリームのペイロード。
// 認証サービスがアカウント作成完了時に発行する。
type WelcomeEvent struct {
	// Email はウェルカムメールの送信先メールアドレス。
	Email string `json:"email"`
	// FullName はユーザーの氏名。
	FullName string `json:"fullName"`
	// Username はログイン用ユーザー名。
	Username string `json:"username"`
	// UserID は通知の宛先となるユーザーの一意識別子。
	UserID string `json:"userId"`
}
