// 通知サービスのエントリポイント。
// Redis Streamsから認証系イベント（OTP発行・新規登録）を購読し、
// メール送信と通知の作成・リアルタイム配信を行う。
// REST APIで通知の一覧取得と既読管理を提供する。
package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/EvoTicket/Notification-Service/internal/consumer"
	"github.com/EvoTicket/Notification-Service/internal/mail"
	"github.com/EvoTicket/Notification-Service/internal/notification"
)

// consumerGroup は通知サービスのコンシューマグループ名。
// グループ名を固定することで、複数インスタンスが起動しても
// 各レコードはグループ内の1コンシューマにのみ配信される。
const consumerGroup = "notification-service-group"

func main() {
	port := getenv("PORT", "8086")
	dbPath := getenv("DB_PATH", "notification.db")
	redisAddr := getenv("REDIS_ADDR", "localhost:6379")
	consumerName := getenv("CONSUMER_NAME", "notification-1")
	logoURL := os.Getenv("APP_LOGO_URL")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		log.Fatalf("データベース接続に失敗: %v", err)
	}
	defer db.Close()

	store, err := notification.NewStore(db)
	if err != nil {
		log.Fatalf("通知ストアの初期化に失敗: %v", err)
	}

	hub := notification.NewHub()
	service := notification.NewService(store, hub)

	mailer := mail.NewClient(
		getenv("BREVO_BASE_URL", "https://api.brevo.com"),
		os.Getenv("BREVO_API_KEY"),
		mail.Sender{
			Name:  getenv("BREVO_SENDER_NAME", "EvoTicket"),
			Email: getenv("BREVO_SENDER_EMAIL", "no-reply@evoticket.vn"),
		},
	)

	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	dispatcher := consumer.NewDispatcher(consumer.NewRedisStreams(redisClient), consumerGroup, consumerName)
	consumer.RegisterHandlers(dispatcher, mailer, service, logoURL)
	dispatcher.Start(context.Background())

	// SIGINT/SIGTERMで購読を停止してから終了する
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("シグナルを受信しました: %v", sig)
		dispatcher.Stop()
		if err := redisClient.Close(); err != nil {
			log.Printf("Redis接続のクローズに失敗: %v", err)
		}
		os.Exit(0)
	}()

	server := notification.NewServer(port, service, hub)
	log.Printf("通知サービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("通知サービスの起動に失敗: %v", err)
	}
}

// getenv は環境変数を取得し、未設定の場合はフォールバック値を返す。
func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
