package notification

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/EvoTicket/Notification-Service/pkg/middleware"
)

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// service は通知のライフサイクルを管理するサービス。
	service *Service
	// hub はWebSocket接続を管理するHub。
	hub *Hub
	// upgrader はHTTP接続をWebSocketにアップグレードする。
	upgrader websocket.Upgrader
}

// NewServer は新しい通知サーバーを生成する。
// 許可するCORSオリジンはCORS_ALLOWED_ORIGINS環境変数（カンマ区切り）で指定する。
func NewServer(port string, service *Service, hub *Hub) *Server {
	allowedOrigins := splitOrigins(os.Getenv("CORS_ALLOWED_ORIGINS"))

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS(allowedOrigins))

	s := &Server{
		router:  router,
		port:    port,
		service: service,
		hub:     hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				for _, allowed := range allowedOrigins {
					if origin == allowed {
						return true
					}
				}
				return false
			},
		},
	}
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "dev-secret-key"
	}
	s.setupRoutes(jwtSecret)

	return s
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// splitOrigins はカンマ区切りのオリジン指定をスライスに変換する。
func splitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes(jwtSecret string) {
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(jwtSecret))
	{
		notifications := api.Group("/notifications")
		{
			// 通知一覧取得（ページネーション付き）
			notifications.GET("", s.handleList())
			// 未読通知件数取得
			notifications.GET("/unread-count", s.handleUnreadCount())
			// 通知を既読にする
			notifications.PUT("/:id/read", s.handleMarkAsRead())
			// 全通知を既読にする
			notifications.PUT("/read-all", s.handleMarkAllAsRead())
		}

		// リアルタイム通知用WebSocket接続
		api.GET("/ws", s.handleWebSocket())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	})
}

// handleList は認証済みユーザーの通知一覧をページネーション付きで返すハンドラ。
// クエリパラメータ page は1始まり。デフォルトは page=1, size=10。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "pageは整数で指定してください"})
			return
		}
		size, err := strconv.Atoi(c.DefaultQuery("size", "10"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sizeは整数で指定してください"})
			return
		}

		response, err := s.service.List(c.Request.Context(), userID, page, size)
		if err != nil {
			if errors.Is(err, ErrInvalidPage) {
				c.JSON(http.StatusBadRequest, gin.H{"error": ErrInvalidPage.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知一覧の取得に失敗しました"})
			log.Printf("通知一覧取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, response)
	}
}

// handleUnreadCount は認証済みユーザーの未読通知件数を返すハンドラ。
func (s *Server) handleUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		count, err := s.service.UnreadCount(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "未読件数の取得に失敗しました"})
			log.Printf("未読件数取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"unreadCount": count})
	}
}

// handleMarkAsRead は指定された通知を既読にするハンドラ。
// 所有者以外からのリクエストは403を返す。既読済みの通知には何もしない。
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		notificationID := c.Param("id")
		if notificationID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "通知IDが必要です"})
			return
		}

		n, err := s.service.MarkAsRead(c.Request.Context(), notificationID, userID)
		if err != nil {
			switch {
			case errors.Is(err, ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": ErrNotFound.Error()})
			case errors.Is(err, ErrForbidden):
				c.JSON(http.StatusForbidden, gin.H{"error": ErrForbidden.Error()})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の既読処理に失敗しました"})
				log.Printf("通知既読処理エラー: %v", err)
			}
			return
		}

		c.JSON(http.StatusOK, ToDTO(n))
	}
}

// handleMarkAllAsRead は認証済みユーザーの全通知を既読にするハンドラ。
func (s *Server) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		count, err := s.service.MarkAllAsRead(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "全通知の既読処理に失敗しました"})
			log.Printf("全通知既読処理エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "success",
			"message": "全通知を既読にしました",
			"count":   count,
		})
	}
}

// handleWebSocket はWebSocket接続を確立し、認証済みユーザーの接続としてHubに登録する。
// 接続中はリアルタイム通知が配信される。切断時に登録を解除する。
func (s *Server) handleWebSocket() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgradeが失敗した場合はgorilla/websocketがレスポンスを書き込み済み
			log.Printf("WebSocketアップグレードエラー user=%s: %v", userID, err)
			return
		}

		s.hub.Register(userID, conn)
		defer func() {
			s.hub.Unregister(userID, conn)
			_ = conn.Close()
		}()

		// クライアントからのメッセージは読み捨てる。読み取りエラー（切断）でループを抜ける。
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}
