package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/mindease/client/internal/handler/auth"
	"github.com/zhouzirui/mindease/client/internal/handler/chat"
	"github.com/zhouzirui/mindease/client/internal/handler/session"
	"github.com/zhouzirui/mindease/client/internal/middleware"
	"github.com/zhouzirui/mindease/client/internal/service/companion"
	"github.com/zhouzirui/mindease/client/pkg/utils"
)

// Options 配置路由。
type Options struct {
	AllowedOrigins []string
	// RequestLog 为 false 时不挂载请求日志中间件，测试中使用
	RequestLog bool
}

// NewRouter 把 HTTP 路由挂到陪伴服务上。
func NewRouter(svc *companion.Service, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	if opts.RequestLog {
		r.Use(chimiddleware.Logger)
	}
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(opts.AllowedOrigins))

	authHandler := auth.New(svc.Store())
	sessionHandler := session.New(svc.Store())
	chatHandler := chat.New(svc)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondSuccess(w, http.StatusOK, "ok", nil)
	})
	authHandler.RegisterPublic(r)

	r.Group(func(private chi.Router) {
		private.Use(middleware.Auth(svc.Store()))
		authHandler.RegisterRoutes(private)
		sessionHandler.RegisterRoutes(private)
		chatHandler.RegisterRoutes(private)
	})

	return r
}
