package router

import (
	"kes-wallet/biz/handler"
	"kes-wallet/middleware"

	"github.com/cloudwego/hertz/pkg/app/server"
)

type Handlers struct {
	Trades   *handler.TradeHandler
	Balances *handler.BalanceHandler
	Callback *handler.CallbackHandler
	Copies   *handler.CopyHandler
	Signals  *handler.SignalHandler
}

// Register 注册全部 HTTP 路由
func Register(h *server.Hertz, hs Handlers) {
	h.Use(middleware.RequestID())

	api := h.Group("/api")
	api.POST("/trades", hs.Trades.Submit)
	api.GET("/trades", hs.Trades.List)
	api.GET("/trades/:id", hs.Trades.Get)
	api.GET("/trades/:id/copy-outcomes", hs.Copies.Outcomes)
	api.GET("/balances", hs.Balances.GetBalance)

	api.POST("/copy-configs", hs.Copies.Create)
	api.DELETE("/copy-configs", hs.Copies.Delete)

	api.POST("/signals", hs.Signals.Ingest)
	api.POST("/signal-subscriptions", hs.Signals.Subscribe)

	api.POST("/mpesa/callback", middleware.WebhookAck(), hs.Callback.MpesaCallback)
}
