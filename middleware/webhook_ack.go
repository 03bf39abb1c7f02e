package middleware

import (
	"context"
	"runtime/debug"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// WebhookAck 回调路径的 panic 兜底：记录后仍按网关格式应答，避免网关无限重投
func WebhookAck() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		defer func() {
			if r := recover(); r != nil {
				hlog.CtxErrorf(ctx, "[WebhookAck] panic path=%s: %v\n%s", c.Path(), r, debug.Stack())
				c.AbortWithStatusJSON(consts.StatusOK, map[string]interface{}{
					"ResultCode": 1,
					"ResultDesc": "Rejected",
				})
			}
		}()
		c.Next(ctx)
	}
}
