package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	CartSessionCookie = "cart_session"
	CtxCartSessionKey = "cart_session" // string
)

type CartSessionConfig struct {
	TTL    time.Duration
	Secure bool
}

// CartSession はカート用のセッションIDをCookieで払い出す。
// 不正な値（UUIDでない）は新しいIDに置き換える。
func CartSession(cfg CartSessionConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sessionID := ""
			if ck, err := c.Cookie(CartSessionCookie); err == nil {
				if id, err := uuid.Parse(ck.Value); err == nil {
					sessionID = id.String()
				}
			}

			if sessionID == "" {
				sessionID = uuid.NewString()
			}

			// 使うたびに期限を延ばす
			c.SetCookie(&http.Cookie{
				Name:     CartSessionCookie,
				Value:    sessionID,
				Path:     "/",
				HttpOnly: true,
				Secure:   cfg.Secure,
				SameSite: http.SameSiteLaxMode,
				Expires:  time.Now().Add(cfg.TTL),
			})

			c.Set(CtxCartSessionKey, sessionID)
			return next(c)
		}
	}
}

// CartSessionID は CartSession が入れたIDを返す。
func CartSessionID(c echo.Context) string {
	id, _ := c.Get(CtxCartSessionKey).(string)
	return id
}
