package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"storefront/internal/handler"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	Addr string
	// CORSで許可するフロントのURL
	FEURL string
	// 画像を配信する公開ディレクトリ（<PublicDir>/images/products/...）
	PublicDir string
	// リクエストボディ全体の上限（画像の上限より少し大きく）
	BodyLimitBytes int64
	Logger         *zap.Logger
}

type Handlers struct {
	Auth         *handler.AuthHandler
	Product      *handler.ProductHandler
	Cart         *handler.CartHandler
	Order        *handler.OrderHandler
	AdminProduct *handler.AdminProductHandler
	AdminUser    *handler.AdminUserHandler
}

// New はミドルウェアとルートを登録した echo を返す。
func New(opts Options, guards handler.Guards, h Handlers) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(requestLogger(opts.Logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     []string{opts.FEURL},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization},
		AllowCredentials: true,
	}))
	if opts.BodyLimitBytes > 0 {
		e.Use(echomw.BodyLimit(strconv.FormatInt(opts.BodyLimitBytes, 10)))
	}

	// 商品画像（/images/products/uploads/..., /images/products/thumbnails/...）
	e.Static("/images/products", opts.PublicDir+"/images/products")

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, handler.SuccessResponse{Message: "ok"})
	})

	h.Auth.RegisterRoutes(e, guards)
	h.Product.RegisterRoutes(e)
	h.Cart.RegisterRoutes(e)
	h.Order.RegisterRoutes(e, guards)
	h.AdminProduct.RegisterRoutes(e, guards)
	h.AdminUser.RegisterRoutes(e, guards)

	return e
}

// Run は ctx が終わるまで待ち受け、終わったらリクエストを待ってから止める。
func Run(ctx context.Context, e *echo.Echo, addr string, log *zap.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http server started", zap.String("addr", addr))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		log.Info("http server shutting down")
		return e.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func requestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID),
			}
			if v.Error != nil {
				log.Error("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			log.Info("request", fields...)
			return nil
		},
	})
}
