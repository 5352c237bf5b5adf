package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"storefront/internal/cart"
	"storefront/internal/config"
	"storefront/internal/handler"
	"storefront/internal/infra/db"
	"storefront/internal/infra/imagestore"
	"storefront/internal/infra/kv"
	infraRepo "storefront/internal/infra/repository"
	"storefront/internal/logger"
	"storefront/internal/middleware"
	"storefront/internal/repository"
	"storefront/internal/server"
	"storefront/internal/usecase"
	"storefront/internal/validator"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// メモリ保存のときのカート数の上限
const memoryCartEntries = 10000

func main() {
	// .env は無くてもよい（本番は環境変数で渡す）
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "storefront",
		Usage: "storefront API server",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "start the HTTP server",
				Action: withConfig(serve),
			},
			{
				Name:   "migrate",
				Usage:  "create or update database tables",
				Action: withConfig(migrate),
			},
			{
				Name:  "images",
				Usage: "product image maintenance",
				Subcommands: []*cli.Command{
					{
						Name:   "ensure-dirs",
						Usage:  "create upload and thumbnail directories",
						Action: withConfig(ensureDirs),
					},
					{
						Name:  "prune-orphans",
						Usage: "delete image files no product refers to",
						Flags: []cli.Flag{
							&cli.BoolFlag{Name: "dry-run", Usage: "only list the files"},
						},
						Action: withConfig(pruneOrphans),
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type env struct {
	cfg config.Config
	log *zap.Logger
}

func withConfig(fn func(c *cli.Context, e env) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log, err := logger.New(cfg.IsProd())
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		return fn(c, env{cfg: cfg, log: log})
	}
}

func serve(c *cli.Context, e env) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	//DB接続
	gormDB, err := db.Connect(ctx, e.cfg.DSN(), e.log)
	if err != nil {
		return err
	}

	//カートの保存先
	store, closeStore, err := newKeyValueStore(ctx, e.cfg, e.log)
	if err != nil {
		return err
	}
	defer closeStore()

	images := imagestore.New(imagestore.Options{
		PublicDir:      e.cfg.PublicDir,
		ThumbnailWidth: e.cfg.ThumbnailWidth,
		Logger:         e.log.Named("imagestore"),
	})
	if err := images.EnsureDirectoriesExist(); err != nil {
		return err
	}

	//Repository（GORM実装）生成
	userRepo := infraRepo.NewUserGormRepository(gormDB)
	productRepo := infraRepo.NewProductGormRepository(gormDB)
	inventoryRepo := infraRepo.NewInventoryGormRepository(gormDB)
	auditRepo := infraRepo.NewAuditLogGormRepository(gormDB)
	txManager := infraRepo.NewTxManagerGorm(gormDB)

	carts := cart.NewStore(store, e.cfg.CartSessionTTL)

	//Usecase生成
	productUC := usecase.NewProductUsecase(productRepo, inventoryRepo, auditRepo, txManager, images, e.log.Named("product"))
	cartUC := usecase.NewCartUsecase(carts, productRepo, e.log.Named("cart"))
	orderUC := usecase.NewOrderUsecase(txManager, carts, e.log.Named("order"))
	authUC := usecase.NewAuthUsecase(usecase.AuthConfig{
		JWTSecret:      e.cfg.JWTSecret,
		AccessTokenTTL: e.cfg.AccessTokenTTL,
	}, userRepo, auditRepo, validator.NewAuthValidator(userRepo), e.log.Named("auth"))

	//Handler生成
	session := middleware.CartSession(middleware.CartSessionConfig{
		TTL:    e.cfg.CartSessionTTL,
		Secure: e.cfg.IsProd(),
	})
	guards := handler.Guards{JWTSecret: e.cfg.JWTSecret, Users: userRepo}

	srv := server.New(server.Options{
		Addr:      e.cfg.Addr(),
		FEURL:     e.cfg.FEURL,
		PublicDir: e.cfg.PublicDir,
		// フォームの他の項目の分を足す
		BodyLimitBytes: e.cfg.UploadMaxBytes + 1<<20,
		Logger:         e.log,
	}, guards, server.Handlers{
		Auth:         handler.NewAuthHandler(authUC),
		Product:      handler.NewProductHandler(productUC),
		Cart:         handler.NewCartHandler(cartUC, session),
		Order:        handler.NewOrderHandler(orderUC, session),
		AdminProduct: handler.NewAdminProductHandler(productUC, e.cfg.UploadMaxBytes),
		AdminUser:    handler.NewAdminUserHandler(authUC),
	})

	return server.Run(ctx, srv, e.cfg.Addr(), e.log)
}

// REDIS_URL があれば Redis、無ければメモリ
func newKeyValueStore(ctx context.Context, cfg config.Config, log *zap.Logger) (repository.KeyValueStore, func(), error) {
	if cfg.RedisURL == "" {
		log.Info("cart store: memory")
		m, err := kv.NewMemoryStore(memoryCartEntries)
		if err != nil {
			return nil, nil, err
		}
		return m, func() {}, nil
	}

	log.Info("cart store: redis")
	r, err := kv.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return r, func() {
		if err := r.Close(); err != nil {
			log.Warn("close redis", zap.Error(err))
		}
	}, nil
}

func migrate(c *cli.Context, e env) error {
	gormDB, err := db.Connect(c.Context, e.cfg.DSN(), e.log)
	if err != nil {
		return err
	}
	if err := db.Migrate(gormDB); err != nil {
		return err
	}
	e.log.Info("migration done")
	return nil
}

func ensureDirs(c *cli.Context, e env) error {
	images := imagestore.New(imagestore.Options{PublicDir: e.cfg.PublicDir, Logger: e.log})
	if err := images.EnsureDirectoriesExist(); err != nil {
		return err
	}
	e.log.Info("image directories ready", zap.String("public_dir", e.cfg.PublicDir))
	return nil
}

func pruneOrphans(c *cli.Context, e env) error {
	ctx := c.Context

	gormDB, err := db.Connect(ctx, e.cfg.DSN(), e.log)
	if err != nil {
		return err
	}
	referenced, err := infraRepo.NewProductGormRepository(gormDB).ListImagePaths(ctx)
	if err != nil {
		return err
	}

	images := imagestore.New(imagestore.Options{PublicDir: e.cfg.PublicDir, Logger: e.log})
	orphans, err := images.FindOrphans(ctx, referenced, e.cfg.OrphanGrace)
	if err != nil {
		return err
	}

	if c.Bool("dry-run") {
		for _, p := range orphans {
			fmt.Fprintln(c.App.Writer, p)
		}
		e.log.Info("orphan images found", zap.Int("count", len(orphans)))
		return nil
	}

	res := images.DeleteMultipleProductImages(ctx, orphans)
	e.log.Info("orphan images pruned",
		zap.Int("paths", len(orphans)),
		zap.Int("deleted_files", res.TotalDeleted),
		zap.Int("errors", res.TotalErrors),
	)
	return res.Err()
}
