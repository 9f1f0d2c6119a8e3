package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/apimgr/devrestore/src/cli"
	"github.com/apimgr/devrestore/src/config"
	"github.com/apimgr/devrestore/src/database"
	"github.com/apimgr/devrestore/src/scheduler"
	"github.com/apimgr/devrestore/src/server"
	"github.com/apimgr/devrestore/src/server/handler"
	"github.com/apimgr/devrestore/src/server/metrics"
	"github.com/apimgr/devrestore/src/server/middleware"
	models "github.com/apimgr/devrestore/src/server/model"
	"github.com/apimgr/devrestore/src/server/restore"
	"github.com/apimgr/devrestore/src/server/service"
	"github.com/apimgr/devrestore/src/server/store"
	"github.com/apimgr/devrestore/src/utils"
)

func main() {
	cli.Version, cli.BuildDate, cli.CommitID = Version, BuildDate, CommitID

	opts, err := cli.Parse(os.Args[1:], os.Stdout)
	if errors.Is(err, cli.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	switch {
	case opts.Status:
		err = runStatus(cfg)
	case len(opts.Command) > 0:
		err = runAdmin(cfg, opts.Command[1:])
	default:
		err = runServer(cfg)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads server.yml and applies command line overrides
func loadConfig(opts *cli.Options) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.ConfigDir)
	if err != nil {
		return nil, err
	}
	if opts.Address != "" {
		cfg.Server.Address = opts.Address
	}
	if opts.Port != 0 {
		cfg.Server.Port = opts.Port
	}
	if opts.Mode != "" {
		mode := config.Mode(opts.Mode)
		if err := mode.Validate(); err != nil {
			return nil, err
		}
		cfg.Mode = mode.String()
	}
	return cfg, nil
}

func runStatus(cfg *config.Config) error {
	host := cfg.Server.Address
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	s := &cli.StatusCommand{
		URL: "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port)),
		Out: os.Stdout,
	}
	return s.Execute(context.Background())
}

func runAdmin(cfg *config.Config, args []string) error {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	cmd := &cli.AdminCommand{
		Admins: &models.AdminModel{DB: db},
		Out:    os.Stdout,
		Prompt: cli.TerminalPrompt(os.Stdout),
		Issuer: cfg.Server.Title,
	}
	return cmd.Run(context.Background(), args)
}

func runServer(cfg *config.Config) error {
	logFormat := cfg.Log.Format
	if cfg.IsDevelopment() {
		logFormat = "console"
	}
	appLogger, err := utils.NewLogger(cfg.Log.Dir, cfg.Log.Level, logFormat)
	if err != nil {
		return err
	}
	defer appLogger.Close()
	log := appLogger.Server

	if msg := cfg.WarningMessage(); msg != "" {
		log.Warn().Msg(msg)
	}
	if cfg.Source != "" {
		log.Info().Str("path", cfg.Source).Msg("configuration loaded")
	}

	pidFile := utils.NewPIDFile(cfg.Server.PIDFile)
	if err := pidFile.Create(); err != nil {
		return err
	}
	defer pidFile.Remove()

	audit, err := service.NewAuditLogger(cfg.Log.Dir)
	if err != nil {
		return err
	}
	defer audit.Close()

	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info().Str("driver", db.Driver).Msg("database ready")

	sessions, err := store.New(cfg, db)
	if err != nil {
		return err
	}
	defer sessions.Close()
	log.Info().Str("backend", cfg.Session.Backend).Msg("session store ready")

	metrics.Init(Version, CommitID, BuildDate)

	invoker := restore.NewCommandInvoker(cfg.Restore.Command, cfg.Restore.KeepIdentityArgs, cfg.Restore.FullArgs, cfg.Restore.Timeout)
	device := &restore.Device{
		ModeCommand:   cfg.Device.ModeCommand,
		RebootCommand: cfg.Device.RebootCommand,
		RebootDelay:   cfg.Device.RebootDelay,
		Logger:        log,
	}
	history := &models.OperationModel{DB: db}
	rep := middleware.Reporter{Security: appLogger.Security, Audit: audit}

	h := &handler.Handler{
		Config:   cfg,
		Sessions: sessions,
		Admins:   &models.AdminModel{DB: db},
		History:  history,
		Restore: &restore.Service{
			Invoker: invoker,
			Guard:   &restore.Guard{},
			History: history,
			Audit:   audit,
			Logger:  log,
		},
		Device:  device,
		CSRF:    middleware.CSRF{TokenLength: cfg.Session.CSRFTokenLength, Reporter: rep},
		Audit:   audit,
		Logger:  appLogger,
		Version: Version,
	}

	r, err := newRouter(cfg, h, rep, appLogger)
	if err != nil {
		return err
	}

	// Configuration live reload. Only settings read per request change at runtime.
	var configWatcher *service.ConfigWatcher
	if cfg.Source != "" {
		configWatcher, err = service.NewConfigWatcher(cfg.Source, log, func(next *config.Config) error {
			utils.SetLevel(next.Log.Level)
			invoker.SetTimeout(next.Restore.Timeout)
			log.Info().Str("level", next.Log.Level).Dur("restore_timeout", next.Restore.Timeout).
				Msg("applied reloaded configuration")
			return audit.Log(service.AuditEvent{
				Event:    service.EventSystemConfigReload,
				Category: service.CategorySystem,
				Actor:    service.Actor{Type: "system"},
				Details:  map[string]interface{}{"path": next.Source},
				Result:   "success",
			})
		})
		if err != nil {
			log.Warn().Err(err).Msg("config live reload disabled")
		} else if err := configWatcher.Start(); err != nil {
			log.Warn().Err(err).Msg("failed to start config watcher")
			configWatcher = nil
		}
	}

	taskScheduler := scheduler.NewScheduler(log)
	if err := taskScheduler.AddTask(scheduler.TaskSessionCleanup, cfg.Session.CleanupSchedule, scheduler.CleanupSessions(sessions)); err != nil {
		return err
	}
	if err := taskScheduler.AddTask(scheduler.TaskLogRotation, "@daily", scheduler.RotateLogs(appLogger, audit)); err != nil {
		return err
	}
	taskScheduler.Start()

	srv := &http.Server{
		Addr:        cfg.ListenAddr(),
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// A restore submission answers only after the command finished
		WriteTimeout:   cfg.Restore.Timeout + 30*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	listener, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	log.Info().Str("address", srv.Addr).Msg("server started")

	admins, err := h.Admins.List(context.Background())
	if err != nil {
		log.Warn().Err(err).Msg("failed to list admins")
	}
	utils.DisplayBanner(utils.BannerInfo{
		Version:     Version,
		BuildDate:   BuildDate,
		URL:         "http://" + listener.Addr().String(),
		RestorePath: cfg.Paths.Restore,
		Mode:        cfg.Mode,
		NoAdmins:    err == nil && len(admins) == 0,
	})

	// SIGHUP is ignored; config reloads through the file watcher
	signal.Ignore(syscall.SIGHUP)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, append([]os.Signal{syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT}, platformSignals...)...)

	for {
		select {
		case err := <-serveErr:
			taskScheduler.Stop()
			return fmt.Errorf("server failed: %w", err)
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT:
				log.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

				taskScheduler.Stop()
				if configWatcher != nil {
					if err := configWatcher.Stop(); err != nil {
						log.Warn().Err(err).Msg("config watcher shutdown error")
					}
				}
				device.CancelReboot()

				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := srv.Shutdown(ctx)
				cancel()
				if err != nil {
					log.Warn().Err(err).Msg("server forced to shutdown")
				}
				log.Info().Msg("server exited")
				return nil
			default:
				handlePlatformSignal(sig, appLogger, audit)
			}
		}
	}
}

// newRouter builds the gin engine with the global middleware chain
func newRouter(cfg *config.Config, h *handler.Handler, rep middleware.Reporter, appLogger *utils.Logger) (*gin.Engine, error) {
	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid server.trusted_proxies: %w", err)
	}

	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLogger(appLogger.Access))
	r.Use(gin.Recovery())
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{cfg.Metrics.Path})))
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.BodySizeLimitMiddleware(middleware.DefaultMaxBodySize))

	if len(cfg.Server.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.Server.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", middleware.CSRFHeaderName},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           24 * time.Hour,
		}))
	}

	r.Use(middleware.LoadSession(h.Sessions, h.Cookie(), appLogger.Security))

	tmpl, err := server.LoadTemplates()
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	r.SetHTMLTemplate(tmpl)

	staticSubFS, err := server.GetStaticSubFS()
	if err != nil {
		return nil, fmt.Errorf("failed to load static files: %w", err)
	}
	r.StaticFS("/static", http.FS(staticSubFS))

	if err := h.Register(r, rep); err != nil {
		return nil, err
	}

	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	return r, nil
}
