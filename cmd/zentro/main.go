package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"github.com/zentrochat/zentro/internal/auth"
	"github.com/zentrochat/zentro/internal/chat"
	"github.com/zentrochat/zentro/internal/db"
	"github.com/zentrochat/zentro/internal/events"
	"github.com/zentrochat/zentro/internal/friends"
	"github.com/zentrochat/zentro/internal/groups"
	"github.com/zentrochat/zentro/internal/handlers"
	"github.com/zentrochat/zentro/internal/localstore"
	"github.com/zentrochat/zentro/internal/metrics"
	"github.com/zentrochat/zentro/internal/presence"
	"github.com/zentrochat/zentro/internal/push"
	"github.com/zentrochat/zentro/internal/realtime"
	"github.com/zentrochat/zentro/internal/store"
	"github.com/zentrochat/zentro/internal/ws"
	"github.com/zentrochat/zentro/pkg/config"
	"github.com/zentrochat/zentro/pkg/i18n"
)

const shutdownTimeout = 10 * time.Second

func translate(c *gin.Context, message string) string {
	return i18n.Translate(i18n.Negotiate(c.GetHeader("Accept-Language")), message)
}

type responseBodyWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w responseBodyWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w responseBodyWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// serverErrorLogger logs the request, attached errors and response body of
// every 5xx answer.
func serverErrorLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		blw := &responseBodyWriter{body: bytes.NewBuffer(nil), ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Printf(
				"HTTP %d %s %s ip=%s duration=%s errors=%q response=%q",
				c.Writer.Status(),
				c.Request.Method,
				c.Request.URL.Path,
				c.ClientIP(),
				time.Since(start).Truncate(time.Millisecond),
				c.Errors.ByType(gin.ErrorTypeAny).String(),
				strings.TrimSpace(blw.body.String()),
			)
		}
	}
}

func panicRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.Printf(
			"panic recovered method=%s path=%s ip=%s error=%v\n%s",
			c.Request.Method,
			c.Request.URL.Path,
			c.ClientIP(),
			recovered,
			debug.Stack(),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": translate(c, "internal server error")})
	})
}

func main() {
	cfg := config.Load()

	if len(os.Args) > 1 {
		if err := runCommand(cfg, os.Args[1:]); err != nil {
			log.Fatalf("%v", err)
		}
		return
	}

	if err := runServer(cfg); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func runCommand(cfg *config.Config, args []string) error {
	command := args[0]

	switch command {
	case "status":
		return runStatus(cfg, os.Stdout, args[1:])
	case "reconcile":
		return runReconcile(cfg, os.Stdout, args[1:])
	case "-h", "--help", "help":
		printUsage(os.Stdout)
		return nil
	default:
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  zentro                          Start the server")
	fmt.Fprintln(out, "  zentro status [--json]          Show application statistics")
	fmt.Fprintln(out, "  zentro reconcile [--dry-run]    Repair room previews from their messages")
	fmt.Fprintln(out, "                   [--database path]")
}

type clientCounter interface {
	ClientCount() int
}

type diskMeter interface {
	DiskUsage() uint64
}

func healthHandler(clients clientCounter, local diskMeter) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":            "ok",
			"clients":           clients.ClientCount(),
			"local_store_bytes": local.DiskUsage(),
		})
	}
}

func newRateLimit(period time.Duration, limit int64) gin.HandlerFunc {
	return handlers.RateLimit(limiter.New(memory.NewStore(), limiter.Rate{Period: period, Limit: limit}))
}

func openBus(cfg *config.Config) (events.Bus, error) {
	if cfg.NATSURL == "" {
		return events.NewMemoryBus(), nil
	}
	bus, err := events.NewNATSBus(cfg.NATSURL)
	if err != nil {
		return nil, err
	}
	log.Printf("events: mirroring changes over nats url=%s", cfg.NATSURL)
	return bus, nil
}

func runServer(cfg *config.Config) error {
	for _, dir := range []string{filepath.Dir(cfg.DatabasePath), cfg.LocalStorePath} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory %s: %w", dir, err)
		}
	}

	database, err := db.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	local, err := localstore.Open(cfg.LocalStorePath)
	if err != nil {
		return fmt.Errorf("failed to open local store: %w", err)
	}
	defer local.Close()

	bus, err := openBus(cfg)
	if err != nil {
		return err
	}
	defer bus.Close()

	st := store.New(database.GetConn())
	cache := realtime.NewProfileCache(st, cfg.ProfileCacheTTL, cfg.ProfileSweep)
	defer cache.Close()

	// Services
	safety := localstore.NewSafetyList(local)
	notifier := push.NewNotifier(st, cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey)
	if notifier == nil {
		log.Printf("push: VAPID keys not configured, web push disabled")
	}
	resolver := realtime.NewResolver(st, bus)
	groupSvc := groups.NewService(st, bus)
	opts := chat.Options{Blocks: safety, Groups: groupSvc}
	if notifier != nil {
		opts.Push = notifier
	}
	chatSvc := chat.NewService(st, resolver, bus, opts)
	friendSvc := friends.NewService(st, bus)
	presenceSvc := presence.NewService(st, cache, bus)
	authSvc := auth.New(st, cfg.JWTSecret)
	chatLists := realtime.NewChatListAggregator(st, cache, bus)
	roomFeeds := realtime.NewMessageSubscriber(st, bus, cfg.PageSize)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := ws.NewHub(ws.Deps{
		Auth:     authSvc,
		Chats:    chatLists,
		Rooms:    roomFeeds,
		Messages: chatSvc,
		RoomInfo: st,
		Presence: presenceSvc,
	})
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	if err := presenceSvc.StartSweeper(ctx, cfg.PresenceCron, cfg.PresenceTimeout, hub); err != nil {
		return fmt.Errorf("failed to start presence sweeper: %w", err)
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(serverErrorLogger())
	router.Use(gin.Logger())
	router.Use(panicRecovery())

	api := &handlers.API{
		Auth: handlers.NewAuthHandler(authSvc, st),
		Chat: handlers.NewChatHandler(handlers.ChatDeps{
			Chat:     chatSvc,
			Presence: presenceSvc,
			Users:    st,
			Resolver: resolver,
			Chats:    chatLists,
			Messages: roomFeeds,
		}),
		Friends: handlers.NewFriendHandler(friendSvc),
		Groups:  handlers.NewGroupHandler(groupSvc),
		Local:   handlers.NewLocalHandler(local, safety, notifier, st),
		Limits: handlers.Limits{
			Register: newRateLimit(time.Minute, 2),
			Login:    newRateLimit(time.Minute, 5),
			Write:    newRateLimit(time.Minute, 60),
		},
	}
	api.Routes(router)

	router.GET("/ws", hub.HandleWebSocket)

	router.GET("/health", healthHandler(hub, local))

	if cfg.MetricsEnabled {
		if err := metrics.RegisterGauge("websocket_clients", "Connected websocket clients.", func() float64 {
			return float64(hub.ClientCount())
		}); err != nil {
			log.Printf("metrics: failed to register websocket gauge: %v", err)
		}
		if err := metrics.RegisterGauge("profile_cache_entries", "Profiles held in the cache.", func() float64 {
			return float64(cache.Len())
		}); err != nil {
			log.Printf("metrics: failed to register cache gauge: %v", err)
		}
		if err := metrics.RegisterGauge("local_store_bytes", "On-disk size of the local store.", func() float64 {
			return float64(local.DiskUsage())
		}); err != nil {
			log.Printf("metrics: failed to register local store gauge: %v", err)
		}
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": translate(c, "not found")})
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept-Language"},
		AllowCredentials: true,
	})

	addr := fmt.Sprintf("0.0.0.0:%s", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           corsHandler.Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("Starting server on %s", addr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	stopHub()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server: shutdown error: %v", err)
	}
	select {
	case <-hub.Done():
	case <-shutdownCtx.Done():
		log.Printf("ws: hub did not stop before shutdown timeout")
	}
	return nil
}
