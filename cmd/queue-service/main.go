package main

import (
	"context"
	"encoding/json"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"iqms/queue-service/internal/config"
	"iqms/queue-service/internal/display"
	"iqms/queue-service/internal/httpapi"
	"iqms/queue-service/internal/hub"
	"iqms/queue-service/internal/store/postgres"
	"iqms/queue-service/internal/telemetry"
	"iqms/queue-service/internal/worker"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup("queue-service")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	store := postgres.NewStore(pool)
	h := hub.New()
	sync := display.NewSynchronizer(store, h, cfg.DefaultServiceBudget)
	handler := httpapi.NewHandler(store, store, store, sync)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:      cfg.RateLimitPerMinute,
		IPBurst:          cfg.RateLimitBurst,
		SessionPerMinute: cfg.SessionRateLimitPerMinute,
		SessionBurst:     cfg.SessionRateLimitBurst,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/", handler.Routes())

	sockjsHandler := sockjs.NewHandler("/display", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		h.Register(client)
		defer h.Unregister(client)

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				h.UpdateSubscription(client, hub.Subscription{})
				continue
			}
			h.UpdateSubscription(client, hub.Subscription{
				SessionID: parsed.SessionID,
				CounterID: parsed.CounterID,
			})
			// Send the current frame right away so a fresh display is not
			// blank until the next mutation.
			if parsed.SessionID != "" && parsed.CounterID != "" {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				state, err := sync.Compute(ctx, parsed.SessionID, parsed.CounterID, time.Now().UTC())
				cancel()
				if err != nil {
					log.Printf("initial frame error: %v", err)
					continue
				}
				payload, err := json.Marshal(state)
				if err != nil {
					continue
				}
				select {
				case client.Send <- payload:
				default:
				}
			}
		}
	})
	mux.Handle("/display/", sockjsHandler)

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(mux)), "queue-service")
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("queue-service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	transport := worker.NewTransport(cfg.NotifyTransport)
	notifier := worker.New(store, transport, worker.Config{
		MaxAttempts: cfg.NotifyMaxAttempts,
		BackoffBase: cfg.NotifyBackoffBase,
		BackoffCap:  cfg.NotifyBackoffCap,
	})
	if cfg.NotifyInterval > 0 {
		go worker.Start(workerCtx, cfg.NotifyInterval, notifier)
	}

	go func() {
		if cfg.SweepInterval <= 0 {
			return
		}
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				pairs, err := store.ListServingPairs(ctx)
				if err != nil {
					cancel()
					log.Printf("serving sweep list error: %v", err)
					continue
				}
				for _, pair := range pairs {
					demoted, err := store.EnforceSingleServing(ctx, pair.SessionID, pair.CounterID)
					if err != nil {
						log.Printf("serving sweep error session=%s counter=%s: %v", pair.SessionID, pair.CounterID, err)
						continue
					}
					if demoted > 0 {
						log.Printf("serving sweep demoted %d tokens session=%s counter=%s", demoted, pair.SessionID, pair.CounterID)
						sync.Push(ctx, pair.SessionID, pair.CounterID)
					}
				}
				cancel()
			}
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	workerCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
