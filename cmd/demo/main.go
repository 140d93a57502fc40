// Command demo hosts the resilience middleware in a small process: it
// wires a Middleware from the configured store and transports, exposes the
// gateway webhook that feeds inbound SMS replies back in, and serves a few
// inspection endpoints for poking at the queue while toggling connectivity.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/vitalconnect/resilor"
	"github.com/vitalconnect/resilor/config"
	"github.com/vitalconnect/resilor/internal/demomiddleware"
	"github.com/vitalconnect/resilor/internal/gatewayauth"
	"github.com/vitalconnect/resilor/internal/models"
	"github.com/vitalconnect/resilor/internal/netquality"
	"github.com/vitalconnect/resilor/internal/queuemanager"
	"github.com/vitalconnect/resilor/internal/queuestore"
	"github.com/vitalconnect/resilor/internal/router"
	"github.com/vitalconnect/resilor/internal/smscodec"
	"github.com/vitalconnect/resilor/internal/transport"
)

// deliverer is satisfied by both SMS adapters; the webhook pushes raw
// gateway messages through it onto the Incoming stream.
type deliverer interface {
	Deliver(transport.InboundMessage)
}

func main() {
	configPath := flag.String("config", "", "path to config.yaml (optional)")
	secretCache := flag.String("secret-cache", ".resilor-secrets.json", "path to the hashed secret cache")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ok, err := cfg.VerifySecretCache(*secretCache)
	if err != nil {
		log.Fatalf("Failed to verify secret cache: %v", err)
	}
	if !ok {
		log.Printf("Warning: configured secrets differ from the cached ones; updating cache")
	}
	if err := cfg.WriteSecretCache(*secretCache); err != nil {
		log.Printf("Warning: failed to write secret cache: %v", err)
	}

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Persistent queue store: Postgres when a DSN is configured, otherwise
	// in-memory.
	var store queuestore.Store
	if cfg.Database.URL != "" {
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			log.Printf("Warning: Database ping failed: %v", err)
		}
		store = queuestore.NewPostgresStore(db)
	} else {
		log.Println("No database configured, using in-memory queue store")
		store = queuestore.NewMemoryStore()
	}

	// Optional Redis publisher for network-status transitions.
	var estimatorOpts []netquality.Option
	if cfg.Redis.URL != "" {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Failed to parse Redis URL: %v", err)
		}
		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()
		if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
			log.Printf("Warning: Redis ping failed: %v", err)
		}
		estimatorOpts = append(estimatorOpts, netquality.WithRedisPublisher(redisClient, ""))
	}
	if cfg.Middleware.ReliableEndpoint != "" {
		estimatorOpts = append(estimatorOpts,
			netquality.WithLatencyProber(netquality.NewHTTPLatencyProber(cfg.Middleware.ReliableEndpoint)))
	}
	if cfg.Middleware.ProbeInterval > 0 {
		estimatorOpts = append(estimatorOpts, netquality.WithProbeInterval(cfg.Middleware.ProbeInterval))
	}

	// SMS transport: Twilio when credentials are configured, otherwise the
	// in-memory fake (sends are logged, nothing leaves the process).
	var sms transport.SMSAdapter
	var smsDeliver deliverer
	if cfg.Twilio.AccountSID != "" {
		twilioAdapter := transport.NewTwilioSMSAdapter(transport.TwilioSMSConfig{
			AccountSID:      cfg.Twilio.AccountSID,
			AuthToken:       cfg.Twilio.AuthToken,
			FromPhoneNumber: cfg.Twilio.FromPhoneNumber,
		})
		sms, smsDeliver = twilioAdapter, twilioAdapter
	} else {
		log.Println("No Twilio credentials configured, using in-memory SMS adapter")
		memAdapter := transport.NewMemorySMSAdapter()
		sms, smsDeliver = memAdapter, memAdapter
	}

	// Connectivity source: the demo drives transitions by hand through
	// PUT /network/:type rather than a platform bridge.
	connectivity := netquality.NewMemoryConnectivitySource(models.NetworkWifi)

	httpAdapter := transport.NewHTTPAdapter(transport.DefaultBreakerConfig())

	callbacks := queuemanager.Callbacks{
		OnCompleted: func(id string, status int, body []byte) {
			log.Printf("[demo] queued request %s completed with status %d", id, status)
		},
		OnFailed: func(id string, errMsg string) {
			log.Printf("[demo] queued request %s failed: %s", id, errMsg)
		},
	}

	mw := resilor.New(store, httpAdapter, sms, connectivity, callbacks, estimatorOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mw.Initialize(ctx, resilor.InitParams{
		SMSGateway:   cfg.Gateway.PhoneNumber,
		SMSEnabled:   cfg.Middleware.SMSEnabled,
		Strategy:     strategyByName(cfg.Middleware.Strategy),
		MaxQueueSize: cfg.Middleware.MaxQueueSize,
	}); err != nil {
		log.Fatalf("Failed to initialize middleware: %v", err)
	}
	defer mw.Close()

	// Log decoded inbound gateway traffic as it arrives.
	go func() {
		for msg := range sms.Incoming() {
			reply := smscodec.DecodeReply(msg.Body)
			if reply.RawBody != "" {
				log.Printf("[demo] gateway message from %s: %q", msg.Address, reply.RawBody)
				continue
			}
			log.Printf("[demo] gateway reply from %s: id=%s success=%v fields=%v",
				msg.Address, reply.ID, reply.Success, reply.Fields)
		}
	}()

	verifier, err := gatewayauth.NewVerifier(cfg.Gateway.JWTSecret, cfg.Gateway.JWTIssuer)
	if err != nil {
		log.Fatalf("Failed to build gateway verifier: %v", err)
	}

	r := gin.New()
	r.Use(gin.Recovery(), demomiddleware.Logger())

	r.POST("/gateway/webhook", demomiddleware.GatewayAuthRequired(verifier), func(c *gin.Context) {
		var payload struct {
			Address       string `json:"address"`
			Body          string `json:"body" binding:"required"`
			ServiceCenter string `json:"service_center"`
		}
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		smsDeliver.Deliver(transport.InboundMessage{
			Address:       payload.Address,
			Body:          payload.Body,
			Timestamp:     time.Now(),
			ServiceCenter: payload.ServiceCenter,
		})
		c.JSON(http.StatusAccepted, gin.H{"accepted": true})
	})

	r.POST("/execute", func(c *gin.Context) {
		var req models.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		resp, err := mw.Execute(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	})

	r.GET("/status", func(c *gin.Context) {
		status, err := mw.GetNetworkStatus()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		count, _ := mw.GetQueueCount(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"network": status, "queue_count": count})
	})

	r.GET("/queue", func(c *gin.Context) {
		pending, err := mw.ListPending(c.Request.Context(), 50)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"pending": pending})
	})

	r.POST("/queue/process", func(c *gin.Context) {
		if err := mw.ProcessQueue(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"processed": true})
	})

	r.DELETE("/queue", func(c *gin.Context) {
		cleared, err := mw.ClearQueue(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"cleared": cleared})
	})

	r.PUT("/network/:type", func(c *gin.Context) {
		t := models.NetworkType(c.Param("type"))
		connectivity.Set(t)
		c.JSON(http.StatusOK, gin.H{"type": t})
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		log.Printf("Demo server listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}

func strategyByName(name string) router.Strategy {
	switch name {
	case "AGGRESSIVE":
		return resilor.Aggressive()
	case "CONSERVATIVE":
		return resilor.Conservative()
	default:
		return resilor.Balanced()
	}
}
