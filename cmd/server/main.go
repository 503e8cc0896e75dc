package main // Entry point package

import (
	"log" // Logging library

	"github.com/joho/godotenv"    // Loads .env files in development
	"github.com/labstack/echo/v4" // Echo web framework
	"github.com/prometheus/client_golang/prometheus"

	"github.com/prasetyautama/park-entry-booking/internal/booking"
	"github.com/prasetyautama/park-entry-booking/internal/config"
	"github.com/prasetyautama/park-entry-booking/internal/coupon"
	"github.com/prasetyautama/park-entry-booking/internal/database"
	"github.com/prasetyautama/park-entry-booking/internal/gateway"
	"github.com/prasetyautama/park-entry-booking/internal/handler"
	"github.com/prasetyautama/park-entry-booking/internal/mail"
	"github.com/prasetyautama/park-entry-booking/internal/metrics"
	"github.com/prasetyautama/park-entry-booking/internal/middleware"
	"github.com/prasetyautama/park-entry-booking/internal/notify"
	"github.com/prasetyautama/park-entry-booking/internal/queue"
	"github.com/prasetyautama/park-entry-booking/internal/reconcile"
	"github.com/prasetyautama/park-entry-booking/internal/repository"
	"github.com/prasetyautama/park-entry-booking/internal/router"
	"github.com/prasetyautama/park-entry-booking/internal/ticket"
)

func main() {
	// .env is a development convenience; in production the variables
	// come from the environment and the file is absent.
	_ = godotenv.Load()
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	ticketKey, err := ticket.ParseKey(cfg.TicketKeyHex)
	if err != nil {
		log.Fatalf("ticket key: %v", err)
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	// Repositories share the pool; transactional flows join via TxRunner.
	tx := repository.NewTxRunner(db)
	bookingRepo := repository.NewBookingRepo(db)
	paymentRepo := repository.NewPaymentRepo(db)
	ticketRepo := repository.NewTicketRepo(db)
	couponRepo := repository.NewCouponRepo(db)
	priceRepo := repository.NewPriceRepo(db)
	notifRepo := repository.NewNotificationRepo(db)

	gw := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayServerKey, cfg.GatewayTimeout)
	issuer := ticket.NewIssuer(ticketRepo, ticketKey)
	couponEngine := coupon.NewEngine(couponRepo)

	var mailer notify.MailCollaborator
	if cfg.SMTPHost != "" {
		mailer = mail.NewMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.MailFrom)
	} else {
		log.Println("mail: SMTP_HOST not set, booking mail disabled")
	}
	push := queue.NewPublisher(cfg.AMQPURL)
	dispatcher := notify.NewDispatcher(notifRepo, mailer, ticket.QRImageRenderer{}, push)

	reconciler := reconcile.New(tx, bookingRepo, paymentRepo, couponRepo, issuer, dispatcher, gw, m)
	bookingSvc := booking.NewService(tx, bookingRepo, paymentRepo, priceRepo, couponEngine,
		couponRepo, issuer, dispatcher, reconciler, gw, m, cfg.ServiceFee, cfg.SessionExpiry)

	// The push consumer runs for the life of the process and survives
	// broker restarts through its own reconnect loop.
	go func() {
		if err := queue.StartPushConsumer(cfg.AMQPURL); err != nil {
			log.Printf("push consumer stopped: %v", err)
		}
	}()

	e := echo.New()
	e.HideBanner = true

	// Redis backs rate limiting and the public price cache; when it is
	// unreachable both degrade to pass-through.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Println("redis: not reachable, rate limiting and caching disabled")
	}
	e.Use(middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb))
	cacheMW := middleware.NewRedisCache(config.LoadCacheConfig(), rdb)

	bookingHandler := handler.NewBookingHandler(bookingSvc, reconciler, notifRepo)
	ticketHandler := handler.NewTicketHandler(bookingSvc, issuer, ticketRepo, bookingRepo, reconciler, dispatcher, m)
	webhookHandler := handler.NewWebhookHandler(reconciler, cfg.GatewayServerKey, m)
	priceHandler := handler.NewPriceHandler(priceRepo)

	router.RegisterRoutes(e, webhookHandler)
	router.RegisterPublic(e, priceHandler, cacheMW)
	router.RegisterBookings(e, bookingHandler, ticketHandler, cfg.JWTSecret)
	router.RegisterStaff(e, ticketHandler, cfg.JWTSecret)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
