package main

import (
	"context"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/redis/go-redis/v9"

	"planpay_backend/internal/controller"
	"planpay_backend/internal/middleware"
	"planpay_backend/internal/model"
	"planpay_backend/pkg/billing"
	"planpay_backend/pkg/config"
	"planpay_backend/pkg/cron"
	"planpay_backend/pkg/database"
	"planpay_backend/pkg/email"
	"planpay_backend/pkg/gateway"
	"planpay_backend/pkg/jobqueue"
	"planpay_backend/pkg/seed"
)

func setupRoutes(app *fiber.App) {
	api := app.Group("/api")

	// Auth Routes
	auth := api.Group("/auth")
	auth.Post("/register", controller.Register)
	auth.Post("/login", controller.Login)

	// Protected Routes
	protected := api.Group("/", middleware.AuthMiddleware())
	protected.Get("/me", controller.GetMe)

	// Public plan catalog
	api.Get("/plans", controller.ListPlans)

	// Subscription routes
	subscriptions := api.Group("/subscriptions", middleware.AuthMiddleware())
	subscriptions.Post("/", controller.Subscribe)
	subscriptions.Post("/change", controller.ChangePlan)
	subscriptions.Post("/cancel", controller.CancelSubscription)
	subscriptions.Post("/reactivate", controller.ReactivateSubscription)
	subscriptions.Get("/my", controller.GetMySubscription)

	// Stripe checkout süreç sonuçları
	payments := api.Group("/payments")
	payments.Get("/callback/success", controller.PaymentSuccess)
	payments.Get("/callback/failed", controller.PaymentFailed)

	// Stripe webhook
	api.Post("/webhook", controller.StripeWebhook)

	invoices := api.Group("/invoices", middleware.AuthMiddleware())
	invoices.Get("/my", controller.GetMyInvoices)

	// Refund routes
	refunds := api.Group("/refunds", middleware.AuthMiddleware())
	refunds.Post("/", controller.RequestRefund)
	refunds.Get("/pending", middleware.AdminOnly(), controller.ListPendingRefunds)
	refunds.Post("/:id/approve", middleware.AdminOnly(), controller.ApproveRefund)
}

// registerJobHandlers binds the queue topics to their worker bodies. The
// scans only flag rows and enqueue; everything that touches the store or
// the gateway runs here.
func registerJobHandlers(
	queue *jobqueue.Queue,
	subs *billing.SubscriptionService,
	rec *billing.Reconciler,
) {
	queue.Register(jobqueue.TopicExpireBatch, func(ctx context.Context, job *jobqueue.Job) error {
		var p jobqueue.ExpireBatchPayload
		if err := job.DecodePayload(&p); err != nil {
			return err
		}
		expired, err := subs.ExpireBatch(p.SubscriptionIDs)
		if err != nil {
			return err
		}
		log.Printf("Expired %d of %d flagged subscriptions", expired, len(p.SubscriptionIDs))
		if expired > 0 {
			notifyExpired(p.SubscriptionIDs)
		}
		return nil
	})

	queue.Register(jobqueue.TopicRenew, func(ctx context.Context, job *jobqueue.Job) error {
		var p jobqueue.RenewPayload
		if err := job.DecodePayload(&p); err != nil {
			return err
		}
		invoice, err := subs.ProcessRenewal(p.SubscriptionID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return nil
		}

		payment, redirectURL, err := rec.InitiatePayment(ctx, invoice, "card")
		if err != nil {
			// The invoice exists; payment can be initiated on the next
			// delivery or manually. Do not fail the renewal itself.
			log.Printf("Could not initiate renewal payment for invoice %s: %v", invoice.InvoiceNumber, err)
			return nil
		}
		log.Printf("Renewal payment %d initiated for invoice %s", payment.ID, invoice.InvoiceNumber)

		if email.GlobalEmailService != nil {
			var user model.User
			if err := database.GetDB().First(&user, invoice.UserID).Error; err == nil {
				if err := email.GlobalEmailService.SendInvoiceIssuedEmail(
					user.Email, user.GetFullName(), invoice.InvoiceNumber,
					invoice.Amount.StringFixed(2), invoice.Currency,
					invoice.DueDate, redirectURL,
				); err != nil {
					log.Printf("Could not send renewal invoice email: %v", err)
				}
			}
		}
		return nil
	})

	queue.Register(jobqueue.TopicPaymentRetry, func(ctx context.Context, job *jobqueue.Job) error {
		var p jobqueue.PaymentRetryPayload
		if err := job.DecodePayload(&p); err != nil {
			return err
		}
		return rec.RetryPayment(ctx, p.PaymentID)
	})
}

// notifyExpired mails the goodbye notice to freshly expired subscribers.
// Best effort; a delivery failure never fails the expire job.
func notifyExpired(ids []uint) {
	if email.GlobalEmailService == nil {
		return
	}

	var expired []model.Subscription
	err := database.GetDB().
		Preload("User").
		Where("id IN ? AND status = ?", ids, model.SubscriptionExpired).
		Find(&expired).Error
	if err != nil {
		log.Printf("Could not load expired subscriptions for notices: %v", err)
		return
	}

	for _, sub := range expired {
		err := email.GlobalEmailService.SendSubscriptionExpiredEmail(
			sub.User.Email, sub.User.GetFullName(), string(sub.Tier),
		)
		if err != nil {
			log.Printf("Could not send expiry notice to %s: %v", sub.User.Email, err)
		}
	}
}

func main() {
	cfg := config.Load()

	email.InitEmailService()

	database.InitDB(cfg.Database.URL)
	err := database.MigrateDatabase(
		&model.User{},
		&model.Subscription{},
		&model.SubscriptionPrice{},
		&model.Invoice{},
		&model.InvoiceItem{},
		&model.Payment{},
		&model.Refund{},
		&model.Coupon{},
	)
	if err != nil {
		log.Printf("Migration warning: %v", err)
	}

	seed.SeedSubscriptionPrices(database.GetDB())
	seed.SeedCoupons(database.GetDB())

	clock := billing.SystemClock
	pricing := billing.NewPricingResolver(database.GetDB(), clock)
	coupons := billing.NewCouponValidator(database.GetDB(), clock)
	invoices := billing.NewInvoiceGenerator(database.GetDB(), clock, coupons)
	subs := billing.NewSubscriptionService(database.GetDB(), clock, pricing, invoices)
	dunning := billing.NewDunningEngine(database.GetDB(), clock)
	stripeGateway := gateway.NewStripeGateway(
		cfg.Stripe.SecretKey, cfg.Stripe.SuccessURL, cfg.Stripe.CancelURL, cfg.Stripe.Timeout,
	)
	rec := billing.NewReconciler(database.GetDB(), clock, stripeGateway, dunning)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	queue := jobqueue.NewQueue(redisClient, cfg.Scheduler.Workers)
	registerJobHandlers(queue, subs, rec)
	queue.Start()
	defer queue.Stop()

	lifecycle := cron.InitLifecycleCrons(cron.Deps{
		Queue:     queue,
		Dunning:   dunning,
		Pricing:   pricing,
		Invoices:  invoices,
		Clock:     clock,
		BatchSize: cfg.Scheduler.BatchSize,
	})
	defer lifecycle.Stop()

	controller.InitSubscriptionController(subs, rec)
	controller.InitPaymentController(cfg.Stripe.WebhookSecret)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New())

	setupRoutes(app)

	log.Printf("Server is running on port %s", cfg.Server.Port)
	log.Fatal(app.Listen(":" + cfg.Server.Port))
}
