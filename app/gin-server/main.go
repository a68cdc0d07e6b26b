package main

import (
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/rant2me/continuity/config"
	"github.com/rant2me/continuity/internal/api/handlers"
	"github.com/rant2me/continuity/internal/api/middleware"
	"github.com/rant2me/continuity/internal/api/routes"
	"github.com/rant2me/continuity/internal/logger"
	"github.com/rant2me/continuity/internal/notify"
	mongorepo "github.com/rant2me/continuity/internal/repositories/mongo"
	pgrepo "github.com/rant2me/continuity/internal/repositories/postgres"
	"github.com/rant2me/continuity/internal/services"
)

func main() {
	_ = godotenv.Load()
	log := logger.New()

	// Init PostgreSQL
	if err := config.InitPostgres(); err != nil {
		log.WithError(err).Fatal("PostgreSQL init error")
	}
	if err := pgrepo.Migrate(config.PostgresDB); err != nil {
		log.WithError(err).Fatal("PostgreSQL migrate error")
	}
	log.Info("PostgreSQL connected")

	opts := []services.Option{
		services.WithLogger(log),
		services.WithStoreTimeout(config.StoreTimeout()),
	}

	// Init Redis (optional: association notices)
	var feed *notify.RedisNotifier
	if err := config.InitRedis(); err != nil {
		log.WithError(err).Warn("Redis unavailable, association notices disabled")
	} else {
		feed = notify.NewRedisNotifier(config.RedisClient)
		opts = append(opts, services.WithNotifier(feed))
		log.Info("Redis connected")
	}

	db := config.PostgresDB
	uow := pgrepo.NewUnitOfWork(db)
	convoRepo := pgrepo.NewConversationRepo(db)
	msgRepo := pgrepo.NewMessageRepo(db)

	convoSvc := services.NewConversationService(uow, convoRepo, msgRepo, opts...)
	lifecycleSvc := services.NewLifecycleService(uow, opts...)
	msgSvc := services.NewMessageService(uow, convoRepo, msgRepo, opts...)

	deps := routes.Deps{
		Auth:         middleware.JWTConfigFromEnv(),
		Conversation: handlers.NewConversationHandler(convoSvc, lifecycleSvc),
		Message:      handlers.NewMessageHandler(msgSvc),
	}

	// Init MongoDB (optional: voice session journal)
	if err := config.InitMongo(); err != nil {
		log.WithError(err).Warn("MongoDB unavailable, voice session journal disabled")
	} else {
		if err := config.EnsureMongoIndexes(); err != nil {
			log.WithError(err).Fatal("MongoDB index error")
		}
		mdb, err := config.MongoDatabase()
		if err != nil {
			log.WithError(err).Fatal("MongoDB database error")
		}
		sessionSvc := services.NewSessionService(mongorepo.NewVoiceSessionRepo(mdb), convoSvc, opts...)
		deps.Session = handlers.NewSessionHandler(sessionSvc)
		log.Info("MongoDB connected")
	}

	if feed != nil {
		deps.WS = handlers.NewWSHandler(feed, log, config.AllowedOrigins())
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))
	routes.RegisterRoutes(r, deps)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := r.Run(":" + port); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}
