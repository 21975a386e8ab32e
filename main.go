package main

import (
	"fmt"
	"os"

	"github.com/patry77/techniki-czatt/realtime"
	"github.com/patry77/techniki-czatt/routes"
	"github.com/patry77/techniki-czatt/services"
	"github.com/patry77/techniki-czatt/storage"
	"github.com/patry77/techniki-czatt/utils"

	"github.com/caarlos0/env/v6"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kataras/iris/v12"
	"github.com/kataras/iris/v12/middleware/jwt"
)

type serverConfig struct {
	Host string `env:"HOST" envDefault:"0.0.0.0"`
	Port string `env:"PORT" envDefault:"4000"`
}

func main() {
	godotenv.Load()
	utils.InitializeLogger()
	defer utils.Logger.Sync()

	storage.InitializeDB()
	storage.InitializeRedis()
	storage.InitializeUploads()

	var cfg serverConfig
	if err := env.Parse(&cfg); err != nil {
		utils.Logger.Fatalw("parsing server config", "error", err)
	}

	hub := realtime.NewHub(utils.Logger)
	presence := realtime.NewPresenceTracker(storage.DB, hub, utils.Logger)
	notifications := services.NewNotificationService(storage.DB, utils.Logger)
	pipeline := services.NewMessagePipeline(storage.DB, hub, notifications, utils.Logger)
	reactions := services.NewReactionService(storage.DB, hub, utils.Logger)
	gateway := realtime.NewGateway(hub, presence, reactions, storage.DB, storage.Redis, utils.Logger)

	routes.Initialize(pipeline, reactions, hub)

	app := iris.New()
	app.Validator = validator.New()

	// CORS for the web client (http://localhost:3000)
	app.AllowMethods(iris.MethodOptions)
	app.UseRouter(func(ctx iris.Context) {
		ctx.Header("Access-Control-Allow-Origin", ctx.GetHeader("Origin"))
		ctx.Header("Vary", "Origin")
		ctx.Header("Access-Control-Allow-Credentials", "true")
		ctx.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Requested-With")
		ctx.Header("Access-Control-Allow-Methods", "GET,POST,PATCH,PUT,DELETE,OPTIONS")
		if ctx.Method() == iris.MethodOptions {
			ctx.StatusCode(iris.StatusNoContent)
			return
		}
		ctx.Next()
	})

	app.Use(iris.Compression)

	accessTokenVerifier := jwt.NewVerifier(jwt.HS256, []byte(os.Getenv("ACCESS_TOKEN_SECRET")))
	accessTokenVerifier.WithDefaultBlocklist()
	accessTokenVerifierMiddleware := accessTokenVerifier.Verify(func() interface{} {
		return new(utils.AccessToken)
	})

	refreshTokenVerifier := jwt.NewVerifier(jwt.HS256, []byte(os.Getenv("REFRESH_TOKEN_SECRET")))
	refreshTokenVerifier.WithDefaultBlocklist()
	refreshTokenVerifierMiddleware := refreshTokenVerifier.Verify(func() interface{} {
		return new(jwt.Claims)
	})

	refreshTokenVerifier.Extractors = append(refreshTokenVerifier.Extractors, func(ctx iris.Context) string {
		var tokenInput utils.RefreshTokenInput
		if err := ctx.ReadJSON(&tokenInput); err != nil {
			return ""
		}
		return tokenInput.RefreshToken
	})

	auth := app.Party("/api/auth")
	{
		auth.Post("/register", routes.Register)
		auth.Post("/login", routes.Login)
		auth.Post("/refresh", refreshTokenVerifierMiddleware, utils.RefreshToken)
		auth.Get("/google", routes.GoogleLogin)
		auth.Get("/google/callback", routes.GoogleCallback)
	}

	users := app.Party("/api/users", accessTokenVerifierMiddleware, utils.UserIDFromTokenMiddleware)
	{
		users.Get("/", routes.ListUsers)
		users.Get("/profile", routes.GetCurrentUser)
		users.Put("/profile", routes.UpdateProfile)
	}

	channels := app.Party("/api/channels", accessTokenVerifierMiddleware, utils.UserIDFromTokenMiddleware)
	{
		channels.Get("/", routes.ListChannels)
		channels.Post("/", routes.CreateChannel)
		channels.Get("/{id:uint}", routes.GetChannel)
		channels.Post("/{id:uint}/join", routes.JoinChannel)
		channels.Get("/{id:uint}/messages", routes.GetChannelMessages)
		channels.Post("/{id:uint}/messages", routes.SendChannelMessage)
	}

	messages := app.Party("/api/messages", accessTokenVerifierMiddleware, utils.UserIDFromTokenMiddleware)
	{
		messages.Get("/unread", routes.GetUnreadCounts)
		messages.Get("/conversations", routes.GetConversations)
		messages.Get("/private/{userId:uint}", routes.GetPrivateMessages)
		messages.Post("/private/{userId:uint}", routes.SendPrivateMessage)
		messages.Post("/private/{userId:uint}/thread", routes.SendPrivateMessage)
		messages.Get("/{id:uint}/thread", routes.GetThread)
		messages.Post("/{id:uint}/thread/reply", routes.ReplyInThread)
		messages.Post("/{id:uint}/reactions", routes.AddReaction)
	}

	notificationsParty := app.Party("/api/notifications", accessTokenVerifierMiddleware, utils.UserIDFromTokenMiddleware)
	{
		notificationsParty.Get("/", routes.GetNotifications)
		notificationsParty.Put("/read", routes.MarkNotificationsRead)
	}

	app.HandleDir("/uploads", iris.Dir(storage.UploadDir))
	app.Any("/ws", iris.FromStd(gateway))

	utils.Logger.Infow("server starting", "host", cfg.Host, "port", cfg.Port)
	app.Listen(fmt.Sprintf("%s:%s", cfg.Host, cfg.Port))
}
