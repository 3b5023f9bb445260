package main

import (
	"context"
	"log"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"inkpress/auth"
	"inkpress/common"
	"inkpress/database"
	"inkpress/email"
	"inkpress/posts"
	"inkpress/storage"
)

func main() {
	godotenv.Load()

	cfg, err := common.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration: ", err)
	}

	db := common.ConnectDb(cfg.DatabaseFile)
	if db == nil {
		log.Fatal("Failed to connect to database")
	}

	if err := database.RunMigrations(db); err != nil {
		log.Fatal("Failed to run migrations: ", err)
	}

	var store storage.Storage
	if cfg.MinioEndpoint != "" {
		store, err = storage.NewMinioStorage(context.Background(),
			cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey,
			cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatal("Failed to connect to MinIO: ", err)
		}
		log.Println("storing uploads in MinIO bucket:", cfg.MinioBucket)
	} else {
		store, err = storage.NewLocalStorage(cfg.UploadDir)
		if err != nil {
			log.Fatal("Failed to create upload directory: ", err)
		}
		log.Println("storing uploads in:", cfg.UploadDir)
	}

	mailer := email.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser,
		cfg.SMTPPassword, cfg.SMTPFrom, cfg.BaseURL)

	router := gin.Default()

	sessionStore := cookie.NewStore(cfg.SessionKeys()...)
	sessionStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		Secure:   false,
	})
	router.Use(sessions.Sessions("inkpress-session", sessionStore))

	router.LoadHTMLGlob("*/views/*.html")
	router.Static("/public", "./public")

	authModule := auth.NewAuthModule(db, mailer)
	authModule.RegisterRoutes(router)

	postModule := posts.NewPostModule(db, store)
	postModule.RegisterRoutes(router, authModule.RequireAuth)

	log.Printf("Starting server on port %s...", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server: ", err)
	}
}
