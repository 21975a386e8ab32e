package storage

import (
	"log"
	"os"

	"github.com/patry77/techniki-czatt/models"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var DB *gorm.DB

func connectToDB() *gorm.DB {
	// Only load .env in development
	if os.Getenv("ENV") != "production" {
		err := godotenv.Load()
		if err != nil {
			log.Println("Warning: Could not load .env file (this is normal in production)")
		}
	}

	dsn := os.Getenv("DB_CONNECTION_STRING")
	if dsn == "" {
		log.Panic("DB_CONNECTION_STRING environment variable is required")
	}

	db, dbError := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if dbError != nil {
		log.Panic("error connection to db: " + dbError.Error())
	}

	DB = db
	return db
}

func performMigrations(db *gorm.DB) {
	// The explicit join model gives membership a composite primary key, so
	// joining twice is a conflict-free no-op.
	if err := db.SetupJoinTable(&models.Channel{}, "Members", &models.ChannelMember{}); err != nil {
		log.Panic("error setting up channel_members join table: " + err.Error())
	}
	if err := db.SetupJoinTable(&models.User{}, "Channels", &models.ChannelMember{}); err != nil {
		log.Panic("error setting up channel_members join table: " + err.Error())
	}

	db.AutoMigrate(
		&models.User{},
		&models.Channel{},
		&models.Message{},
		&models.MessageReaction{},
		&models.Notification{},
	)
}

func InitializeDB() *gorm.DB {
	db := connectToDB()
	performMigrations(db)
	return db
}
