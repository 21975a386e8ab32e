package utils

import (
	"log"
	"os"

	"go.uber.org/zap"
)

var Logger *zap.SugaredLogger

// InitializeLogger builds the process-wide sugared logger. Development gets
// the human-readable encoder, production the JSON one.
func InitializeLogger() *zap.SugaredLogger {
	var (
		logger *zap.Logger
		err    error
	)
	if os.Getenv("ENV") == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("zap: %v", err)
	}

	Logger = logger.Sugar()
	return Logger
}
