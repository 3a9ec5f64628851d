package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/smarttransit/booking-saga/internal/config"
	"github.com/smarttransit/booking-saga/internal/database"
	"github.com/smarttransit/booking-saga/internal/models"
	"github.com/smarttransit/booking-saga/internal/services"
)

func main() {
	var (
		dbURLFlag string
		email     string
		fullName  string
	)
	flag.StringVar(&dbURLFlag, "database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	flag.StringVar(&email, "email", "", "operator email")
	flag.StringVar(&fullName, "name", "", "operator full name")
	flag.Parse()

	// Reads OPERATOR_PASSWORD from .env so it never appears in shell history
	_ = godotenv.Load()

	dbURL := dbURLFlag
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set and -database-url was not provided")
	}
	if strings.TrimSpace(email) == "" {
		log.Fatal("-email is required")
	}
	password := os.Getenv("OPERATOR_PASSWORD")
	if password == "" {
		log.Fatal("OPERATOR_PASSWORD is not set")
	}

	hash, err := services.HashPassword(password)
	if err != nil {
		log.Fatalf("invalid password: %v", err)
	}

	db, err := database.NewConnection(config.DatabaseConfig{
		URL:                dbURL,
		MaxConnections:     2,
		MaxIdleConnections: 1,
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := database.InitSchema(ctx, db.DB); err != nil {
		log.Fatalf("failed to initialize schema: %v", err)
	}

	op := &models.Operator{
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: hash,
		FullName:     fullName,
		IsActive:     true,
	}
	if err := database.NewOperatorRepository(db.DB).Create(ctx, op); err != nil {
		log.Fatalf("failed to create operator: %v", err)
	}

	fmt.Printf("Operator %s created (id %s)\n", op.Email, op.ID)
}
