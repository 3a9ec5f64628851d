package main

import (
	"fmt"
	"log"

	"github.com/smarttransit/booking-saga/internal/utils"
)

func main() {
	fmt.Println("===========================================")
	fmt.Println("Secret Generator for the booking saga service")
	fmt.Println("===========================================")
	fmt.Println()

	secrets, err := utils.GenerateDeploymentSecrets()
	if err != nil {
		log.Fatalf("Failed to generate secrets: %v", err)
	}

	fmt.Println("Secrets generated successfully!")
	fmt.Println()
	fmt.Println("Add these to your .env file or deployment secrets:")
	fmt.Println()
	fmt.Printf("JWT_SECRET=%s\n", secrets.JWTSecret)
	fmt.Println()
	fmt.Println("Only if your hosted checkout merchant portal lets you choose the secret:")
	fmt.Printf("HOSTED_IPG_MERCHANT_TOKEN=%s\n", secrets.WebhookSecret)
	fmt.Println()
	fmt.Println("Initial operator password (use with cmd/maintenance/create-operator):")
	fmt.Printf("  %s\n", secrets.OperatorBootstrap)
	fmt.Println()
	fmt.Println("IMPORTANT: Keep these secrets safe and never commit them to version control!")
	fmt.Println("===========================================")
}
