package email

import (
	"log"
	"os"
)

var GlobalEmailService *EmailService

func InitEmailService() {
	apiKey := os.Getenv("RESEND_API_KEY")
	if apiKey == "" {
		log.Println("Warning: RESEND_API_KEY not set, email notifications disabled")
		return
	}

	service, err := NewEmailService(apiKey)
	if err != nil {
		log.Printf("Error initializing email service: %v", err)
		return
	}

	GlobalEmailService = service
	log.Println("Email service initialized successfully")
}
