package email

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"log"
	"net/http"
	"time"
)

type EmailService struct {
	apiKey    string
	from      string
	templates *template.Template
}

type EmailData struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Html    string `json:"html"`
}

// Template data structures
type SubscriptionStartedData struct {
	Name      string
	Tier      string
	Cycle     string
	Amount    string
	Currency  string
	ExpiresAt time.Time
}

type InvoiceIssuedData struct {
	Name          string
	InvoiceNumber string
	Amount        string
	Currency      string
	DueDate       time.Time
	PaymentLink   string
}

type ExpiryReminderData struct {
	Name       string
	Tier       string
	DaysLeft   int
	ExpiryDate time.Time
}

type PaymentRetryData struct {
	Name        string
	Attempt     int
	MaxRetries  int
	PaymentLink string
}

type SubscriptionExpiredData struct {
	Name string
	Tier string
}

func NewEmailService(apiKey string) (*EmailService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("resend API key is required")
	}

	templates, err := loadTemplates()
	if err != nil {
		return nil, fmt.Errorf("error loading email templates: %v", err)
	}

	return &EmailService{
		apiKey:    apiKey,
		from:      "PlanPay <noreply@planpay.io>",
		templates: templates,
	}, nil
}

func (s *EmailService) sendTemplateEmail(to, subject, templateName string, data interface{}) error {
	var body bytes.Buffer
	if err := s.templates.ExecuteTemplate(&body, templateName, data); err != nil {
		return fmt.Errorf("template execution error: %v", err)
	}

	emailData := EmailData{
		From:    s.from,
		To:      to,
		Subject: subject,
		Html:    body.String(),
	}

	jsonData, err := json.Marshal(emailData)
	if err != nil {
		return fmt.Errorf("error marshaling email data: %v", err)
	}

	req, err := http.NewRequest("POST", "https://api.resend.com/emails", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("error creating request: %v", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending email: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %v", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		log.Printf("Resend API error: Status: %d, Body: %s", resp.StatusCode, string(respBody))
		return fmt.Errorf("resend API error: %s", string(respBody))
	}

	return nil
}

func (s *EmailService) SendSubscriptionStartedEmail(to, name, tier, cycle, amount, currency string, expiresAt time.Time) error {
	data := SubscriptionStartedData{
		Name:      name,
		Tier:      tier,
		Cycle:     cycle,
		Amount:    amount,
		Currency:  currency,
		ExpiresAt: expiresAt,
	}
	return s.sendTemplateEmail(to, "Your PlanPay Subscription Is Active 🎉", "subscription_started.html", data)
}

func (s *EmailService) SendInvoiceIssuedEmail(to, name, invoiceNumber, amount, currency string, dueDate time.Time, paymentLink string) error {
	data := InvoiceIssuedData{
		Name:          name,
		InvoiceNumber: invoiceNumber,
		Amount:        amount,
		Currency:      currency,
		DueDate:       dueDate,
		PaymentLink:   paymentLink,
	}
	return s.sendTemplateEmail(to, fmt.Sprintf("Invoice %s Is Ready", invoiceNumber), "invoice_issued.html", data)
}

func (s *EmailService) SendExpiryReminder(to, name, tier string, expiryDate time.Time, daysLeft int) error {
	data := ExpiryReminderData{
		Name:       name,
		Tier:       tier,
		DaysLeft:   daysLeft,
		ExpiryDate: expiryDate,
	}
	return s.sendTemplateEmail(
		to,
		fmt.Sprintf("Your Subscription Expires in %d Days ⚠️", daysLeft),
		"expiry_reminder.html",
		data,
	)
}

func (s *EmailService) SendPaymentRetryEmail(to, name string, attempt, maxRetries int, paymentLink string) error {
	data := PaymentRetryData{
		Name:        name,
		Attempt:     attempt,
		MaxRetries:  maxRetries,
		PaymentLink: paymentLink,
	}
	return s.sendTemplateEmail(to, "Payment Problem With Your Subscription", "payment_retry.html", data)
}

func (s *EmailService) SendSubscriptionExpiredEmail(to, name, tier string) error {
	data := SubscriptionExpiredData{
		Name: name,
		Tier: tier,
	}
	return s.sendTemplateEmail(to, "Your Subscription Has Expired", "subscription_expired.html", data)
}
