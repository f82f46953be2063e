package services

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"

	"github.com/dairylink/dairylink-api/internal/config"
	"github.com/dairylink/dairylink-api/internal/models"
	"github.com/dairylink/dairylink-api/pkg/logger"
	"github.com/resend/resend-go/v2"
)

//go:embed templates/email/*.html
var emailTemplates embed.FS

type EmailService struct {
	config       *config.Config
	resendClient *resend.Client
}

func NewEmailService(cfg *config.Config) *EmailService {
	client := resend.NewClient(cfg.ResendAPIKey)
	return &EmailService{
		config:       cfg,
		resendClient: client,
	}
}

// OverdueLoanData is one row of the overdue reminder email
type OverdueLoanData struct {
	Borrower    string
	Outstanding string
	DueDate     string
}

// SendOverdueLoans emails a loan officer the list of their overdue loans.
// Users without an email address are skipped silently.
func (s *EmailService) SendOverdueLoans(ctx context.Context, user *models.User, loans []models.Loan) error {
	if user.Email == nil || *user.Email == "" {
		return nil
	}

	var loanData []OverdueLoanData
	for i := range loans {
		l := &loans[i]
		dueDate := ""
		if l.DueDate != nil {
			dueDate = l.DueDate.Format("02/01/2006")
		}
		loanData = append(loanData, OverdueLoanData{
			Borrower:    l.BorrowerLabel(),
			Outstanding: fmt.Sprintf("%s %s", l.Outstanding(), l.Currency),
			DueDate:     dueDate,
		})
	}

	data := struct {
		Name  string
		Loans []OverdueLoanData
	}{
		Name:  user.Name,
		Loans: loanData,
	}

	body, err := s.renderTemplate("overdue_loans.html", data)
	if err != nil {
		return err
	}

	params := &resend.SendEmailRequest{
		From:    s.config.FromEmail,
		To:      []string{*user.Email},
		Subject: fmt.Sprintf("Overdue loans (%d)", len(loans)),
		Html:    body,
	}
	_, err = s.resendClient.Emails.Send(params)
	if err != nil {
		logger.Error(fmt.Sprintf("Failed to send email to %s: %v", *user.Email, err))
		return err
	}

	logger.Info(fmt.Sprintf("📧 [Email Sent] To: %s | Subject: Overdue loans (%d)", *user.Email, len(loans)))
	return nil
}

func (s *EmailService) renderTemplate(name string, data interface{}) (string, error) {
	tmpl, err := template.ParseFS(emailTemplates, "templates/email/"+name)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}

	return buf.String(), nil
}
