package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"
	"time"

	"github.com/SebastiaanKlippert/go-wkhtmltopdf"
	"github.com/dairylink/dairylink-api/internal/repository"
)

type ReportService struct {
	loans    *LoanService
	accounts repository.AccountRepository
}

func NewReportService(loans *LoanService, accounts repository.AccountRepository) *ReportService {
	return &ReportService{loans: loans, accounts: accounts}
}

// GeneratePromissoryNotePDF renders the signable promissory note for a loan
func (s *ReportService) GeneratePromissoryNotePDF(ctx context.Context, loanID, lenderAccountID string) (*bytes.Buffer, error) {
	loan, err := s.loans.GetByID(ctx, loanID, lenderAccountID)
	if err != nil {
		return nil, err
	}

	lenderName := "The Lender"
	if lender, err := s.accounts.FindAccountByID(ctx, lenderAccountID); err == nil && lender.Name != "" {
		lenderName = lender.Name
	}

	dueDate := ""
	if loan.DueDate != nil {
		dueDate = loan.DueDate.Format("02/01/2006")
	}
	notes := ""
	if loan.Notes != nil {
		notes = *loan.Notes
	}

	data := map[string]interface{}{
		"LoanRef":          loan.ShortRef(),
		"Date":             time.Now().Format("02/01/2006"),
		"LenderName":       lenderName,
		"BorrowerName":     loan.BorrowerLabel(),
		"Principal":        loan.Principal.StringFixed(2),
		"AmountRepaid":     loan.AmountRepaid.StringFixed(2),
		"Outstanding":      loan.Outstanding().StringFixed(2),
		"Currency":         loan.Currency,
		"DisbursementDate": loan.DisbursementDate.Format("02/01/2006"),
		"DueDate":          dueDate,
		"Notes":            notes,
	}

	return s.generatePDF("promissory_note.html", data)
}

// Helper to generate PDF from HTML template
func (s *ReportService) generatePDF(templateName string, data interface{}) (*bytes.Buffer, error) {
	// Path relative to project root (prod), falling back to package-relative (tests)
	tmplPath := fmt.Sprintf("internal/services/templates/reports/%s", templateName)
	if _, err := os.Stat(tmplPath); os.IsNotExist(err) {
		tmplPath = fmt.Sprintf("templates/reports/%s", templateName)
	}

	tmpl, err := template.ParseFiles(tmplPath)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s (path: %s): %w", templateName, tmplPath, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to execute template: %w", err)
	}

	pdfg, err := wkhtmltopdf.NewPDFGenerator()
	if err != nil {
		return nil, fmt.Errorf("failed to create pdf generator: %w", err)
	}

	pdfg.Dpi.Set(300)
	pdfg.Orientation.Set(wkhtmltopdf.OrientationPortrait)
	pdfg.Grayscale.Set(false)

	page := wkhtmltopdf.NewPageReader(bytes.NewReader(buf.Bytes()))
	page.EnableLocalFileAccess.Set(true)
	pdfg.AddPage(page)

	if err := pdfg.Create(); err != nil {
		return nil, fmt.Errorf("failed to create pdf: %w", err)
	}

	return pdfg.Buffer(), nil
}
