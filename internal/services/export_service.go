package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"time"

	"github.com/dairylink/dairylink-api/internal/models"
	"github.com/dairylink/dairylink-api/internal/repository"
	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"
)

type ExportService struct {
	loans *LoanService
}

func NewExportService(loans *LoanService) *ExportService {
	return &ExportService{loans: loans}
}

// loadLoanBook pulls every loan of the lender account, honoring optional
// filters. Export pulls all pages at once.
func (s *ExportService) loadLoanBook(ctx context.Context, lenderAccountID, borrowerType, status string) ([]models.Loan, error) {
	query := &repository.LoanQuery{
		ListQuery:       repository.NewListQuery(),
		LenderAccountID: lenderAccountID,
		BorrowerType:    borrowerType,
		Status:          status,
	}
	query.PerPage = 10000

	loans, _, err := s.loans.List(ctx, query)
	return loans, err
}

// ExportLoanBookCSV exports the lender's loan book as CSV
func (s *ExportService) ExportLoanBookCSV(ctx context.Context, lenderAccountID, borrowerType, status string) ([]byte, string, error) {
	loans, err := s.loadLoanBook(ctx, lenderAccountID, borrowerType, status)
	if err != nil {
		return nil, "", err
	}

	buf := new(bytes.Buffer)
	writer := csv.NewWriter(buf)

	header := []string{"Loan ID", "Borrower", "Type", "Principal", "Repaid", "Outstanding", "Currency", "Status", "Disbursed", "Due Date", "Notes"}
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}

	for i := range loans {
		l := &loans[i]
		dueDate := ""
		if l.DueDate != nil {
			dueDate = l.DueDate.Format("2006-01-02")
		}
		notes := ""
		if l.Notes != nil {
			notes = *l.Notes
		}

		record := []string{
			l.ID,
			l.BorrowerLabel(),
			l.BorrowerType,
			l.Principal.StringFixed(2),
			l.AmountRepaid.StringFixed(2),
			l.Outstanding().StringFixed(2),
			l.Currency,
			l.Status,
			l.DisbursementDate.Format("2006-01-02"),
			dueDate,
			notes,
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}

	filename := fmt.Sprintf("loan_book_%s.csv", time.Now().Format("2006-01-02"))
	return buf.Bytes(), filename, nil
}

// ExportLoanBookXLSX exports the lender's loan book as a spreadsheet
func (s *ExportService) ExportLoanBookXLSX(ctx context.Context, lenderAccountID, borrowerType, status string) ([]byte, string, error) {
	loans, err := s.loadLoanBook(ctx, lenderAccountID, borrowerType, status)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := "Loan Book"
	_ = f.SetSheetName("Sheet1", sheet)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})

	headers := []string{"Loan ID", "Borrower", "Type", "Principal", "Repaid", "Outstanding", "Currency", "Status", "Disbursed", "Due Date"}
	for col, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
		_ = f.SetCellStyle(sheet, cell, cell, headerStyle)
	}

	for i := range loans {
		l := &loans[i]
		row := i + 2

		dueDate := ""
		if l.DueDate != nil {
			dueDate = l.DueDate.Format("2006-01-02")
		}

		values := []interface{}{
			l.ID,
			l.BorrowerLabel(),
			l.BorrowerType,
			l.Principal.InexactFloat64(),
			l.AmountRepaid.InexactFloat64(),
			l.Outstanding().InexactFloat64(),
			l.Currency,
			l.Status,
			l.DisbursementDate.Format("2006-01-02"),
			dueDate,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", err
	}

	filename := fmt.Sprintf("loan_book_%s.xlsx", time.Now().Format("2006-01-02"))
	return buf.Bytes(), filename, nil
}

// ExportStatementPDF renders a single loan's statement with its repayment
// history
func (s *ExportService) ExportStatementPDF(ctx context.Context, loanID, lenderAccountID string) ([]byte, string, error) {
	loan, err := s.loans.GetByID(ctx, loanID, lenderAccountID)
	if err != nil {
		return nil, "", err
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(40, 10, "Loan Statement")
	pdf.Ln(12)

	pdf.SetFont("Arial", "", 10)
	pdf.Cell(60, 8, "Loan Reference:")
	pdf.Cell(60, 8, loan.ShortRef())
	pdf.Ln(6)

	pdf.Cell(60, 8, "Borrower:")
	pdf.Cell(60, 8, loan.BorrowerLabel())
	pdf.Ln(6)

	pdf.Cell(60, 8, "Principal:")
	pdf.Cell(60, 8, fmt.Sprintf("%s %s", loan.Principal.StringFixed(2), loan.Currency))
	pdf.Ln(6)

	pdf.Cell(60, 8, "Repaid:")
	pdf.Cell(60, 8, fmt.Sprintf("%s %s", loan.AmountRepaid.StringFixed(2), loan.Currency))
	pdf.Ln(6)

	pdf.Cell(60, 8, "Outstanding:")
	pdf.Cell(60, 8, fmt.Sprintf("%s %s", loan.Outstanding().StringFixed(2), loan.Currency))
	pdf.Ln(6)

	pdf.Cell(60, 8, "Status:")
	pdf.Cell(60, 8, loan.Status)
	pdf.Ln(6)

	pdf.Cell(60, 8, "Disbursed:")
	pdf.Cell(60, 8, loan.DisbursementDate.Format("2006-01-02"))
	pdf.Ln(12)

	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(40, 10, "Repayments")
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.Cell(40, 8, "Date")
	pdf.Cell(40, 8, "Amount")
	pdf.Cell(30, 8, "Source")
	pdf.Cell(70, 8, "Notes")
	pdf.Ln(7)

	pdf.SetFont("Arial", "", 10)
	for _, r := range loan.Repayments {
		notes := ""
		if r.Notes != nil {
			notes = *r.Notes
		}
		pdf.Cell(40, 7, r.RepaymentDate.Format("2006-01-02"))
		pdf.Cell(40, 7, r.Amount.StringFixed(2))
		pdf.Cell(30, 7, r.Source)
		pdf.Cell(70, 7, notes)
		pdf.Ln(6)
	}
	if len(loan.Repayments) == 0 {
		pdf.Cell(40, 7, "No repayments recorded")
		pdf.Ln(6)
	}

	buf := new(bytes.Buffer)
	if err := pdf.Output(buf); err != nil {
		return nil, "", err
	}

	filename := fmt.Sprintf("loan_statement_%s.pdf", loan.ShortRef())
	return buf.Bytes(), filename, nil
}
