package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dairylink/dairylink-api/internal/middleware"
	"github.com/dairylink/dairylink-api/internal/models"
	"github.com/dairylink/dairylink-api/internal/repository"
	"github.com/dairylink/dairylink-api/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type LoanHandler struct {
	loanService   *services.LoanService
	exportService *services.ExportService
	reportService *services.ReportService
}

func NewLoanHandler(loanService *services.LoanService, exportService *services.ExportService, reportService *services.ReportService) *LoanHandler {
	return &LoanHandler{
		loanService:   loanService,
		exportService: exportService,
		reportService: reportService,
	}
}

// actor builds the audit actor from the authenticated request
func actor(c *gin.Context) services.Actor {
	return services.Actor{
		UserID:    middleware.GetUserID(c),
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// lenderAccount resolves the lender account for the request: explicit
// account_id (query or body) checked against the caller's memberships, else
// the caller's default account.
func (h *LoanHandler) lenderAccount(c *gin.Context, explicit string) (string, bool) {
	if explicit == "" {
		explicit = c.Query("account_id")
	}
	accountID, err := h.loanService.ResolveLenderAccount(
		c.Request.Context(), middleware.GetUserID(c), explicit, middleware.GetDefaultAccountID(c))
	if err != nil {
		respondError(c, err)
		return "", false
	}
	return accountID, true
}

type CreateLoanBody struct {
	LenderAccountID   string          `json:"lender_account_id"`
	BorrowerType      string          `json:"borrower_type" binding:"required"`
	BorrowerAccountID string          `json:"borrower_account_id"`
	BorrowerName      string          `json:"borrower_name"`
	BorrowerPhone     string          `json:"borrower_phone"`
	Principal         decimal.Decimal `json:"principal"`
	Currency          string          `json:"currency"`
	DisbursementDate  string          `json:"disbursement_date" binding:"required"`
	DueDate           *string         `json:"due_date"`
	Notes             *string         `json:"notes"`
}

// @Summary Create Loan
// @Description Disburse a new loan to a supplier, customer or external party
// @Tags Loans
// @Accept json
// @Produce json
// @Param request body CreateLoanBody true "Loan Data"
// @Success 201 {object} models.LoanResponse
// @Failure 400 {object} map[string]string
// @Security BearerAuth
// @Router /loans [post]
func (h *LoanHandler) Create(c *gin.Context) {
	var body CreateLoanBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	lenderAccountID, ok := h.lenderAccount(c, body.LenderAccountID)
	if !ok {
		return
	}

	disbursementDate, err := time.Parse("2006-01-02", body.DisbursementDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid disbursement_date, expected YYYY-MM-DD"})
		return
	}

	req := services.CreateLoanRequest{
		LenderAccountID:  lenderAccountID,
		Principal:        body.Principal,
		Currency:         body.Currency,
		DisbursementDate: disbursementDate,
		Notes:            body.Notes,
	}

	switch body.BorrowerType {
	case models.BorrowerTypeSupplier:
		req.Borrower = services.SupplierBorrower(body.BorrowerAccountID)
	case models.BorrowerTypeCustomer:
		req.Borrower = services.CustomerBorrower(body.BorrowerAccountID)
	default:
		req.Borrower = services.OtherBorrower(body.BorrowerName, body.BorrowerPhone)
		req.Borrower.Type = body.BorrowerType
	}

	if body.DueDate != nil && *body.DueDate != "" {
		dueDate, err := time.Parse("2006-01-02", *body.DueDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid due_date, expected YYYY-MM-DD"})
			return
		}
		req.DueDate = &dueDate
	}

	loan, err := h.loanService.Create(c.Request.Context(), actor(c), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"loan": loan.ToResponse()})
}

// @Summary List Loans
// @Description Get a paginated list of loans for the lender account
// @Tags Loans
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param per_page query int false "Items per page" default(20)
// @Param borrower_type query string false "Filter by borrower type"
// @Param status query string false "Filter by status"
// @Param date_from query string false "Disbursed from (YYYY-MM-DD)"
// @Param date_to query string false "Disbursed to (YYYY-MM-DD)"
// @Param search query string false "Search borrower name, account or notes"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /loans [get]
func (h *LoanHandler) Index(c *gin.Context) {
	lenderAccountID, ok := h.lenderAccount(c, "")
	if !ok {
		return
	}

	query := &repository.LoanQuery{
		ListQuery:       repository.NewListQuery(),
		LenderAccountID: lenderAccountID,
		BorrowerType:    c.Query("borrower_type"),
		Status:          c.Query("status"),
	}
	query.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	query.PerPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))
	query.Search = c.Query("search")

	if raw := c.Query("date_from"); raw != "" {
		if t, err := time.Parse("2006-01-02", raw); err == nil {
			query.DateFrom = &t
		}
	}
	if raw := c.Query("date_to"); raw != "" {
		if t, err := time.Parse("2006-01-02", raw); err == nil {
			query.DateTo = &t
		}
	}

	loans, total, err := h.loanService.List(c.Request.Context(), query)
	if err != nil {
		respondError(c, err)
		return
	}

	var responses []interface{}
	for i := range loans {
		responses = append(responses, loans[i].ToResponse())
	}

	c.JSON(http.StatusOK, gin.H{
		"loans": responses,
		"pagination": gin.H{
			"page":        query.Page,
			"per_page":    query.PerPage,
			"total":       total,
			"total_pages": (total + int64(query.PerPage) - 1) / int64(query.PerPage),
		},
	})
}

// @Summary Get Loan
// @Description Get a loan with its repayment history
// @Tags Loans
// @Produce json
// @Param loan_id path string true "Loan ID"
// @Success 200 {object} models.LoanResponse
// @Failure 404 {object} map[string]string
// @Security BearerAuth
// @Router /loans/{loan_id} [get]
func (h *LoanHandler) Show(c *gin.Context) {
	lenderAccountID, ok := h.lenderAccount(c, "")
	if !ok {
		return
	}

	loan, err := h.loanService.GetByID(c.Request.Context(), c.Param("loan_id"), lenderAccountID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"loan": loan.ToResponse()})
}

type UpdateLoanBody struct {
	Status  *string `json:"status"`
	DueDate *string `json:"due_date"`
	Notes   *string `json:"notes"`
}

// @Summary Update Loan
// @Description Edit a loan's status, due date or notes
// @Tags Loans
// @Accept json
// @Produce json
// @Param loan_id path string true "Loan ID"
// @Param request body UpdateLoanBody true "Editable fields"
// @Success 200 {object} models.LoanResponse
// @Security BearerAuth
// @Router /loans/{loan_id} [patch]
func (h *LoanHandler) Update(c *gin.Context) {
	var body UpdateLoanBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	lenderAccountID, ok := h.lenderAccount(c, "")
	if !ok {
		return
	}

	req := services.UpdateLoanRequest{
		LoanID:          c.Param("loan_id"),
		LenderAccountID: lenderAccountID,
		Status:          body.Status,
		Notes:           body.Notes,
	}

	if body.DueDate != nil {
		req.DueDateSet = true
		if *body.DueDate != "" {
			dueDate, err := time.Parse("2006-01-02", *body.DueDate)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid due_date, expected YYYY-MM-DD"})
				return
			}
			req.DueDate = &dueDate
		}
	}

	loan, err := h.loanService.Update(c.Request.Context(), actor(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"loan": loan.ToResponse()})
}

type RepaymentBody struct {
	Amount        decimal.Decimal `json:"amount"`
	RepaymentDate string          `json:"repayment_date" binding:"required"`
	Notes         *string         `json:"notes"`
}

// @Summary Record Repayment
// @Description Record a repayment against a loan
// @Tags Loans
// @Accept json
// @Produce json
// @Param loan_id path string true "Loan ID"
// @Param request body RepaymentBody true "Repayment Data"
// @Success 200 {object} models.LoanResponse
// @Failure 400 {object} map[string]string
// @Security BearerAuth
// @Router /loans/{loan_id}/repayments [post]
func (h *LoanHandler) Repay(c *gin.Context) {
	var body RepaymentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	lenderAccountID, ok := h.lenderAccount(c, "")
	if !ok {
		return
	}

	repaymentDate, err := time.Parse("2006-01-02", body.RepaymentDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid repayment_date, expected YYYY-MM-DD"})
		return
	}

	loan, err := h.loanService.RecordRepayment(c.Request.Context(), actor(c), services.RecordRepaymentRequest{
		LoanID:          c.Param("loan_id"),
		LenderAccountID: lenderAccountID,
		Amount:          body.Amount,
		RepaymentDate:   repaymentDate,
		Notes:           body.Notes,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"loan": loan.ToResponse()})
}

// @Summary Borrower Active Loans
// @Description Get a borrower's active loans with outstanding balances
// @Tags Loans
// @Produce json
// @Param account_id path string true "Borrower Account ID"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /borrowers/{account_id}/active_loans [get]
func (h *LoanHandler) ActiveByBorrower(c *gin.Context) {
	lenderAccountID, ok := h.lenderAccount(c, "")
	if !ok {
		return
	}

	summaries, err := h.loanService.ActiveLoansForBorrower(c.Request.Context(), lenderAccountID, c.Param("account_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"loans": summaries})
}

// @Summary Borrower Outstanding Balance
// @Description Get the total outstanding balance across a borrower's active loans
// @Tags Loans
// @Produce json
// @Param account_id path string true "Borrower Account ID"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /borrowers/{account_id}/outstanding_balance [get]
func (h *LoanHandler) OutstandingBalance(c *gin.Context) {
	lenderAccountID, ok := h.lenderAccount(c, "")
	if !ok {
		return
	}

	total, err := h.loanService.OutstandingBalanceForBorrower(c.Request.Context(), lenderAccountID, c.Param("account_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"outstanding_balance": total})
}

// @Summary Bulk Import Loans
// @Description Upload a CSV of loans to disburse in bulk
// @Tags Loans
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "CSV File"
// @Success 200 {object} services.BulkResult
// @Failure 400 {object} map[string]string
// @Security BearerAuth
// @Router /loans/bulk [post]
func (h *LoanHandler) BulkImport(c *gin.Context) {
	lenderAccountID, ok := h.lenderAccount(c, "")
	if !ok {
		return
	}

	file, _, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "CSV file is required"})
		return
	}
	defer file.Close()

	result, err := h.loanService.BulkCreateCSV(c.Request.Context(), actor(c), lenderAccountID, file)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// @Summary Bulk Upload Template
// @Description Download the CSV template for bulk loan uploads
// @Tags Loans
// @Produce text/csv
// @Success 200 {string} string "CSV template"
// @Security BearerAuth
// @Router /loans/template [get]
func (h *LoanHandler) Template(c *gin.Context) {
	c.Header("Content-Disposition", `attachment; filename="loan_upload_template.csv"`)
	c.Data(http.StatusOK, "text/csv", []byte(h.loanService.TemplateCSV()))
}

// @Summary Export Loan Book
// @Description Export the lender's loan book as CSV or XLSX
// @Tags Loans
// @Produce application/octet-stream
// @Param format query string false "csv or xlsx" default(csv)
// @Param borrower_type query string false "Filter by borrower type"
// @Param status query string false "Filter by status"
// @Success 200 {file} file "export"
// @Security BearerAuth
// @Router /loans/export [get]
func (h *LoanHandler) Export(c *gin.Context) {
	lenderAccountID, ok := h.lenderAccount(c, "")
	if !ok {
		return
	}

	borrowerType := c.Query("borrower_type")
	status := c.Query("status")

	var data []byte
	var filename, contentType string
	var err error

	switch c.DefaultQuery("format", "csv") {
	case "xlsx":
		data, filename, err = h.exportService.ExportLoanBookXLSX(c.Request.Context(), lenderAccountID, borrowerType, status)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "csv":
		data, filename, err = h.exportService.ExportLoanBookCSV(c.Request.Context(), lenderAccountID, borrowerType, status)
		contentType = "text/csv"
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported format, use csv or xlsx"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, contentType, data)
}

// @Summary Loan Statement PDF
// @Description Download a loan statement with its repayment history
// @Tags Loans
// @Produce application/pdf
// @Param loan_id path string true "Loan ID"
// @Success 200 {file} file "statement"
// @Security BearerAuth
// @Router /loans/{loan_id}/statement_pdf [get]
func (h *LoanHandler) StatementPDF(c *gin.Context) {
	lenderAccountID, ok := h.lenderAccount(c, "")
	if !ok {
		return
	}

	data, filename, err := h.exportService.ExportStatementPDF(c.Request.Context(), c.Param("loan_id"), lenderAccountID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, "application/pdf", data)
}

// @Summary Promissory Note PDF
// @Description Download the signable promissory note for a loan
// @Tags Loans
// @Produce application/pdf
// @Param loan_id path string true "Loan ID"
// @Success 200 {file} file "promissory note"
// @Security BearerAuth
// @Router /loans/{loan_id}/promissory_note_pdf [get]
func (h *LoanHandler) PromissoryNotePDF(c *gin.Context) {
	lenderAccountID, ok := h.lenderAccount(c, "")
	if !ok {
		return
	}

	buf, err := h.reportService.GeneratePromissoryNotePDF(c.Request.Context(), c.Param("loan_id"), lenderAccountID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="promissory_note_%s.pdf"`, c.Param("loan_id")))
	c.Data(http.StatusOK, "application/pdf", buf.Bytes())
}
