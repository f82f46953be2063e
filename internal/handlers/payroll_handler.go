package handlers

import (
	"net/http"
	"time"

	"github.com/dairylink/dairylink-api/internal/middleware"
	"github.com/dairylink/dairylink-api/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type PayrollHandler struct {
	payrollService *services.PayrollService
}

func NewPayrollHandler(payrollService *services.PayrollService) *PayrollHandler {
	return &PayrollHandler{payrollService: payrollService}
}

type DeductionBody struct {
	LenderAccountID   string          `json:"lender_account_id"`
	BorrowerAccountID string          `json:"borrower_account_id" binding:"required"`
	Amount            decimal.Decimal `json:"amount"`
	DeductionDate     string          `json:"deduction_date"`
	Reference         string          `json:"reference"`
}

// @Summary Apply Payroll Deduction
// @Description Withhold a loan repayment from a milk payment run, allocated across the borrower's loans oldest first
// @Tags Payroll
// @Accept json
// @Produce json
// @Param request body DeductionBody true "Deduction Data"
// @Success 200 {object} services.DeductionResult
// @Failure 400 {object} map[string]string
// @Security BearerAuth
// @Router /payroll/deductions [post]
func (h *PayrollHandler) ApplyDeduction(c *gin.Context) {
	var body DeductionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	lenderAccountID, err := h.payrollService.ResolveLenderAccount(
		c.Request.Context(), middleware.GetUserID(c), body.LenderAccountID, middleware.GetDefaultAccountID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	deductionDate := time.Now()
	if body.DeductionDate != "" {
		parsed, err := time.Parse("2006-01-02", body.DeductionDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid deduction_date, expected YYYY-MM-DD"})
			return
		}
		deductionDate = parsed
	}

	act := services.Actor{
		UserID:    middleware.GetUserID(c),
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}

	result, err := h.payrollService.ApplyDeduction(c.Request.Context(), act,
		lenderAccountID, body.BorrowerAccountID, body.Amount, deductionDate, body.Reference)
	if err != nil {
		if len(result.Applied) > 0 {
			// Mid-run failure: return what was withheld so payroll can reconcile
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "result": result})
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
