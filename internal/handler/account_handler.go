package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/eaglebank/ledger/shared/cqrs"
	"github.com/eaglebank/ledger/shared/middleware"
	"github.com/eaglebank/ledger/shared/models"
)

// AccountCommander defines the write-side operations used by AccountHandler.
type AccountCommander interface {
	CreateAccount(context.Context, cqrs.CreateAccountCommand) (*models.AccountView, error)
	Deposit(context.Context, cqrs.DepositCommand) (*models.AccountView, error)
	Withdraw(context.Context, cqrs.WithdrawCommand) (*models.AccountView, error)
	Transfer(context.Context, cqrs.TransferCommand) (*models.AccountView, error)
	SetDefaultAccount(context.Context, cqrs.SetDefaultAccountCommand) (*models.AccountView, error)
	UpdateAccount(context.Context, cqrs.UpdateAccountCommand) (*models.AccountView, error)
	DeactivateAccount(context.Context, cqrs.DeactivateAccountCommand) (*models.AccountView, error)
}

// AccountQuerier defines the read-side operations used by AccountHandler.
type AccountQuerier interface {
	GetAccount(context.Context, cqrs.GetAccountQuery) (*models.AccountView, error)
	GetAccountByNumber(context.Context, cqrs.GetAccountByNumberQuery) (*models.AccountView, error)
	ListAccounts(context.Context, cqrs.ListAccountsQuery) ([]models.AccountView, error)
}

// AccountHandler handles account-related HTTP requests.
type AccountHandler struct {
	commands AccountCommander
	queries  AccountQuerier
}

type CreateAccountRequest struct {
	Name           string          `json:"name" validate:"required,max=500"`
	AccountType    string          `json:"accountType" validate:"required,oneof=savings checking credit_card investment"`
	InitialBalance decimal.Decimal `json:"initialBalance" validate:"gte=0"`
	Currency       string          `json:"currency" validate:"omitempty,len=3"`
	AccountNumber  string          `json:"accountNumber" validate:"omitempty,accountnumber"`
	Description    string          `json:"description" validate:"max=256"`
	IsDefault      bool            `json:"isDefault"`
}

type UpdateAccountRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=500"`
	Description *string `json:"description" validate:"omitempty,min=1,max=256"`
}

type AmountRequest struct {
	Amount   decimal.Decimal `json:"amount" validate:"gt=0"`
	Currency string          `json:"currency" validate:"required,len=3"`
}

type TransferRequest struct {
	ToAccountID string          `json:"toAccountId" validate:"required,uuid"`
	Amount      decimal.Decimal `json:"amount" validate:"gt=0"`
	Currency    string          `json:"currency" validate:"required,len=3"`
}

type SetDefaultAccountRequest struct {
	AccountNumber string `json:"accountNumber" validate:"required,accountnumber"`
}

func NewAccountHandler(commands AccountCommander, queries AccountQuerier) *AccountHandler {
	return &AccountHandler{commands: commands, queries: queries}
}

// RegisterRoutes mounts the account API behind auth.
func (h *AccountHandler) RegisterRoutes(r gin.IRouter, auth gin.HandlerFunc) {
	v1 := r.Group("/v1", auth)
	{
		v1.POST("/accounts", h.CreateAccount)
		v1.GET("/accounts", h.ListAccounts)
		v1.PUT("/accounts/default", h.SetDefaultAccount)
		v1.GET("/accounts/:accountId", h.GetAccount)
		v1.PATCH("/accounts/:accountId", h.UpdateAccount)
		v1.DELETE("/accounts/:accountId", h.DeactivateAccount)
		v1.POST("/accounts/:accountId/deposits", h.Deposit)
		v1.POST("/accounts/:accountId/withdrawals", h.Withdraw)
		v1.POST("/accounts/:accountId/transfers", h.Transfer)
		v1.GET("/account-numbers/:accountNumber", h.GetAccountByNumber)
	}
}

func (h *AccountHandler) CreateAccount(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req CreateAccountRequest
	if !bind(c, &req) {
		return
	}

	view, err := h.commands.CreateAccount(c.Request.Context(), cqrs.CreateAccountCommand{
		UserID:         userID,
		Name:           req.Name,
		AccountType:    req.AccountType,
		InitialBalance: req.InitialBalance,
		Currency:       req.Currency,
		AccountNumber:  req.AccountNumber,
		Description:    req.Description,
		IsDefault:      req.IsDefault,
	})
	respond(c, http.StatusCreated, view, err, "Account created")
}

func (h *AccountHandler) ListAccounts(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	views, err := h.queries.ListAccounts(c.Request.Context(), cqrs.ListAccountsQuery{UserID: userID})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cqrs.Ok(views, ""))
}

func (h *AccountHandler) GetAccount(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	accountID, ok := accountIDParam(c)
	if !ok {
		return
	}

	view, err := h.queries.GetAccount(c.Request.Context(), cqrs.GetAccountQuery{
		AccountID:        accountID,
		RequestingUserID: userID,
	})
	respond(c, http.StatusOK, view, err, "")
}

func (h *AccountHandler) GetAccountByNumber(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	view, err := h.queries.GetAccountByNumber(c.Request.Context(), cqrs.GetAccountByNumberQuery{
		AccountNumber:    c.Param("accountNumber"),
		RequestingUserID: userID,
	})
	respond(c, http.StatusOK, view, err, "")
}

func (h *AccountHandler) UpdateAccount(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	accountID, ok := accountIDParam(c)
	if !ok {
		return
	}
	var req UpdateAccountRequest
	if !bind(c, &req) {
		return
	}

	view, err := h.commands.UpdateAccount(c.Request.Context(), cqrs.UpdateAccountCommand{
		AccountID:        accountID,
		RequestingUserID: userID,
		Name:             req.Name,
		Description:      req.Description,
	})
	respond(c, http.StatusOK, view, err, "Account updated")
}

func (h *AccountHandler) DeactivateAccount(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	accountID, ok := accountIDParam(c)
	if !ok {
		return
	}

	view, err := h.commands.DeactivateAccount(c.Request.Context(), cqrs.DeactivateAccountCommand{
		AccountID:        accountID,
		RequestingUserID: userID,
	})
	respond(c, http.StatusOK, view, err, "Account deactivated")
}

func (h *AccountHandler) Deposit(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	accountID, ok := accountIDParam(c)
	if !ok {
		return
	}
	var req AmountRequest
	if !bind(c, &req) {
		return
	}

	view, err := h.commands.Deposit(c.Request.Context(), cqrs.DepositCommand{
		AccountID:        accountID,
		RequestingUserID: userID,
		Amount:           req.Amount,
		Currency:         req.Currency,
	})
	respond(c, http.StatusOK, view, err, "Deposit completed")
}

func (h *AccountHandler) Withdraw(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	accountID, ok := accountIDParam(c)
	if !ok {
		return
	}
	var req AmountRequest
	if !bind(c, &req) {
		return
	}

	view, err := h.commands.Withdraw(c.Request.Context(), cqrs.WithdrawCommand{
		AccountID:        accountID,
		RequestingUserID: userID,
		Amount:           req.Amount,
		Currency:         req.Currency,
	})
	respond(c, http.StatusOK, view, err, "Withdrawal completed")
}

func (h *AccountHandler) Transfer(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	accountID, ok := accountIDParam(c)
	if !ok {
		return
	}
	var req TransferRequest
	if !bind(c, &req) {
		return
	}
	toAccountID, err := uuid.Parse(req.ToAccountID)
	if err != nil || toAccountID == uuid.Nil {
		fail(c, cqrs.NewError(cqrs.KindValidation, "invalid destination account id"))
		return
	}

	view, err := h.commands.Transfer(c.Request.Context(), cqrs.TransferCommand{
		FromAccountID:    accountID,
		ToAccountID:      toAccountID,
		RequestingUserID: userID,
		Amount:           req.Amount,
		Currency:         req.Currency,
	})
	respond(c, http.StatusOK, view, err, "Transfer completed")
}

func (h *AccountHandler) SetDefaultAccount(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req SetDefaultAccountRequest
	if !bind(c, &req) {
		return
	}

	view, err := h.commands.SetDefaultAccount(c.Request.Context(), cqrs.SetDefaultAccountCommand{
		UserID:        userID,
		AccountNumber: req.AccountNumber,
	})
	respond(c, http.StatusOK, view, err, "Default account updated")
}

func requireUser(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		middleware.RespondWithError(c, http.StatusUnauthorized, "Authentication required")
	}
	return userID, ok
}

func accountIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("accountId"))
	if err != nil {
		fail(c, cqrs.NewError(cqrs.KindValidation, "invalid account id"))
		return uuid.Nil, false
	}
	return id, true
}

// bind decodes and validates the JSON body. It writes the 400 response itself.
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return false
	}
	return true
}

func respond(c *gin.Context, status int, view *models.AccountView, err error, message string) {
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(status, cqrs.Ok(*view, message))
}

func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(StatusFor(cqrs.KindOf(err)), cqrs.Fail[models.AccountView](err))
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind cqrs.ErrorKind) int {
	switch kind {
	case cqrs.KindValidation:
		return http.StatusBadRequest
	case cqrs.KindForbidden:
		return http.StatusForbidden
	case cqrs.KindNotFound:
		return http.StatusNotFound
	case cqrs.KindAlreadyExists, cqrs.KindConcurrencyConflict:
		return http.StatusConflict
	case cqrs.KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusServiceUnavailable
	}
}
