package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/eaglebank/ledger/shared/cqrs"
	"github.com/eaglebank/ledger/shared/models"
)

// ---- mock implementations ----

type mockAccountCommander struct {
	createFn     func(cqrs.CreateAccountCommand) (*models.AccountView, error)
	depositFn    func(cqrs.DepositCommand) (*models.AccountView, error)
	withdrawFn   func(cqrs.WithdrawCommand) (*models.AccountView, error)
	transferFn   func(cqrs.TransferCommand) (*models.AccountView, error)
	setDefaultFn func(cqrs.SetDefaultAccountCommand) (*models.AccountView, error)
	updateFn     func(cqrs.UpdateAccountCommand) (*models.AccountView, error)
	deactivateFn func(cqrs.DeactivateAccountCommand) (*models.AccountView, error)
}

var errNotConfigured = fmt.Errorf("not configured")

func (m *mockAccountCommander) CreateAccount(_ context.Context, cmd cqrs.CreateAccountCommand) (*models.AccountView, error) {
	if m.createFn != nil {
		return m.createFn(cmd)
	}
	return nil, errNotConfigured
}
func (m *mockAccountCommander) Deposit(_ context.Context, cmd cqrs.DepositCommand) (*models.AccountView, error) {
	if m.depositFn != nil {
		return m.depositFn(cmd)
	}
	return nil, errNotConfigured
}
func (m *mockAccountCommander) Withdraw(_ context.Context, cmd cqrs.WithdrawCommand) (*models.AccountView, error) {
	if m.withdrawFn != nil {
		return m.withdrawFn(cmd)
	}
	return nil, errNotConfigured
}
func (m *mockAccountCommander) Transfer(_ context.Context, cmd cqrs.TransferCommand) (*models.AccountView, error) {
	if m.transferFn != nil {
		return m.transferFn(cmd)
	}
	return nil, errNotConfigured
}
func (m *mockAccountCommander) SetDefaultAccount(_ context.Context, cmd cqrs.SetDefaultAccountCommand) (*models.AccountView, error) {
	if m.setDefaultFn != nil {
		return m.setDefaultFn(cmd)
	}
	return nil, errNotConfigured
}
func (m *mockAccountCommander) UpdateAccount(_ context.Context, cmd cqrs.UpdateAccountCommand) (*models.AccountView, error) {
	if m.updateFn != nil {
		return m.updateFn(cmd)
	}
	return nil, errNotConfigured
}
func (m *mockAccountCommander) DeactivateAccount(_ context.Context, cmd cqrs.DeactivateAccountCommand) (*models.AccountView, error) {
	if m.deactivateFn != nil {
		return m.deactivateFn(cmd)
	}
	return nil, errNotConfigured
}

type mockAccountQuerier struct {
	getFn      func(cqrs.GetAccountQuery) (*models.AccountView, error)
	byNumberFn func(cqrs.GetAccountByNumberQuery) (*models.AccountView, error)
	listFn     func(cqrs.ListAccountsQuery) ([]models.AccountView, error)
}

func (m *mockAccountQuerier) GetAccount(_ context.Context, q cqrs.GetAccountQuery) (*models.AccountView, error) {
	if m.getFn != nil {
		return m.getFn(q)
	}
	return nil, errNotConfigured
}
func (m *mockAccountQuerier) GetAccountByNumber(_ context.Context, q cqrs.GetAccountByNumberQuery) (*models.AccountView, error) {
	if m.byNumberFn != nil {
		return m.byNumberFn(q)
	}
	return nil, errNotConfigured
}
func (m *mockAccountQuerier) ListAccounts(_ context.Context, q cqrs.ListAccountsQuery) ([]models.AccountView, error) {
	if m.listFn != nil {
		return m.listFn(q)
	}
	return nil, errNotConfigured
}

// ---- helpers ----

var testUserID = uuid.MustParse("6f1c2a4e-0d8b-4c1e-9a51-3b2f0c7d9e10")

func fakeAuth(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID != "" {
			c.Set("userId", userID)
		}
		c.Next()
	}
}

func newTestRouter(cmds AccountCommander, qrys AccountQuerier, authUserID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewAccountHandler(cmds, qrys).RegisterRoutes(r, fakeAuth(authUserID))
	return r
}

func doRequest(router *gin.Engine, method, url string, body any) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, url, nil)
	if body != nil {
		b, _ := json.Marshal(body)
		req, _ = http.NewRequest(method, url, strings.NewReader(string(b)))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// ---- test data ----

var testAccountID = uuid.MustParse("0b7a3c55-2f41-4d8e-8c3a-91e4b6d2f7a0")

func testView() *models.AccountView {
	return &models.AccountView{
		ID: testAccountID.String(), UserID: testUserID.String(), AccountNumber: "ACC-001",
		Name: "Main", AccountType: "savings", Balance: decimal.RequireFromString("300"),
		Currency: "INR", IsActive: true, Version: 3,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
}

// ---- tests ----

func TestCreateAccount(t *testing.T) {
	tests := []struct {
		name           string
		body           any
		createFn       func(cqrs.CreateAccountCommand) (*models.AccountView, error)
		expectedStatus int
	}{
		{
			name:           "success - create account",
			body:           map[string]any{"name": "Main", "accountType": "savings", "initialBalance": "100.50", "currency": "INR"},
			createFn:       func(cqrs.CreateAccountCommand) (*models.AccountView, error) { return testView(), nil },
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "bad request - missing required fields",
			body:           map[string]any{},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "bad request - invalid account type",
			body:           map[string]any{"name": "Main", "accountType": "business"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "bad request - negative opening balance",
			body:           map[string]any{"name": "Main", "accountType": "savings", "initialBalance": -5},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "bad request - malformed account number",
			body:           map[string]any{"name": "Main", "accountType": "savings", "accountNumber": "ACC 001"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "conflict - account number taken",
			body: map[string]any{"name": "Main", "accountType": "savings", "accountNumber": "ACC-001"},
			createFn: func(cqrs.CreateAccountCommand) (*models.AccountView, error) {
				return nil, cqrs.NewError(cqrs.KindAlreadyExists, "account number already exists")
			},
			expectedStatus: http.StatusConflict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmds := &mockAccountCommander{createFn: tt.createFn}
			router := newTestRouter(cmds, &mockAccountQuerier{}, testUserID.String())
			w := doRequest(router, http.MethodPost, "/v1/accounts", tt.body)
			if w.Code != tt.expectedStatus {
				t.Errorf("[%s] expected %d got %d; body: %s", tt.name, tt.expectedStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestCreateAccountPassesCommand(t *testing.T) {
	var got cqrs.CreateAccountCommand
	cmds := &mockAccountCommander{createFn: func(cmd cqrs.CreateAccountCommand) (*models.AccountView, error) {
		got = cmd
		return testView(), nil
	}}
	router := newTestRouter(cmds, &mockAccountQuerier{}, testUserID.String())
	w := doRequest(router, http.MethodPost, "/v1/accounts", map[string]any{
		"name": "Main", "accountType": "savings", "initialBalance": "12.34", "isDefault": true,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d; body: %s", w.Code, w.Body.String())
	}
	if got.UserID != testUserID || !got.IsDefault || got.InitialBalance.String() != "12.34" {
		t.Errorf("unexpected command: %+v", got)
	}

	var res cqrs.Result[models.AccountView]
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !res.Success || res.Data == nil || res.Data.AccountNumber != "ACC-001" {
		t.Errorf("unexpected envelope: %+v", res)
	}
}

func TestListAccounts(t *testing.T) {
	listFn := func(q cqrs.ListAccountsQuery) ([]models.AccountView, error) {
		if q.UserID != testUserID {
			return nil, fmt.Errorf("unexpected user %s", q.UserID)
		}
		return []models.AccountView{*testView()}, nil
	}
	router := newTestRouter(&mockAccountCommander{}, &mockAccountQuerier{listFn: listFn}, testUserID.String())
	w := doRequest(router, http.MethodGet, "/v1/accounts", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d; body: %s", w.Code, w.Body.String())
	}

	var res cqrs.Result[[]models.AccountView]
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Data == nil || len(*res.Data) != 1 {
		t.Errorf("expected one account, got %+v", res)
	}
}

func TestUnauthenticatedRequest(t *testing.T) {
	router := newTestRouter(&mockAccountCommander{}, &mockAccountQuerier{}, "")
	w := doRequest(router, http.MethodGet, "/v1/accounts", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestGetAccount(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		getFn          func(cqrs.GetAccountQuery) (*models.AccountView, error)
		byNumberFn     func(cqrs.GetAccountByNumberQuery) (*models.AccountView, error)
		expectedStatus int
	}{
		{
			name:           "success - fetch own account",
			path:           "/v1/accounts/" + testAccountID.String(),
			getFn:          func(cqrs.GetAccountQuery) (*models.AccountView, error) { return testView(), nil },
			expectedStatus: http.StatusOK,
		},
		{
			name: "forbidden - fetch another user's account",
			path: "/v1/accounts/" + uuid.NewString(),
			getFn: func(cqrs.GetAccountQuery) (*models.AccountView, error) {
				return nil, cqrs.NewError(cqrs.KindForbidden, "account belongs to another user")
			},
			expectedStatus: http.StatusForbidden,
		},
		{
			name: "not found - account does not exist",
			path: "/v1/accounts/" + uuid.NewString(),
			getFn: func(cqrs.GetAccountQuery) (*models.AccountView, error) {
				return nil, cqrs.NewError(cqrs.KindNotFound, "account not found")
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "bad request - malformed id",
			path:           "/v1/accounts/not-a-uuid",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unavailable - read store down",
			path:           "/v1/accounts/" + uuid.NewString(),
			getFn:          func(cqrs.GetAccountQuery) (*models.AccountView, error) { return nil, fmt.Errorf("connection refused") },
			expectedStatus: http.StatusServiceUnavailable,
		},
		{
			name:           "success - fetch by account number",
			path:           "/v1/account-numbers/ACC-001",
			byNumberFn:     func(cqrs.GetAccountByNumberQuery) (*models.AccountView, error) { return testView(), nil },
			expectedStatus: http.StatusOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qrys := &mockAccountQuerier{getFn: tt.getFn, byNumberFn: tt.byNumberFn}
			router := newTestRouter(&mockAccountCommander{}, qrys, testUserID.String())
			w := doRequest(router, http.MethodGet, tt.path, nil)
			if w.Code != tt.expectedStatus {
				t.Errorf("[%s] expected %d got %d; body: %s", tt.name, tt.expectedStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestFailureEnvelopeHidesInternalErrors(t *testing.T) {
	qrys := &mockAccountQuerier{getFn: func(cqrs.GetAccountQuery) (*models.AccountView, error) {
		return nil, fmt.Errorf("dial tcp 10.0.0.5:5432: connection refused")
	}}
	router := newTestRouter(&mockAccountCommander{}, qrys, testUserID.String())
	w := doRequest(router, http.MethodGet, "/v1/accounts/"+testAccountID.String(), nil)
	if strings.Contains(w.Body.String(), "10.0.0.5") {
		t.Errorf("internal detail leaked: %s", w.Body.String())
	}
}

func TestBalanceOperations(t *testing.T) {
	base := "/v1/accounts/" + testAccountID.String()
	tests := []struct {
		name           string
		path           string
		body           any
		cmds           *mockAccountCommander
		expectedStatus int
	}{
		{
			name: "success - deposit",
			path: base + "/deposits",
			body: map[string]any{"amount": "500", "currency": "INR"},
			cmds: &mockAccountCommander{depositFn: func(cmd cqrs.DepositCommand) (*models.AccountView, error) {
				if cmd.AccountID != testAccountID || cmd.RequestingUserID != testUserID {
					return nil, fmt.Errorf("unexpected command %+v", cmd)
				}
				return testView(), nil
			}},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "bad request - zero deposit",
			path:           base + "/deposits",
			body:           map[string]any{"amount": "0", "currency": "INR"},
			cmds:           &mockAccountCommander{},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "bad request - missing currency",
			path:           base + "/withdrawals",
			body:           map[string]any{"amount": "5"},
			cmds:           &mockAccountCommander{},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "unprocessable - insufficient funds",
			path: base + "/withdrawals",
			body: map[string]any{"amount": "1000", "currency": "INR"},
			cmds: &mockAccountCommander{withdrawFn: func(cqrs.WithdrawCommand) (*models.AccountView, error) {
				return nil, cqrs.NewError(cqrs.KindInsufficientFunds, "insufficient funds")
			}},
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name: "success - transfer",
			path: base + "/transfers",
			body: map[string]any{"toAccountId": uuid.NewString(), "amount": "200", "currency": "INR"},
			cmds: &mockAccountCommander{transferFn: func(cmd cqrs.TransferCommand) (*models.AccountView, error) {
				if cmd.FromAccountID != testAccountID {
					return nil, fmt.Errorf("unexpected source %s", cmd.FromAccountID)
				}
				return testView(), nil
			}},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "bad request - transfer without destination",
			path:           base + "/transfers",
			body:           map[string]any{"amount": "200", "currency": "INR"},
			cmds:           &mockAccountCommander{},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "bad request - transfer to malformed destination",
			path: base + "/transfers",
			body: map[string]any{"toAccountId": "not-a-uuid", "amount": "200", "currency": "INR"},
			cmds: &mockAccountCommander{transferFn: func(cqrs.TransferCommand) (*models.AccountView, error) {
				return nil, fmt.Errorf("transfer must not be called")
			}},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "bad request - transfer to nil destination",
			path: base + "/transfers",
			body: map[string]any{"toAccountId": uuid.Nil.String(), "amount": "200", "currency": "INR"},
			cmds: &mockAccountCommander{transferFn: func(cqrs.TransferCommand) (*models.AccountView, error) {
				return nil, fmt.Errorf("transfer must not be called")
			}},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "conflict - concurrent modification",
			path: base + "/deposits",
			body: map[string]any{"amount": "1", "currency": "INR"},
			cmds: &mockAccountCommander{depositFn: func(cqrs.DepositCommand) (*models.AccountView, error) {
				return nil, cqrs.NewError(cqrs.KindConcurrencyConflict, "retry")
			}},
			expectedStatus: http.StatusConflict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(tt.cmds, &mockAccountQuerier{}, testUserID.String())
			w := doRequest(router, http.MethodPost, tt.path, tt.body)
			if w.Code != tt.expectedStatus {
				t.Errorf("[%s] expected %d got %d; body: %s", tt.name, tt.expectedStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestAccountMaintenance(t *testing.T) {
	base := "/v1/accounts/" + testAccountID.String()
	tests := []struct {
		name           string
		method         string
		path           string
		body           any
		cmds           *mockAccountCommander
		expectedStatus int
	}{
		{
			name:   "success - set default account",
			method: http.MethodPut,
			path:   "/v1/accounts/default",
			body:   map[string]any{"accountNumber": "ACC-001"},
			cmds: &mockAccountCommander{setDefaultFn: func(cmd cqrs.SetDefaultAccountCommand) (*models.AccountView, error) {
				if cmd.UserID != testUserID || cmd.AccountNumber != "ACC-001" {
					return nil, fmt.Errorf("unexpected command %+v", cmd)
				}
				return testView(), nil
			}},
			expectedStatus: http.StatusOK,
		},
		{
			name:   "not found - default account number unknown",
			method: http.MethodPut,
			path:   "/v1/accounts/default",
			body:   map[string]any{"accountNumber": "ACC-404"},
			cmds: &mockAccountCommander{setDefaultFn: func(cqrs.SetDefaultAccountCommand) (*models.AccountView, error) {
				return nil, cqrs.NewError(cqrs.KindNotFound, "account not found")
			}},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "success - rename",
			method:         http.MethodPatch,
			path:           base,
			body:           map[string]any{"name": "Holiday"},
			cmds:           &mockAccountCommander{updateFn: func(cqrs.UpdateAccountCommand) (*models.AccountView, error) { return testView(), nil }},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "bad request - empty name",
			method:         http.MethodPatch,
			path:           base,
			body:           map[string]any{"name": ""},
			cmds:           &mockAccountCommander{},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "success - deactivate",
			method:         http.MethodDelete,
			path:           base,
			cmds:           &mockAccountCommander{deactivateFn: func(cqrs.DeactivateAccountCommand) (*models.AccountView, error) { return testView(), nil }},
			expectedStatus: http.StatusOK,
		},
		{
			name:   "bad request - deactivate with balance",
			method: http.MethodDelete,
			path:   base,
			cmds: &mockAccountCommander{deactivateFn: func(cqrs.DeactivateAccountCommand) (*models.AccountView, error) {
				return nil, cqrs.NewError(cqrs.KindValidation, "balance must be zero")
			}},
			expectedStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(tt.cmds, &mockAccountQuerier{}, testUserID.String())
			w := doRequest(router, tt.method, tt.path, tt.body)
			if w.Code != tt.expectedStatus {
				t.Errorf("[%s] expected %d got %d; body: %s", tt.name, tt.expectedStatus, w.Code, w.Body.String())
			}
		})
	}
}
