package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-credit-api/internal/application/audit"
	"agent-credit-api/internal/application/batch"
	"agent-credit-api/internal/application/ledger"
	"agent-credit-api/internal/config"
	"agent-credit-api/internal/domain/entity"
	"agent-credit-api/internal/domain/service"
	"agent-credit-api/internal/infrastructure/auth"
	"agent-credit-api/internal/infrastructure/persistence/memory"
	"agent-credit-api/internal/interfaces/http/handler"
	"agent-credit-api/pkg/utils"
)

const (
	testSecret   = "router-test-secret"
	testIssuer   = "agent-credit-api"
	billingToken = "billing-static-token"
)

type stubEngine struct{}

func (stubEngine) Complete(context.Context, []service.ChatMessage, string) (*service.CompletionResult, error) {
	return &service.CompletionResult{
		Content: "ok",
		Usage:   service.TokenUsage{PromptTokens: 10, CompletionTokens: 10},
	}, nil
}

type testServer struct {
	engine *gin.Engine
	store  *memory.Store
	orch   *batch.Orchestrator
	jwt    *utils.JWTManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{}
	cfg.App.Name = "agent-credit-api"
	cfg.App.Env = "test"
	cfg.Security.JWT = config.JWTConfig{Enabled: true, Secret: testSecret, Issuer: testIssuer}
	cfg.Credits.PlanAllotments = map[string]float64{"pro": 50}

	store := memory.NewStore()
	jwtManager := utils.NewJWTManager(testSecret, testIssuer)
	authorizer := auth.NewLedgerAuthorizer(jwtManager, config.LedgerSecurityConfig{
		ServiceRoles: []string{"billing"},
		StaticTokens: []string{billingToken},
	})
	ledgerSvc := ledger.NewService(store.Credits(), store.Audits(), store, authorizer)
	orch := batch.NewOrchestrator(store.Jobs(), store.Results(), store, ledgerSvc, stubEngine{},
		batch.NewMemoryJobCache(time.Minute), nil, batch.Config{DefaultModel: "gpt-4o"})

	r := New(cfg, Handlers{
		Health: handler.NewHealthHandler("test", nil, nil),
		Credit: handler.NewCreditHandler(ledgerSvc, orch, cfg.Credits),
		Audit:  handler.NewAuditHandler(audit.NewQueryService(store.Audits())),
		Batch:  handler.NewBatchHandler(orch),
	}, nil)

	return &testServer{engine: r.Engine(), store: store, orch: orch, jwt: jwtManager}
}

func (s *testServer) seed(userID, added string) {
	c := entity.NewUserCredit(userID, entity.PlanTierPro)
	c.CreditsAdded = decimal.RequireFromString(added)
	s.store.PutAccount(*c)
}

func (s *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := s.jwt.GenerateToken(userID, "member", utils.TokenTypeAccess, nil, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		ErrorCode string `json:"error_code"`
		Details   string `json:"details"`
	} `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func items(n int) []map[string]string {
	out := make([]map[string]string, n)
	for i := range out {
		out[i] = map[string]string{"content": "hello world"}
	}
	return out
}

func TestHealthEndpointsSkipAuth(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/live", "", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodGet, "/ready", "", nil).Code)
}

func TestBalanceRequiresAccessToken(t *testing.T) {
	s := newTestServer(t)
	s.seed("u1", "100")

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/v1/credits/balance", "", nil).Code)

	svcToken, err := s.jwt.GenerateServiceToken("billing", "billing", []string{"*"}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/v1/credits/balance", svcToken, nil).Code)

	w := s.do(t, http.MethodGet, "/v1/credits/balance", s.token(t, "u1"), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var balance struct {
		Available decimal.Decimal `json:"available"`
		PlanTier  string          `json:"plan_tier"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &balance))
	assert.True(t, decimal.NewFromInt(100).Equal(balance.Available))
	assert.Equal(t, "pro", balance.PlanTier)

	w = s.do(t, http.MethodGet, "/v1/credits/balance", s.token(t, "ghost"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateBatchJob_InsufficientCreditsIs402(t *testing.T) {
	s := newTestServer(t)
	s.seed("u1", "0.01")

	w := s.do(t, http.MethodPost, "/v1/batch-jobs", s.token(t, "u1"), map[string]any{"items": items(3)})
	require.Equal(t, http.StatusPaymentRequired, w.Code, w.Body.String())

	env := decode(t, w)
	assert.Equal(t, "insufficient credits", env.Message)
	require.NotNil(t, env.Error)
	assert.Equal(t, "4101", env.Error.ErrorCode)
}

func TestCreateBatchJob_Validation(t *testing.T) {
	s := newTestServer(t)
	s.seed("u1", "100")
	tok := s.token(t, "u1")

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/v1/batch-jobs", tok, map[string]any{"items": []any{}}).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/v1/batch-jobs", tok, map[string]any{
		"items": []map[string]string{{"id": "x", "content": "a"}, {"id": "x", "content": "b"}},
	}).Code)
}

func TestBatchJobLifecycle(t *testing.T) {
	s := newTestServer(t)
	s.seed("u1", "100")
	tok := s.token(t, "u1")

	w := s.do(t, http.MethodPost, "/v1/batch-jobs", tok, map[string]any{"agent_id": "agent-1", "items": items(3)})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &created))
	require.NotEmpty(t, created.ID)
	s.orch.Wait()

	w = s.do(t, http.MethodGet, "/v1/batch-jobs/"+created.ID, tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var job struct {
		Status         string `json:"status"`
		ProcessedItems int    `json:"processed_items"`
		AgentID        string `json:"agent_id"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &job))
	assert.Equal(t, "completed", job.Status)
	assert.Equal(t, 3, job.ProcessedItems)
	assert.Equal(t, "agent-1", job.AgentID)

	w = s.do(t, http.MethodGet, "/v1/batch-jobs/"+created.ID+"/results", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var results struct {
		Results []struct {
			ItemID string `json:"item_id"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &results))
	assert.Len(t, results.Results, 3)

	w = s.do(t, http.MethodPost, "/v1/batch-jobs/"+created.ID+"/cancel", tok, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	other := s.token(t, "u2")
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/v1/batch-jobs/"+created.ID, other, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/v1/batch-jobs/missing", tok, nil).Code)

	w = s.do(t, http.MethodGet, "/v1/batch-jobs?status=completed", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Jobs []struct {
			ID string `json:"id"`
		} `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &list))
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, created.ID, list.Jobs[0].ID)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/v1/batch-jobs?status=bogus", tok, nil).Code)
}

func TestAdminGrantRequiresLedgerAuthorization(t *testing.T) {
	s := newTestServer(t)
	s.seed("u1", "10")
	body := map[string]any{"user_id": "u1", "amount": "15.5", "source": "stripe"}

	w := s.do(t, http.MethodPost, "/v1/admin/credits/grant", "", body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/v1/admin/credits/grant", "", body, handler.LedgerAuthorizationHeader, "wrong")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/v1/admin/credits/grant", "", body, handler.LedgerAuthorizationHeader, billingToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// 凭据原样透传，Bearer 前缀由授权器剥离
	w = s.do(t, http.MethodPost, "/v1/admin/credits/grant", "", body, handler.LedgerAuthorizationHeader, "Bearer "+billingToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	acc, ok := s.store.Account("u1")
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("41").Equal(acc.CreditsAdded))
}

func TestAdminRefundAndReset(t *testing.T) {
	s := newTestServer(t)
	c := entity.NewUserCredit("u1", entity.PlanTierPro)
	c.CreditsAdded = decimal.NewFromInt(100)
	c.CreditsUsed = decimal.NewFromInt(70)
	s.store.PutAccount(*c)

	w := s.do(t, http.MethodPost, "/v1/admin/credits/refund", "", map[string]any{"user_id": "u1", "amount": 5},
		handler.LedgerAuthorizationHeader, billingToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "4103", decode(t, w).Error.ErrorCode)

	w = s.do(t, http.MethodPost, "/v1/admin/credits/refund", "", map[string]any{"user_id": "u1", "amount": 5, "reason": "outage"},
		handler.LedgerAuthorizationHeader, billingToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// 无凭据时不暴露账户是否存在
	w = s.do(t, http.MethodPost, "/v1/admin/credits/reset", "", map[string]any{"user_id": "nobody"})
	assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
	w = s.do(t, http.MethodPost, "/v1/admin/credits/reset", "", map[string]any{"user_id": "u1"},
		handler.LedgerAuthorizationHeader, "wrong")
	assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())

	// 使用 pro 套餐配置的 50 额度：added = (100 - 65) + 50
	w = s.do(t, http.MethodPost, "/v1/admin/credits/reset", "", map[string]any{"user_id": "u1"},
		handler.LedgerAuthorizationHeader, billingToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	acc, ok := s.store.Account("u1")
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(85).Equal(acc.CreditsAdded), acc.CreditsAdded.String())
	assert.True(t, acc.CreditsUsed.IsZero())
}

func TestAuditLogsAndEstimate(t *testing.T) {
	s := newTestServer(t)
	s.seed("u1", "100")
	tok := s.token(t, "u1")

	w := s.do(t, http.MethodPost, "/v1/admin/credits/grant", "", map[string]any{"user_id": "u1", "amount": 10},
		handler.LedgerAuthorizationHeader, billingToken)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/v1/credits/audit-logs?type=add", tok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var logs struct {
		Logs []struct {
			OperationType string          `json:"operation_type"`
			BalanceBefore decimal.Decimal `json:"balance_before"`
			BalanceAfter  decimal.Decimal `json:"balance_after"`
		} `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &logs))
	require.Len(t, logs.Logs, 1)
	assert.Equal(t, "add", logs.Logs[0].OperationType)
	assert.True(t, decimal.NewFromInt(110).Equal(logs.Logs[0].BalanceAfter))

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/v1/credits/audit-logs?type=bogus", tok, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/v1/credits/audit-logs?since=yesterday", tok, nil).Code)

	w = s.do(t, http.MethodPost, "/v1/credits/estimate", tok, map[string]any{"items": items(3)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var est struct {
		EstimatedTokens  int             `json:"estimated_tokens"`
		EstimatedCredits decimal.Decimal `json:"estimated_credits"`
		Sufficient       bool            `json:"sufficient"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &est))
	assert.Equal(t, 22, est.EstimatedTokens)
	assert.True(t, decimal.RequireFromString("0.22").Equal(est.EstimatedCredits))
	assert.True(t, est.Sufficient)
}
