package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-credit-api/internal/config"
	"agent-credit-api/internal/domain/service"
	"agent-credit-api/pkg/utils"
)

func newTestAuthorizer() (*LedgerAuthorizer, *utils.JWTManager) {
	jwtManager := utils.NewJWTManager("test-secret", "agent-credit-api")
	return NewLedgerAuthorizer(jwtManager, config.LedgerSecurityConfig{
		ServiceRoles: []string{"billing", "admin"},
		StaticTokens: []string{"static-key", "  "},
	}), jwtManager
}

func TestLedgerAuthorizer_StaticToken(t *testing.T) {
	a, _ := newTestAuthorizer()
	ctx := context.Background()

	assert.True(t, a.Authorize(ctx, "static-key", service.OpGrantCredits))
	assert.True(t, a.Authorize(ctx, "Bearer static-key", service.OpRefundCredits))
	assert.False(t, a.Authorize(ctx, "static-key-2", service.OpGrantCredits))
	assert.False(t, a.Authorize(ctx, "", service.OpGrantCredits))
	assert.False(t, a.Authorize(ctx, "   ", service.OpGrantCredits))
}

func TestLedgerAuthorizer_ServiceToken(t *testing.T) {
	a, jwtManager := newTestAuthorizer()
	ctx := context.Background()

	grantOnly, err := jwtManager.GenerateServiceToken("billing-svc", "billing", []string{string(service.OpGrantCredits)}, time.Minute)
	require.NoError(t, err)
	assert.True(t, a.Authorize(ctx, "Bearer "+grantOnly, service.OpGrantCredits))
	assert.False(t, a.Authorize(ctx, grantOnly, service.OpRefundCredits))

	wildcard, err := jwtManager.GenerateServiceToken("ops", "admin", []string{"*"}, time.Minute)
	require.NoError(t, err)
	assert.True(t, a.Authorize(ctx, wildcard, service.OpMonthlyReset))

	wrongRole, err := jwtManager.GenerateServiceToken("intruder", "user", []string{"*"}, time.Minute)
	require.NoError(t, err)
	assert.False(t, a.Authorize(ctx, wrongRole, service.OpGrantCredits))
}

func TestLedgerAuthorizer_RejectsUserAccessToken(t *testing.T) {
	a, jwtManager := newTestAuthorizer()

	access, err := jwtManager.GenerateToken("u1", "admin", utils.TokenTypeAccess, []string{"*"}, time.Minute)
	require.NoError(t, err)
	assert.False(t, a.Authorize(context.Background(), access, service.OpGrantCredits))
}

func TestLedgerAuthorizer_RejectsForeignSignature(t *testing.T) {
	a, _ := newTestAuthorizer()
	other := utils.NewJWTManager("other-secret", "agent-credit-api")

	token, err := other.GenerateServiceToken("billing-svc", "billing", []string{"*"}, time.Minute)
	require.NoError(t, err)
	assert.False(t, a.Authorize(context.Background(), token, service.OpGrantCredits))
}
