// Package auth 提供账本特权操作的授权实现
package auth

import (
	"context"
	"crypto/subtle"
	"slices"
	"strings"

	"agent-credit-api/internal/config"
	"agent-credit-api/internal/domain/service"
	"agent-credit-api/pkg/logger"
	"agent-credit-api/pkg/utils"
)

// LedgerAuthorizer 校验服务 Token 或静态密钥是否允许执行特权操作
type LedgerAuthorizer struct {
	jwt          *utils.JWTManager
	serviceRoles []string
	staticTokens [][]byte
}

// NewLedgerAuthorizer 创建账本授权器
func NewLedgerAuthorizer(jwtManager *utils.JWTManager, cfg config.LedgerSecurityConfig) *LedgerAuthorizer {
	tokens := make([][]byte, 0, len(cfg.StaticTokens))
	for _, t := range cfg.StaticTokens {
		if t = strings.TrimSpace(t); t != "" {
			tokens = append(tokens, []byte(t))
		}
	}
	return &LedgerAuthorizer{
		jwt:          jwtManager,
		serviceRoles: cfg.ServiceRoles,
		staticTokens: tokens,
	}
}

var _ service.Authorizer = (*LedgerAuthorizer)(nil)

// Authorize 静态密钥直接放行；JWT 需为 service 类型、角色在白名单内且携带对应 scope
func (a *LedgerAuthorizer) Authorize(ctx context.Context, credential string, op service.PrivilegedOp) bool {
	credential = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(credential), "Bearer "))
	if credential == "" {
		return false
	}

	for _, t := range a.staticTokens {
		if subtle.ConstantTimeCompare([]byte(credential), t) == 1 {
			return true
		}
	}

	if a.jwt == nil {
		return false
	}
	claims, err := a.jwt.ParseToken(credential)
	if err != nil {
		logger.Warn(ctx, "ledger credential rejected", "operation", string(op), "reason", err.Error())
		return false
	}
	if claims.Type != utils.TokenTypeService || !slices.Contains(a.serviceRoles, claims.Role) {
		logger.Warn(ctx, "ledger credential lacks service role", "operation", string(op), "subject", claims.UserID, "role", claims.Role)
		return false
	}
	return claims.HasScope(string(op))
}
