package service

import "context"

// PrivilegedOp 需要额外授权的账本操作
type PrivilegedOp string

const (
	OpGrantCredits  PrivilegedOp = "credits:grant"
	OpRefundCredits PrivilegedOp = "credits:refund"
	OpMonthlyReset  PrivilegedOp = "credits:reset"
)

// Authorizer 校验调用方凭据是否允许执行特权操作
// 实现方只回答是或否，不泄露校验细节
type Authorizer interface {
	Authorize(ctx context.Context, credential string, op PrivilegedOp) bool
}
