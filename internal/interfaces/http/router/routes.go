package router

import (
	"github.com/gin-gonic/gin"
)

// RegisterV1Routes 注册 v1 版本路由
//
// /v1/admin 下的路由不经过用户认证，由账本根据 X-Ledger-Authorization 授权。
func RegisterV1Routes(v1 *gin.RouterGroup, h Handlers) {
	// 额度
	credits := v1.Group("/credits")
	{
		credits.GET("/balance", h.Credit.GetBalance)
		credits.GET("/audit-logs", h.Audit.ListAuditLogs)
		credits.POST("/estimate", h.Credit.Estimate)
	}

	// 批处理任务
	jobs := v1.Group("/batch-jobs")
	{
		jobs.POST("", h.Batch.CreateJob)
		jobs.GET("", h.Batch.ListJobs)
		jobs.GET("/:jid", h.Batch.GetJob)
		jobs.GET("/:jid/results", h.Batch.GetResults)
		jobs.POST("/:jid/cancel", h.Batch.CancelJob)
	}

	// 特权账本操作
	admin := v1.Group("/admin/credits")
	{
		admin.POST("/grant", h.Credit.Grant)
		admin.POST("/refund", h.Credit.Refund)
		admin.POST("/reset", h.Credit.Reset)
	}
}
