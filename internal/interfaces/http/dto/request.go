// Package dto 提供 HTTP 层数据传输对象
package dto

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"agent-credit-api/internal/domain/repository"
)

// BindPage 读取 page / page_size 查询参数，非法值按默认处理
func BindPage(c *gin.Context) repository.Pagination {
	return repository.NewPagination(
		queryInt(c, "page", 1),
		queryInt(c, "page_size", repository.DefaultPageSize),
	)
}

// BindJobID 从 URI 绑定任务 ID
func BindJobID(c *gin.Context) string {
	return c.Param("jid")
}

// BindCSV 读取可重复或逗号分隔的查询参数，如 ?type=add,usage&type=refund
func BindCSV(c *gin.Context, key string) []string {
	var out []string
	for _, raw := range c.QueryArray(key) {
		for _, part := range strings.Split(raw, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// BindTime 解析 RFC3339 时间查询参数，缺省返回 nil
func BindTime(c *gin.Context, key string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return v
}
