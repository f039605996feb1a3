// Package pricing 提供额度计价：按实际 Token 用量结算与按估算 Token 预授权两套规则
package pricing

import (
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"agent-credit-api/internal/domain/entity"
	"agent-credit-api/internal/domain/service"
)

// ModelRate 每 1K Token 的额度单价
type ModelRate struct {
	InputPer1K  decimal.Decimal
	OutputPer1K decimal.Decimal
}

func rate(in, out float64) ModelRate {
	return ModelRate{InputPer1K: decimal.NewFromFloat(in), OutputPer1K: decimal.NewFromFloat(out)}
}

// usageRates 按实际用量结算的模型单价（额度 / 1K Token）
var usageRates = map[string]ModelRate{
	"gpt-4o":            rate(5, 15),
	"gpt-4o-mini":       rate(0.15, 0.6),
	"gpt-4-turbo":       rate(10, 30),
	"gpt-4":             rate(30, 60),
	"gpt-3.5-turbo":     rate(0.5, 1.5),
	"o1":                rate(15, 60),
	"o1-mini":           rate(3, 12),
	"claude-3-5-sonnet": rate(3, 15),
	"claude-3-5-haiku":  rate(0.8, 4),
	"claude-3-opus":     rate(15, 75),
	"claude-3-haiku":    rate(0.25, 1.25),
	"gemini-1.5-pro":    rate(1.25, 5),
	"gemini-1.5-flash":  rate(0.075, 0.3),
}

// DefaultUsageRate 未登记模型的单价
var DefaultUsageRate = rate(10, 30)

// familyRate 估算用的模型族平均单价，按子串匹配，先匹配先得
type familyRate struct {
	substr string
	per1K  decimal.Decimal
}

var estimateRates = []familyRate{
	{substr: "gpt-4o-mini", per1K: decimal.NewFromFloat(0.4)},
	{substr: "gpt-4o", per1K: decimal.NewFromInt(10)},
	{substr: "gpt-4", per1K: decimal.NewFromInt(45)},
	{substr: "gpt-3.5", per1K: decimal.NewFromInt(1)},
	{substr: "o1-mini", per1K: decimal.NewFromFloat(7.5)},
	{substr: "o1", per1K: decimal.NewFromFloat(37.5)},
	{substr: "opus", per1K: decimal.NewFromInt(45)},
	{substr: "haiku", per1K: decimal.NewFromFloat(2.4)},
	{substr: "claude", per1K: decimal.NewFromInt(9)},
	{substr: "gemini", per1K: decimal.NewFromFloat(3.2)},
}

// DefaultEstimateRate 未匹配任何模型族时的估算单价
var DefaultEstimateRate = decimal.NewFromInt(20)

// DefaultSafetyMultiplier 批处理估算的安全系数
const DefaultSafetyMultiplier = 1.2

var thousand = decimal.NewFromInt(1000)

// UsageRateFor 查找模型结算单价：精确匹配，其次最长前缀（带日期的变体），最后默认单价
func UsageRateFor(model string) ModelRate {
	m := strings.ToLower(strings.TrimSpace(model))
	if r, ok := usageRates[m]; ok {
		return r
	}
	best := ""
	for name := range usageRates {
		if strings.HasPrefix(m, name+"-") && len(name) > len(best) {
			best = name
		}
	}
	if best != "" {
		return usageRates[best]
	}
	return DefaultUsageRate
}

// CreditsForUsage 按实际 prompt/completion Token 结算额度，向上取整到 0.01
func CreditsForUsage(usage service.TokenUsage, model string) decimal.Decimal {
	r := UsageRateFor(model)
	in := decimal.NewFromInt(int64(usage.PromptTokens)).Div(thousand).Mul(r.InputPer1K)
	out := decimal.NewFromInt(int64(usage.CompletionTokens)).Div(thousand).Mul(r.OutputPer1K)
	return in.Add(out).RoundCeil(2)
}

// EstimateRateFor 返回模型族估算单价
func EstimateRateFor(model string) decimal.Decimal {
	m := strings.ToLower(model)
	for _, fr := range estimateRates {
		if strings.Contains(m, fr.substr) {
			return fr.per1K
		}
	}
	return DefaultEstimateRate
}

// CreditsForEstimatedTokens 按估算总 Token 计算预授权额度，保留 4 位小数
func CreditsForEstimatedTokens(totalTokens int, model string) decimal.Decimal {
	if totalTokens <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(totalTokens)).Div(thousand).Mul(EstimateRateFor(model)).Round(4)
}

// EstimateTextTokens 粗略估算文本 Token 数（约 4 字符 / Token）
func EstimateTextTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// EstimateBatchTokens 估算批处理总 Token：每项 (系统提示 + 输入) × 2 覆盖输出，再乘安全系数
func EstimateBatchTokens(items []entity.BatchItem, systemPrompt string, multiplier float64) int {
	if multiplier <= 0 {
		multiplier = DefaultSafetyMultiplier
	}
	system := EstimateTextTokens(systemPrompt)
	var sum int64
	for _, item := range items {
		sum += int64(system+EstimateTextTokens(item.Content)) * 2
	}
	return int(decimal.NewFromInt(sum).Mul(decimal.NewFromFloat(multiplier)).Ceil().IntPart())
}
