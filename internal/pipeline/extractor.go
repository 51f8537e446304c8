package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prixroxx/RupAI/internal/model"
	"github.com/prixroxx/RupAI/pkg/llm"
	"github.com/prixroxx/RupAI/pkg/log"

	"github.com/shopspring/decimal"
)

// Extractor 从文档文本中抽取结构化的财务数据点。
type Extractor interface {
	// Extract 返回抽取出的数据点和一条可选的告警。
	// 抽取失败（模型不可用、JSON 无法解析）不是摄取失败：
	// 返回零个数据点与非空告警，由调用方记入文档元数据。
	Extract(ctx context.Context, text string) ([]model.FinancialDataPoint, string)
}

type llmExtractor struct {
	client llm.Client
}

// NewExtractor 创建一个基于 LLM 的财务信息抽取器。
func NewExtractor(client llm.Client) Extractor {
	return &llmExtractor{client: client}
}

const extractionSystemPrompt = `你是一个财务文档解析助手。从用户提供的文档文本中抽取财务数据点，仅输出一个 JSON 数组，不要输出任何其他文字。
数组中每个元素的结构为：
{"type": "income|expense|debt|savings|investment|credit_score", "category": "类别，如 salary/rent/loan", "amount": 数值, "description": "一句话描述", "confidence": 0到1之间的数值, "date": "YYYY-MM-DD 或空字符串"}
找不到任何财务数据时输出空数组 []。`

// extractedPoint 是 LLM 输出的线上结构，宽松解析后再逐条校验。
type extractedPoint struct {
	Type       string      `json:"type"`
	Category   string      `json:"category"`
	Amount     json.Number `json:"amount"`
	Confidence float64     `json:"confidence"`
	Date       string      `json:"date"`
}

// Extract 调用 LLM 做单次非流式抽取，并对输出做修复后解析。
func (e *llmExtractor) Extract(ctx context.Context, text string) ([]model.FinancialDataPoint, string) {
	messages := []llm.Message{
		{Role: "system", Content: extractionSystemPrompt},
		{Role: "user", Content: text},
	}
	temp := 0.0
	raw, err := e.client.Complete(ctx, messages, &llm.GenerationParams{Temperature: &temp})
	if err != nil {
		log.Errorf("[Extractor] LLM 抽取调用失败: %v", err)
		return nil, fmt.Sprintf("extraction skipped: llm call failed: %v", err)
	}

	points, err := parseExtraction(raw)
	if err != nil {
		log.Warnf("[Extractor] LLM 输出无法解析为财务数据: %v", err)
		return nil, fmt.Sprintf("extraction skipped: %v", err)
	}
	return points, ""
}

// parseExtraction 把 LLM 的原始输出解析为已校验的数据点列表。
// 解析顺序：剥离 markdown 围栏，截取数组片段，直接解析，失败后修复再解析。
func parseExtraction(raw string) ([]model.FinancialDataPoint, error) {
	payload := extractJSONArray(stripCodeFence(raw))
	if payload == "" {
		return nil, fmt.Errorf("no json array found in llm output")
	}

	var wire []extractedPoint
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		// 常见的 LLM 格式问题（键缺失引号等）先修复再试一次
		repaired := repairLLMJSON(payload)
		if err2 := json.Unmarshal([]byte(repaired), &wire); err2 != nil {
			return nil, fmt.Errorf("invalid json array: %v", err)
		}
	}

	points := make([]model.FinancialDataPoint, 0, len(wire))
	for _, p := range wire {
		dataType := model.DataType(strings.ToLower(strings.TrimSpace(p.Type)))
		if !dataType.Valid() {
			continue
		}
		amount, err := decimal.NewFromString(p.Amount.String())
		if err != nil {
			continue
		}
		confidence := p.Confidence
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 1 {
			confidence = 1
		}

		point := model.FinancialDataPoint{
			DataType:   dataType,
			Category:   strings.TrimSpace(p.Category),
			Amount:     &amount,
			Confidence: confidence,
		}
		if d, err := time.Parse("2006-01-02", p.Date); err == nil {
			point.Date = d
		} else {
			// 模型未给出日期时落到抽取当日
			point.Date = time.Now()
		}
		points = append(points, point)
	}
	return points, nil
}

// stripCodeFence 剥离 ```json ... ``` 形式的 markdown 围栏。
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		// 去掉围栏行上的语言标记
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// extractJSONArray 截取输出中第一个完整的 JSON 数组片段。
func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

// repairLLMJSON 修复 LLM 输出中常见的键缺失前引号问题，
// 例如 `, type":` 会被修复为 `, "type":`。
func repairLLMJSON(s string) string {
	result := []rune(s)
	fixed := make([]rune, 0, len(result)+100)

	i := 0
	for i < len(result) {
		ch := result[i]

		if ch == '{' || ch == ',' {
			fixed = append(fixed, ch)
			i++

			for i < len(result) && (result[i] == ' ' || result[i] == '\n' || result[i] == '\t') {
				fixed = append(fixed, result[i])
				i++
			}

			// 键以字母开头且没有前引号时，检查是否形如 key": 的残缺键
			if i < len(result) && result[i] != '"' && isLetter(result[i]) {
				keyStart := i
				for i < len(result) && (isLetter(result[i]) || result[i] == '_' || result[i] == ' ') {
					i++
				}
				keyEnd := i

				if i+1 < len(result) && result[i] == '"' && result[i+1] == ':' {
					fixed = append(fixed, '"')
					for j := keyStart; j < keyEnd; j++ {
						if result[j] != ' ' || (j > keyStart && j < keyEnd-1) {
							fixed = append(fixed, result[j])
						}
					}
					continue
				}
				for j := keyStart; j < i; j++ {
					fixed = append(fixed, result[j])
				}
			}
		} else {
			fixed = append(fixed, ch)
			i++
		}
	}

	return string(fixed)
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
