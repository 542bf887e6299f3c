package mood

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	analysis "github.com/zhouzirui/mindease/client/internal/analysis/mood"
	"github.com/zhouzirui/mindease/client/internal/api"
)

// Config 控制情绪分类服务的行为。
type Config struct {
	Enabled      bool
	HistoryLimit int
}

// Assessment 表示一次情绪分类的结果。
type Assessment struct {
	Decision   analysis.Decision
	Confidence float32
	Reason     string
	Source     string
}

const (
	SourceLLM       = "llm"
	SourceHeuristic = "heuristic"
)

// Service 用大模型判断用户情绪，失败时回退到关键词规则。
type Service struct {
	enabled      bool
	classifier   compose.Runnable[map[string]any, *schema.Message]
	fallback     func(text string) analysis.Decision
	historyLimit int
	log          zerolog.Logger
}

// NewService 创建情绪分类服务。chatModel 为 nil 时只使用关键词规则。
func NewService(ctx context.Context, chatModel model.BaseChatModel, cfg Config, logger zerolog.Logger) (*Service, error) {
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 6
	}

	svc := &Service{
		enabled:      cfg.Enabled && chatModel != nil,
		fallback:     analysis.Analyze,
		historyLimit: historyLimit,
		log:          logger,
	}
	if !svc.enabled {
		return svc, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(classifierSystemPrompt),
		schema.UserMessage(classifierUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile mood classifier chain: %w", err)
	}
	svc.classifier = runnable
	return svc, nil
}

// Enabled 返回大模型分类是否可用。
func (s *Service) Enabled() bool {
	return s != nil && s.enabled && s.classifier != nil
}

// Classify 根据最近对话与最新输入给出情绪标签。
func (s *Service) Classify(ctx context.Context, history []api.HistoryTurn, message string) Assessment {
	if !s.Enabled() {
		return s.heuristic(message)
	}

	input := map[string]any{
		"history": formatHistory(history, s.historyLimit),
		"message": strings.TrimSpace(message),
	}

	msg, err := s.classifier.Invoke(ctx, input)
	if err != nil {
		s.log.Warn().Err(err).Msg("classifier invoke failed, use fallback")
		return s.heuristic(message)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return s.heuristic(message)
	}

	payload, err := parseClassifierOutput(msg.Content)
	if err != nil {
		s.log.Warn().Err(err).Msg("classifier output parse failed, use fallback")
		return s.heuristic(message)
	}

	label, ok := parseLabel(payload.Mood)
	if !ok {
		return s.heuristic(message)
	}

	scale := clampScale(payload.Scale)
	confidence := payload.Confidence
	if confidence <= 0 {
		confidence = 0.6
	}
	if confidence > 1 {
		confidence = 1
	}

	return Assessment{
		Decision:   analysis.Decision{Label: label, Scale: scale, Score: int(scale * 2)},
		Confidence: confidence,
		Reason:     strings.TrimSpace(payload.Reason),
		Source:     SourceLLM,
	}
}

func (s *Service) heuristic(message string) Assessment {
	decision := s.fallback(message)
	confidence := float32(0.3)
	if decision.Score > 0 {
		confidence = 0.55
	}
	return Assessment{
		Decision:   decision,
		Confidence: confidence,
		Reason:     "keyword fallback",
		Source:     SourceHeuristic,
	}
}

func parseClassifierOutput(content string) (*classifierPayload, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("missing json object")
	}

	payload := &classifierPayload{}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// formatHistory 只保留最近 limit 条非空文本。
func formatHistory(turns []api.HistoryTurn, limit int) string {
	if limit < 1 {
		limit = 1
	}
	start := len(turns) - limit
	if start < 0 {
		start = 0
	}

	lines := make([]string, 0, len(turns)-start)
	for _, turn := range turns[start:] {
		text := strings.TrimSpace(turn.Content)
		if text == "" {
			continue
		}
		role := "User"
		if strings.EqualFold(turn.Role, "assistant") || strings.EqualFold(turn.Role, "bot") {
			role = "MindEase"
		}
		lines = append(lines, role+": "+text)
	}
	if len(lines) == 0 {
		return "(no earlier conversation)"
	}
	return strings.Join(lines, "\n")
}

func parseLabel(raw string) (analysis.Label, bool) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	for _, label := range analysis.Labels {
		if strings.ToLower(string(label)) == normalized {
			return label, true
		}
	}
	return "", false
}

func clampScale(val float32) float32 {
	if val <= 0 {
		return 3
	}
	if val < 1 {
		return 1
	}
	if val > 5 {
		return 5
	}
	return val
}

type classifierPayload struct {
	Mood       string  `json:"mood"`
	Scale      float32 `json:"scale"`
	Confidence float32 `json:"confidence"`
	Reason     string  `json:"reason"`
}

const classifierSystemPrompt = "You read short conversations between a user and MindEase, a mental wellness companion, and judge how the user feels right now.\nReturn exactly one JSON object with the fields: mood (one of happy/sad/angry/tired/stressed/neutral), scale (a number from 1 to 5), confidence (a number from 0 to 1) and reason (one short sentence). Output nothing else."

const classifierUserPrompt = "Recent conversation:\n{history}\n\nLatest user message:\n{message}\n\nAnswer with the JSON object."
