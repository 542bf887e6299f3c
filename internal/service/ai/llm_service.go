package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	analysis "github.com/zhouzirui/mindease/client/internal/analysis/mood"
	"github.com/zhouzirui/mindease/client/internal/api"
	moodservice "github.com/zhouzirui/mindease/client/internal/service/mood"
)

const historyLimit = 10

// Service 生成陪伴式回复。没有可用模型时使用按情绪预设的回复。
type Service struct {
	chain compose.Runnable[map[string]any, *schema.Message]
	log   zerolog.Logger
}

// NewService 创建回复服务，chatModel 可以为 nil。
func NewService(ctx context.Context, chatModel model.BaseChatModel, logger zerolog.Logger) (*Service, error) {
	svc := &Service{log: logger}
	if chatModel == nil {
		return svc, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}
	svc.chain = runnable
	return svc, nil
}

// LLMEnabled 指示是否由大模型生成回复。
func (s *Service) LLMEnabled() bool {
	return s != nil && s.chain != nil
}

// Reply 为一轮用户发言生成回复。
func (s *Service) Reply(ctx context.Context, history []api.HistoryTurn, message string, assessment moodservice.Assessment) (string, error) {
	label := assessment.Decision.Label
	if !s.LLMEnabled() {
		return CannedReply(label), nil
	}

	input := map[string]any{
		"system":  buildSystemPrompt(assessment),
		"history": buildHistoryMessages(history),
		"query":   message,
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}
	content := strings.TrimSpace(response.Content)
	if content == "" {
		return CannedReply(label), nil
	}

	s.log.Debug().Str("mood", string(label)).Int("length", len(content)).Msg("generated response")
	return content, nil
}

func buildSystemPrompt(assessment moodservice.Assessment) string {
	var builder strings.Builder
	builder.WriteString(companionPrompt)

	label := assessment.Decision.Label
	if label == "" {
		return builder.String()
	}
	builder.WriteString("\n\nThe user's current mood: ")
	builder.WriteString(string(label))
	builder.WriteString(fmt.Sprintf(" (intensity about %.1f of 5).", assessment.Decision.Scale))
	if guidance := moodGuidance[label]; guidance != "" {
		builder.WriteString("\n")
		builder.WriteString(guidance)
	}
	if assessment.Reason != "" && assessment.Source == moodservice.SourceLLM {
		builder.WriteString("\nWhy we think so: ")
		builder.WriteString(assessment.Reason)
	}
	return builder.String()
}

// buildHistoryMessages 只保留最近的 historyLimit 条。
func buildHistoryMessages(turns []api.HistoryTurn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	start := 0
	if len(turns) > historyLimit {
		start = len(turns) - historyLimit
	}

	history := make([]*schema.Message, 0, len(turns)-start)
	for _, turn := range turns[start:] {
		text := strings.TrimSpace(turn.Content)
		if text == "" {
			continue
		}
		switch strings.ToLower(turn.Role) {
		case "user":
			history = append(history, schema.UserMessage(text))
		case "assistant", "bot":
			history = append(history, schema.AssistantMessage(text, nil))
		}
	}
	return history
}

// CannedReply 返回某个情绪对应的预设回复。
func CannedReply(label analysis.Label) string {
	if reply, ok := cannedReplies[label]; ok {
		return reply
	}
	return cannedReplies[analysis.Neutral]
}

const companionPrompt = `You are MindEase, a warm and patient mental wellness companion.
Listen first, reflect what the user says in your own words and keep answers short (two to four sentences).
Offer one gentle, practical suggestion when it fits. Never diagnose, never prescribe medication.
If the user mentions self-harm or danger, encourage them to contact local emergency services or a crisis line right away.`

var moodGuidance = map[analysis.Label]string{
	analysis.Happy:    "Share their good energy and invite them to savour what went well.",
	analysis.Sad:      "Be soft and validating. Let them know it is okay to feel this way.",
	analysis.Angry:    "Stay calm and steady. Acknowledge the frustration before suggesting anything.",
	analysis.Tired:    "Keep it brief and gentle. Rest is a valid suggestion.",
	analysis.Stressed: "Help them slow down. A breathing exercise or breaking things into small steps can help.",
	analysis.Neutral:  "Be friendly and curious about how their day is going.",
}

var cannedReplies = map[analysis.Label]string{
	analysis.Happy:    "That's wonderful to hear! What made today feel so good?",
	analysis.Sad:      "I'm sorry you're feeling this way. I'm here with you. Would you like to talk about what's weighing on you?",
	analysis.Angry:    "It sounds like something really got to you. Take a slow breath with me, then tell me what happened.",
	analysis.Tired:    "You sound worn out. Be gentle with yourself, a short rest might help more than you expect.",
	analysis.Stressed: "That sounds like a lot to carry. Let's take it one step at a time. What feels most urgent right now?",
	analysis.Neutral:  "Thanks for sharing. How are you feeling right now?",
}
