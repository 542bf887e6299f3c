package companion

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	analysis "github.com/zhouzirui/mindease/client/internal/analysis/mood"
	"github.com/zhouzirui/mindease/client/internal/api"
	"github.com/zhouzirui/mindease/client/internal/model/chat"
	"github.com/zhouzirui/mindease/client/internal/service/ai"
	moodservice "github.com/zhouzirui/mindease/client/internal/service/mood"
	"github.com/zhouzirui/mindease/client/internal/service/speech"
)

// TranscriptionUnavailable 是无法转写录音时返回的占位文本。
const TranscriptionUnavailable = "[Transcription unavailable]"

const retryVoiceReply = "I couldn't quite catch that. Could you try recording again, or type your message instead?"

// Classifier 判断一轮输入的情绪。
type Classifier interface {
	Classify(ctx context.Context, history []api.HistoryTurn, message string) moodservice.Assessment
}

// Responder 生成陪伴式回复。
type Responder interface {
	Reply(ctx context.Context, history []api.HistoryTurn, message string, assessment moodservice.Assessment) (string, error)
}

// Transcriber 把 WAV 录音转成文字。
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte, language string) (*speech.Transcription, error)
}

// Service 处理 /analyze：分类情绪、生成回复、推荐资源并保存记录。
type Service struct {
	store       *Store
	classifier  Classifier
	responder   Responder
	transcriber Transcriber
	log         zerolog.Logger
}

// NewService 组装分析流程，transcriber 可以为 nil。
func NewService(store *Store, classifier Classifier, responder Responder, transcriber Transcriber, logger zerolog.Logger) *Service {
	return &Service{
		store:       store,
		classifier:  classifier,
		responder:   responder,
		transcriber: transcriber,
		log:         logger.With().Str("component", "companion").Logger(),
	}
}

// Store 返回底层存储。
func (s *Service) Store() *Store {
	return s.store
}

// Analyze 处理一条文字消息。
func (s *Service) Analyze(ctx context.Context, userID string, req api.AnalyzeRequest) (api.Analysis, error) {
	message := strings.TrimSpace(req.Message)
	if req.SessionID == "" || message == "" {
		return api.Analysis{}, ErrMissingField
	}
	if _, err := s.store.Chats(userID, req.SessionID); err != nil {
		return api.Analysis{}, err
	}

	assessment := s.classifier.Classify(ctx, req.ConversationHistory, message)
	response := s.reply(ctx, req.ConversationHistory, message, assessment)
	return s.save(userID, chat.Record{SessionID: req.SessionID, Message: message, Response: response}, assessment)
}

// AnalyzeAudio 转写录音后按文字消息处理；无法转写时返回占位文本。
func (s *Service) AnalyzeAudio(ctx context.Context, userID string, req api.AudioRequest) (api.Analysis, error) {
	if req.SessionID == "" || len(req.WAV) == 0 {
		return api.Analysis{}, ErrMissingField
	}
	if _, err := s.store.Chats(userID, req.SessionID); err != nil {
		return api.Analysis{}, err
	}

	transcript := s.transcribe(ctx, req.WAV, req.Language)
	record := chat.Record{SessionID: req.SessionID, Message: transcript, Audio: req.WAV}

	if transcript == TranscriptionUnavailable {
		assessment := moodservice.Assessment{
			Decision: analysis.Decision{Label: analysis.Neutral, Scale: 3},
			Source:   moodservice.SourceHeuristic,
		}
		record.Response = retryVoiceReply
		return s.save(userID, record, assessment)
	}

	assessment := s.classifier.Classify(ctx, req.ConversationHistory, transcript)
	record.Response = s.reply(ctx, req.ConversationHistory, transcript, assessment)
	return s.save(userID, record, assessment)
}

func (s *Service) transcribe(ctx context.Context, wav []byte, language string) string {
	if s.transcriber == nil {
		return TranscriptionUnavailable
	}
	out, err := s.transcriber.Transcribe(ctx, wav, language)
	if err != nil {
		s.log.Warn().Err(err).Msg("transcription failed")
		return TranscriptionUnavailable
	}
	if out == nil || strings.TrimSpace(out.Text) == "" {
		return TranscriptionUnavailable
	}
	return strings.TrimSpace(out.Text)
}

// reply 在模型失败时退回预设回复，保证对话不中断。
func (s *Service) reply(ctx context.Context, history []api.HistoryTurn, message string, assessment moodservice.Assessment) string {
	response, err := s.responder.Reply(ctx, history, message, assessment)
	if err != nil {
		s.log.Warn().Err(err).Msg("reply generation failed, use canned reply")
		return ai.CannedReply(assessment.Decision.Label)
	}
	return response
}

func (s *Service) save(userID string, record chat.Record, assessment moodservice.Assessment) (api.Analysis, error) {
	label := assessment.Decision.Label
	if label == "" {
		label = analysis.Neutral
	}
	record.MoodLabel = label.Display()

	saved, err := s.store.SaveChat(userID, record)
	if err != nil {
		return api.Analysis{}, err
	}
	s.log.Debug().
		Str("session_id", saved.SessionID).
		Str("mood", string(label)).
		Str("source", assessment.Source).
		Msg("analyzed")

	return api.Analysis{
		ChatID:    saved.ChatID,
		Message:   saved.Message,
		Response:  saved.Response,
		MoodLabel: saved.MoodLabel,
		SelfHelp:  Resources(label),
	}, nil
}
