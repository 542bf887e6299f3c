package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/mindease/client/internal/analysis/mood"
	"github.com/zhouzirui/mindease/client/internal/api"
	"github.com/zhouzirui/mindease/client/internal/audio"
	"github.com/zhouzirui/mindease/client/internal/chatlog"
	"github.com/zhouzirui/mindease/client/internal/kvstore"
	"github.com/zhouzirui/mindease/client/internal/model/chat"
	"github.com/zhouzirui/mindease/client/internal/playback"
)

var (
	ErrEmptyMessage = errors.New("chat: message is empty")
	ErrNoImage      = errors.New("chat: image is empty")
	ErrNoRecording  = errors.New("chat: message has no recording")
)

const (
	voicePlaceholder     = "Voice message sent 🎙️"
	imagePlaceholder     = "Image sent 📷"
	transcriptionFailed  = "Voice message (transcription failed)"
	noResourcesTitle     = "No resources available at the moment."
	apologyReply         = "I'm sorry, something went wrong while communicating with the server. I'm still here for you. Let's try again. What's on your mind?"
	imageReply           = "Thank you for sharing the image. I'm here for you. Would you like to talk more about what this means to you?"
	historyWindow        = 10
	defaultMoodLabel     = "Neutral 🙂"
	selfHelpHintTemplate = "\n\nWould you like to explore self-help resources for %s? Use /selfhelp to see them!"
)

// 后端无法转写时返回的占位文本前缀。
var transcriptionPlaceholders = []string{"[Transcription", "[Voice input"}

// Backend 是对话需要的后端接口，由 api.Client 实现。
type Backend interface {
	Analyze(ctx context.Context, req api.AnalyzeRequest) (api.Analysis, error)
	AnalyzeAudio(ctx context.Context, req api.AudioRequest) (api.Analysis, error)
	GetChats(ctx context.Context, sessionID string) ([]chat.Record, error)
	GetUser(ctx context.Context) (api.User, error)
	ClearChats(ctx context.Context, sessionID string) error
	FetchAudio(ctx context.Context, chatID string) ([]byte, error)
}

// Sessions 由 session.Coordinator 实现。
type Sessions interface {
	Ensure(ctx context.Context) (string, error)
	Require() (string, error)
	End(ctx context.Context) error
}

// Options 配置对话服务。
type Options struct {
	Language string
	Now      func() time.Time
	Location *time.Location
	Logger   zerolog.Logger
}

// SelfHelp 是最近一次分析给出的情绪与自助资源。
type SelfHelp struct {
	Mood      string
	Resources []chat.Resource
}

// Service 串起会话、聊天记录、后端分析与朗读。
type Service struct {
	backend  Backend
	sessions Sessions
	log      *chatlog.Log
	store    kvstore.Store
	player   *playback.Controller
	now      func() time.Time
	loc      *time.Location
	logger   zerolog.Logger

	mu       sync.RWMutex
	lang     string
	userName string
}

// NewService 组装对话流程，player 为 nil 时不朗读。
func NewService(backend Backend, sessions Sessions, log *chatlog.Log, store kvstore.Store, player *playback.Controller, opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	lang := opts.Language
	if lang == "" {
		lang = "en-US"
	}
	return &Service{
		backend:  backend,
		sessions: sessions,
		log:      log,
		store:    store,
		player:   player,
		now:      now,
		loc:      loc,
		lang:     lang,
		logger:   opts.Logger.With().Str("component", "chat").Logger(),
	}
}

// Bootstrap 确保会话存在，读取用户名并合并服务端聊天记录。
// 除未授权外的错误只记录日志，问候语退化为不带名字的版本。
func (s *Service) Bootstrap(ctx context.Context) error {
	user, err := s.backend.GetUser(ctx)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			return err
		}
		s.logger.Warn().Err(err).Msg("fetch user failed")
	} else {
		s.mu.Lock()
		s.userName = strings.TrimSpace(user.FullName)
		s.mu.Unlock()
	}

	sessionID, err := s.sessions.Ensure(ctx)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			return err
		}
		s.logger.Warn().Err(err).Msg("start session failed")
		return nil
	}

	records, err := s.backend.GetChats(ctx, sessionID)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			return err
		}
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("fetch chats failed")
		return nil
	}
	if len(records) == 0 {
		return nil
	}
	if err := s.log.Merge(chatlog.FromServerChats(records)); err != nil {
		return fmt.Errorf("merge server chats: %w", err)
	}
	return nil
}

// Greeting 返回按时段生成的问候语。
func (s *Service) Greeting(now time.Time) string {
	s.mu.RLock()
	name := s.userName
	s.mu.RUnlock()
	return Greeting(now.In(s.loc), name)
}

// Greeting 生成 "Good morning, Name." 形式的问候语。
func Greeting(now time.Time, name string) string {
	var part string
	switch hour := now.Hour(); {
	case hour < 12:
		part = "Good morning"
	case hour < 17:
		part = "Good afternoon"
	default:
		part = "Good evening"
	}
	if name == "" {
		return part + "."
	}
	return part + ", " + name + "."
}

// Messages 返回当前聊天记录快照。
func (s *Service) Messages() []chat.Message {
	return s.log.Messages()
}

// Groups 按日期分组当前聊天记录。
func (s *Service) Groups() []chatlog.Bucket {
	return chatlog.Group(s.log.Messages(), s.now(), s.loc)
}

// SendText 发送一条文字消息并追加助手回复。网络错误转为道歉回复，不向上返回。
func (s *Service) SendText(ctx context.Context, text string) (chat.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return chat.Message{}, ErrEmptyMessage
	}

	earlier := s.log.Messages()
	question, _, err := s.log.Append(chat.Message{Text: text, Sender: chat.SenderUser})
	if err != nil {
		return chat.Message{}, err
	}

	sessionID, err := s.sessions.Require()
	if err != nil {
		return s.apologize(ctx, err)
	}

	records, err := s.backend.GetChats(ctx, sessionID)
	if err != nil {
		return s.fail(ctx, err)
	}
	history := buildHistory(records, earlier)
	history = append(history, api.HistoryTurn{Role: "user", Content: text})

	analysis, err := s.backend.Analyze(ctx, api.AnalyzeRequest{
		SessionID:           sessionID,
		Message:             text,
		Language:            s.Language(),
		ConversationHistory: history,
	})
	if err != nil {
		return s.fail(ctx, err)
	}

	if analysis.ChatID != "" {
		if _, err := s.log.Update(question.ID, func(m *chat.Message) { m.RemoteID = analysis.ChatID }); err != nil {
			s.logger.Warn().Err(err).Msg("record chat id failed")
		}
	}

	s.remember(analysis)
	return s.reply(ctx, assistantTurn(analysis.Response, moodOrDefault(analysis.MoodLabel), analysis.ChatID))
}

// SendVoice 上传一段已通过校验的录音，并用转写结果更新占位消息。
func (s *Service) SendVoice(ctx context.Context, rec *audio.Recording) (chat.Message, error) {
	if rec == nil || len(rec.WAV) == 0 {
		return chat.Message{}, ErrEmptyMessage
	}

	placeholder, _, err := s.log.Append(chat.Message{
		Text:   voicePlaceholder,
		Sender: chat.SenderUser,
		Audio:  chat.LocalAudio(rec.WAV),
	})
	if err != nil {
		return chat.Message{}, err
	}

	sessionID, err := s.sessions.Require()
	if err != nil {
		return s.apologize(ctx, err)
	}

	analysis, err := s.backend.AnalyzeAudio(ctx, api.AudioRequest{
		SessionID: sessionID,
		WAV:       rec.WAV,
		Language:  s.Language(),
	})
	if err != nil {
		return s.fail(ctx, err)
	}

	transcript := analysis.Message
	if _, err := s.log.Update(placeholder.ID, func(m *chat.Message) {
		m.Transcript = transcript
		m.Text = voiceText(transcript)
		if analysis.ChatID != "" {
			m.RemoteID = analysis.ChatID
			// 内存中的录音保留到进程结束，落盘后只剩远端引用
			m.Audio = &chat.AudioRef{RemoteID: analysis.ChatID, Local: rec.WAV}
		}
	}); err != nil {
		s.logger.Warn().Err(err).Msg("update voice placeholder failed")
	}

	moodLabel := moodOrDefault(analysis.MoodLabel)
	response := analysis.Response
	if hasResources(analysis.SelfHelp) {
		response += fmt.Sprintf(selfHelpHintTemplate, moodLabel)
	}

	s.remember(analysis)
	return s.reply(ctx, assistantTurn(response, moodLabel, analysis.ChatID))
}

// SendImage 记录一张图片并给出固定的支持性回复，不调用后端。
func (s *Service) SendImage(ctx context.Context, imageRef string) (chat.Message, error) {
	imageRef = strings.TrimSpace(imageRef)
	if imageRef == "" {
		return chat.Message{}, ErrNoImage
	}
	if _, _, err := s.log.Append(chat.Message{Text: imagePlaceholder, Sender: chat.SenderUser, ImageRef: imageRef}); err != nil {
		return chat.Message{}, err
	}
	return s.reply(ctx, assistantTurn(imageReply, defaultMoodLabel, ""))
}

// ReportRecordingFailure 把录音校验失败转成一条助手提示。
func (s *Service) ReportRecordingFailure(err error) (chat.Message, error) {
	text := audio.Diagnostic(err)
	if text == "" {
		text = "Error processing audio. Please try again."
	}
	s.logger.Info().Err(err).Msg("recording failed")
	msg, _, err := s.log.Append(chat.Message{Text: text, Sender: chat.SenderAssistant, MoodLabel: defaultMoodLabel})
	return msg, err
}

// Speak 切换第 i 条消息的朗读状态。
func (s *Service) Speak(ctx context.Context, i int) (playback.State, error) {
	if s.player == nil {
		return playback.State{Kind: playback.Idle, Index: -1}, nil
	}
	msg, ok := s.log.At(i)
	if !ok {
		return s.player.State(), fmt.Errorf("speak message %d: %w", i, chatlog.ErrMessageNotFound)
	}
	moodLabel := msg.MoodLabel
	if moodLabel == "" {
		moodLabel = s.latestMood()
	}
	return s.player.Toggle(ctx, playback.Request{Index: i, Text: msg.Text, Mood: moodLabel, Lang: s.Language()})
}

// Recording 返回第 i 条语音消息的音频：优先用内存中的录音，否则按 chat id 从后端下载。
func (s *Service) Recording(ctx context.Context, i int) ([]byte, error) {
	msg, ok := s.log.At(i)
	if !ok {
		return nil, fmt.Errorf("recording %d: %w", i, chatlog.ErrMessageNotFound)
	}
	if msg.Audio == nil {
		return nil, ErrNoRecording
	}
	if msg.Audio.IsLocal() {
		return msg.Audio.Local, nil
	}
	chatID := msg.Audio.RemoteID
	if chatID == "" {
		chatID = msg.RemoteID
	}
	if chatID == "" {
		return nil, ErrNoRecording
	}
	data, err := s.backend.FetchAudio(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("fetch recording %s: %w", chatID, err)
	}
	return data, nil
}

// Language 返回当前语言。
func (s *Service) Language() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lang
}

// SetLanguage 切换语言；正在进行的朗读会被取消。
func (s *Service) SetLanguage(lang string) {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return
	}
	s.mu.Lock()
	s.lang = lang
	s.mu.Unlock()
	if s.player != nil {
		s.player.SetLanguage(lang)
	}
}

// SelfHelp 读取最近一次保存的情绪与资源。还没有分析结果时 Mood 为空。
func (s *Service) SelfHelp() SelfHelp {
	var out SelfHelp
	moodLabel, err := kvstore.GetString(s.store, kvstore.KeyLatestMood)
	if err != nil {
		s.logger.Warn().Err(err).Msg("read latest mood failed")
	}
	out.Mood = moodLabel
	if err := kvstore.GetJSON(s.store, kvstore.KeySelfHelpResource, &out.Resources); err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		s.logger.Warn().Err(err).Msg("read self-help resources failed")
	}
	return out
}

// Clear 清空本地记录并尽力清除服务端记录。
func (s *Service) Clear(ctx context.Context) error {
	if s.player != nil {
		s.player.Stop()
	}
	if err := s.log.Clear(); err != nil {
		return err
	}

	sessionID, err := s.sessions.Require()
	if err != nil {
		return nil
	}
	if err := s.backend.ClearChats(ctx, sessionID); err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			return err
		}
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("clear server chats failed")
	}
	return nil
}

// Logout 结束会话并删除所有本地持久化数据。
func (s *Service) Logout(ctx context.Context) error {
	if s.player != nil {
		s.player.Stop()
	}
	endErr := s.sessions.End(ctx)
	if endErr != nil {
		s.logger.Warn().Err(endErr).Msg("end session failed")
	}
	if err := s.log.Clear(); err != nil {
		return err
	}
	if err := kvstore.RemoveAll(s.store, kvstore.Keys...); err != nil {
		return fmt.Errorf("remove persisted state: %w", err)
	}
	s.mu.Lock()
	s.userName = ""
	s.mu.Unlock()
	return nil
}

// fail 处理一次发送失败：未授权直接返回，其余转成道歉回复。
func (s *Service) fail(ctx context.Context, err error) (chat.Message, error) {
	if errors.Is(err, api.ErrUnauthorized) {
		return chat.Message{}, err
	}
	return s.apologize(ctx, err)
}

func (s *Service) apologize(ctx context.Context, cause error) (chat.Message, error) {
	s.logger.Warn().Err(cause).Msg("analyze failed")
	return s.reply(ctx, assistantTurn(apologyReply, defaultMoodLabel, ""))
}

func assistantTurn(text, moodLabel, remoteID string) chat.Message {
	return chat.Message{Text: text, Sender: chat.SenderAssistant, MoodLabel: moodLabel, RemoteID: remoteID}
}

// reply 追加一条助手消息并开始朗读。
func (s *Service) reply(ctx context.Context, turn chat.Message) (chat.Message, error) {
	msg, index, err := s.log.Append(turn)
	if err != nil {
		return chat.Message{}, err
	}
	if s.player != nil {
		if _, err := s.player.Toggle(ctx, playback.Request{Index: index, Text: msg.Text, Mood: msg.MoodLabel, Lang: s.Language()}); err != nil {
			s.logger.Warn().Err(err).Int("index", index).Msg("narration failed")
		}
	}
	return msg, nil
}

func (s *Service) remember(analysis api.Analysis) {
	if err := s.store.Set(kvstore.KeyLatestMood, moodOrDefault(analysis.MoodLabel)); err != nil {
		s.logger.Warn().Err(err).Msg("persist latest mood failed")
	}
	resources := analysis.SelfHelp
	if resources == nil {
		resources = []chat.Resource{}
	}
	if err := kvstore.SetJSON(s.store, kvstore.KeySelfHelpResource, resources); err != nil {
		s.logger.Warn().Err(err).Msg("persist self-help resources failed")
	}
}

func (s *Service) latestMood() string {
	value, err := kvstore.GetString(s.store, kvstore.KeyLatestMood)
	if err != nil || value == "" {
		return defaultMoodLabel
	}
	return value
}

// buildHistory 合并服务端记录与本地文字消息，保留最近 historyWindow 条。
func buildHistory(records []chat.Record, local []chat.Message) []api.HistoryTurn {
	turns := make([]api.HistoryTurn, 0, len(records)*2+len(local)+1)
	for _, r := range records {
		turns = append(turns,
			api.HistoryTurn{Role: "user", Content: r.Message},
			api.HistoryTurn{Role: "assistant", Content: r.Response},
		)
	}
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		seen[r.ChatID] = true
	}
	for _, m := range local {
		// 已随服务端记录出现过的消息不再重复
		if !m.IsText() || (m.RemoteID != "" && seen[m.RemoteID]) {
			continue
		}
		role := "assistant"
		if m.Sender == chat.SenderUser {
			role = "user"
		}
		turns = append(turns, api.HistoryTurn{Role: role, Content: m.Text})
	}
	if len(turns) > historyWindow {
		turns = turns[len(turns)-historyWindow:]
	}
	return turns
}

func voiceText(transcript string) string {
	for _, prefix := range transcriptionPlaceholders {
		if strings.Contains(transcript, prefix) {
			return transcriptionFailed
		}
	}
	return "Voice message: " + transcript
}

func hasResources(resources []chat.Resource) bool {
	return len(resources) > 0 && resources[0].Title != noResourcesTitle
}

func moodOrDefault(label string) string {
	if strings.TrimSpace(label) == "" {
		return defaultMoodLabel
	}
	return label
}

// MoodDisplay 把后端返回的标签规范成带表情的展示形式。
func MoodDisplay(label string) string {
	return mood.ParseLabel(label).Display()
}
