package chat_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/mindease/client/internal/api"
	"github.com/zhouzirui/mindease/client/internal/audio"
	"github.com/zhouzirui/mindease/client/internal/chatlog"
	"github.com/zhouzirui/mindease/client/internal/kvstore"
	"github.com/zhouzirui/mindease/client/internal/model/chat"
	"github.com/zhouzirui/mindease/client/internal/playback"
	chatservice "github.com/zhouzirui/mindease/client/internal/service/chat"
	"github.com/zhouzirui/mindease/client/internal/session"
)

var now = time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC)

type fakeBackend struct {
	user       api.User
	userErr    error
	chats      []chat.Record
	chatsErr   error
	analysis   api.Analysis
	analyzeErr error
	clearErr   error
	audio      map[string][]byte

	analyzeCalls []api.AnalyzeRequest
	audioCalls   []api.AudioRequest
	cleared      []string
	started      int
	ended        []string
}

func (f *fakeBackend) Analyze(_ context.Context, req api.AnalyzeRequest) (api.Analysis, error) {
	f.analyzeCalls = append(f.analyzeCalls, req)
	return f.analysis, f.analyzeErr
}

func (f *fakeBackend) AnalyzeAudio(_ context.Context, req api.AudioRequest) (api.Analysis, error) {
	f.audioCalls = append(f.audioCalls, req)
	return f.analysis, f.analyzeErr
}

func (f *fakeBackend) GetChats(context.Context, string) ([]chat.Record, error) {
	return f.chats, f.chatsErr
}

func (f *fakeBackend) GetUser(context.Context) (api.User, error) {
	return f.user, f.userErr
}

func (f *fakeBackend) ClearChats(_ context.Context, id string) error {
	f.cleared = append(f.cleared, id)
	return f.clearErr
}

func (f *fakeBackend) FetchAudio(_ context.Context, chatID string) ([]byte, error) {
	data, ok := f.audio[chatID]
	if !ok {
		return nil, &api.StatusError{Status: 404, Message: "audio not found"}
	}
	return data, nil
}

func (f *fakeBackend) StartSession(context.Context) (string, error) {
	f.started++
	return "sess-1", nil
}

func (f *fakeBackend) EndSession(_ context.Context, id string) error {
	f.ended = append(f.ended, id)
	return nil
}

type fixture struct {
	backend *fakeBackend
	store   *kvstore.Memory
	log     *chatlog.Log
	player  *playback.Controller
	svc     *chatservice.Service
}

func newFixture(t *testing.T, withSession bool) *fixture {
	t.Helper()
	backend := &fakeBackend{}
	store := kvstore.NewMemory()
	if withSession {
		require.NoError(t, store.Set(kvstore.KeySessionID, "sess-1"))
	}
	log, err := chatlog.Open(store, chatlog.Options{Now: func() time.Time { return now }, Logger: zerolog.Nop()})
	require.NoError(t, err)

	engine := &playback.TextEngine{Out: &bytes.Buffer{}, PerWord: time.Hour}
	player := playback.NewController(engine, "en-US", zerolog.Nop())
	coordinator := session.NewCoordinator(backend, store, zerolog.Nop())

	svc := chatservice.NewService(backend, coordinator, log, store, player, chatservice.Options{
		Now:      func() time.Time { return now },
		Location: time.UTC,
		Logger:   zerolog.Nop(),
	})
	t.Cleanup(player.Stop)
	return &fixture{backend: backend, store: store, log: log, player: player, svc: svc}
}

func TestSendTextAppendsAssistantTurnWithMood(t *testing.T) {
	f := newFixture(t, true)
	f.backend.analysis = api.Analysis{
		Message:   "I feel great",
		Response:  "That's wonderful!",
		MoodLabel: "Happy 😊",
		SelfHelp:  []chat.Resource{{Title: "Gratitude journal", Link: "https://example.org/gratitude"}},
	}

	reply, err := f.svc.SendText(context.Background(), "I feel great")
	require.NoError(t, err)

	messages := f.svc.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, chat.SenderUser, messages[0].Sender)
	assert.Equal(t, "I feel great", messages[0].Text)
	assert.Equal(t, chat.SenderAssistant, messages[1].Sender)
	assert.Equal(t, "Happy 😊", messages[1].MoodLabel)
	assert.Equal(t, reply.ID, messages[1].ID)

	mood, err := kvstore.GetString(f.store, kvstore.KeyLatestMood)
	require.NoError(t, err)
	assert.Equal(t, "Happy 😊", mood)

	help := f.svc.SelfHelp()
	assert.Equal(t, "Happy 😊", help.Mood)
	require.Len(t, help.Resources, 1)
	assert.Equal(t, "Gratitude journal", help.Resources[0].Title)

	assert.Equal(t, playback.State{Kind: playback.Speaking, Index: 1}, f.player.State())
}

func TestSendTextRecordsChatID(t *testing.T) {
	f := newFixture(t, true)
	f.backend.analysis = api.Analysis{ChatID: "c-7", Response: "Glad to hear it", MoodLabel: "Happy 😊"}

	_, err := f.svc.SendText(context.Background(), "I feel great")
	require.NoError(t, err)

	messages := f.svc.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "c-7", messages[0].RemoteID)
	assert.Equal(t, "c-7", messages[1].RemoteID)

	// 服务端时间戳与本地不同，重新加载后也不会重复
	f.backend.chats = []chat.Record{{
		ChatID:    "c-7",
		Message:   "I feel great",
		Response:  "Glad to hear it",
		MoodLabel: "Happy 😊",
		Timestamp: now.Add(2 * time.Second),
	}}
	require.NoError(t, f.svc.Bootstrap(context.Background()))
	assert.Len(t, f.svc.Messages(), 2)

	f.backend.analysis = api.Analysis{ChatID: "c-8", Response: "Tell me more", MoodLabel: "Happy 😊"}
	_, err = f.svc.SendText(context.Background(), "I feel great")
	require.NoError(t, err)
	assert.Len(t, f.svc.Messages(), 4)

	// 已在服务端记录里的本地消息不会再次进入上下文
	history := f.backend.analyzeCalls[1].ConversationHistory
	assert.Equal(t, []api.HistoryTurn{
		{Role: "user", Content: "I feel great"},
		{Role: "assistant", Content: "Glad to hear it"},
		{Role: "user", Content: "I feel great"},
	}, history)
}

func TestSelfHelpWithoutAnalysis(t *testing.T) {
	f := newFixture(t, true)
	help := f.svc.SelfHelp()
	assert.Empty(t, help.Mood)
	assert.Empty(t, help.Resources)
}

func TestSendTextBuildsHistoryWindow(t *testing.T) {
	f := newFixture(t, true)
	f.backend.analysis = api.Analysis{Response: "ok", MoodLabel: "Neutral 🙂"}
	for i := 0; i < 6; i++ {
		f.backend.chats = append(f.backend.chats, chat.Record{Message: "old question", Response: "old answer"})
	}
	_, _, err := f.log.Append(chat.Message{Text: "local", Sender: chat.SenderUser})
	require.NoError(t, err)
	_, _, err = f.log.Append(chat.Message{Text: "Image sent 📷", Sender: chat.SenderUser, ImageRef: "photo.png"})
	require.NoError(t, err)

	_, err = f.svc.SendText(context.Background(), "new turn")
	require.NoError(t, err)

	require.Len(t, f.backend.analyzeCalls, 1)
	req := f.backend.analyzeCalls[0]
	assert.Equal(t, "sess-1", req.SessionID)
	assert.Equal(t, "en-US", req.Language)
	require.Len(t, req.ConversationHistory, 11)
	assert.Equal(t, api.HistoryTurn{Role: "user", Content: "local"}, req.ConversationHistory[9])
	assert.Equal(t, api.HistoryTurn{Role: "user", Content: "new turn"}, req.ConversationHistory[10])
}

func TestSendTextAnalyzeFailureAppendsApology(t *testing.T) {
	f := newFixture(t, true)
	f.backend.analyzeErr = &api.NetworkError{Op: "analyze", Err: errors.New("connection refused")}

	reply, err := f.svc.SendText(context.Background(), "hello?")
	require.NoError(t, err)

	messages := f.svc.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "hello?", messages[0].Text)
	assert.Equal(t, chat.SenderUser, messages[0].Sender)
	assert.Equal(t, chat.SenderAssistant, reply.Sender)
	assert.Contains(t, reply.Text, "something went wrong")
	assert.Equal(t, "Neutral 🙂", reply.MoodLabel)
}

func TestSendTextWithoutSessionApologizes(t *testing.T) {
	f := newFixture(t, false)

	reply, err := f.svc.SendText(context.Background(), "anyone there")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "something went wrong")
	assert.Empty(t, f.backend.analyzeCalls)
}

func TestSendTextUnauthorizedIsReturned(t *testing.T) {
	f := newFixture(t, true)
	f.backend.chatsErr = api.ErrUnauthorized

	_, err := f.svc.SendText(context.Background(), "hello")
	require.ErrorIs(t, err, api.ErrUnauthorized)
	assert.Len(t, f.svc.Messages(), 1)
}

func TestSendTextRejectsEmpty(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.svc.SendText(context.Background(), "   ")
	require.ErrorIs(t, err, chatservice.ErrEmptyMessage)
	assert.Empty(t, f.svc.Messages())
}

func TestSendVoiceUpdatesPlaceholder(t *testing.T) {
	tests := []struct {
		name       string
		transcript string
		want       string
	}{
		{name: "transcribed", transcript: "I am tired", want: "Voice message: I am tired"},
		{name: "transcription placeholder", transcript: "[Transcription unavailable]", want: "Voice message (transcription failed)"},
		{name: "voice input placeholder", transcript: "[Voice input could not be processed]", want: "Voice message (transcription failed)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			f.backend.analysis = api.Analysis{
				ChatID:    "c-1",
				Message:   tt.transcript,
				Response:  "Rest well.",
				MoodLabel: "Tired 😴",
				SelfHelp:  []chat.Resource{{Title: "Sleep hygiene", Link: "https://example.org/sleep"}},
			}

			reply, err := f.svc.SendVoice(context.Background(), &audio.Recording{WAV: []byte("RIFF....WAVE")})
			require.NoError(t, err)

			messages := f.svc.Messages()
			require.Len(t, messages, 2)
			assert.Equal(t, tt.want, messages[0].Text)
			assert.Equal(t, tt.transcript, messages[0].Transcript)
			assert.Equal(t, "c-1", messages[0].RemoteID)
			assert.Contains(t, reply.Text, "Rest well.")
			assert.Contains(t, reply.Text, "self-help resources for Tired 😴")

			require.Len(t, f.backend.audioCalls, 1)
			assert.Equal(t, "sess-1", f.backend.audioCalls[0].SessionID)
		})
	}
}

func TestRecordingPrefersLocalThenFetches(t *testing.T) {
	f := newFixture(t, true)
	f.backend.analysis = api.Analysis{ChatID: "c-1", Message: "hello", Response: "Hi.", MoodLabel: "Neutral 🙂"}
	f.backend.audio = map[string][]byte{"c-1": []byte("remote wav")}

	_, err := f.svc.SendVoice(context.Background(), &audio.Recording{WAV: []byte("local wav")})
	require.NoError(t, err)

	data, err := f.svc.Recording(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("local wav"), data)

	// 重新打开记录后只剩远端引用
	reopened, err := chatlog.Open(f.store, chatlog.Options{Now: func() time.Time { return now }, Logger: zerolog.Nop()})
	require.NoError(t, err)
	coordinator := session.NewCoordinator(f.backend, f.store, zerolog.Nop())
	svc := chatservice.NewService(f.backend, coordinator, reopened, f.store, nil, chatservice.Options{Logger: zerolog.Nop()})

	data, err = svc.Recording(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("remote wav"), data)

	_, err = svc.Recording(context.Background(), 1)
	assert.ErrorIs(t, err, chatservice.ErrNoRecording)
	_, err = svc.Recording(context.Background(), 9)
	assert.ErrorIs(t, err, chatlog.ErrMessageNotFound)
}

func TestSendVoiceWithoutResourcesHasNoHint(t *testing.T) {
	f := newFixture(t, true)
	f.backend.analysis = api.Analysis{
		Message:   "fine",
		Response:  "Good to hear.",
		MoodLabel: "Neutral 🙂",
		SelfHelp:  []chat.Resource{{Title: "No resources available at the moment."}},
	}

	reply, err := f.svc.SendVoice(context.Background(), &audio.Recording{WAV: []byte("RIFF")})
	require.NoError(t, err)
	assert.Equal(t, "Good to hear.", reply.Text)
}

func TestSendImageUsesCannedReply(t *testing.T) {
	f := newFixture(t, true)

	reply, err := f.svc.SendImage(context.Background(), "/tmp/photo.png")
	require.NoError(t, err)

	messages := f.svc.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "Image sent 📷", messages[0].Text)
	assert.Equal(t, "/tmp/photo.png", messages[0].ImageRef)
	assert.Contains(t, reply.Text, "Thank you for sharing the image")
	assert.Empty(t, f.backend.analyzeCalls)
}

func TestReportRecordingFailure(t *testing.T) {
	f := newFixture(t, true)

	msg, err := f.svc.ReportRecordingFailure(&audio.ValidationError{Kind: audio.ErrTooShort})
	require.NoError(t, err)
	assert.Equal(t, chat.SenderAssistant, msg.Sender)
	assert.Equal(t, "Recording too short. Please record for at least 1 second.", msg.Text)
	assert.Empty(t, f.backend.audioCalls)
}

func TestBootstrapMergesServerChats(t *testing.T) {
	f := newFixture(t, false)
	f.backend.user = api.User{FullName: "Ada"}
	f.backend.chats = []chat.Record{{ChatID: "c-1", Message: "hi", Response: "hello", Timestamp: now.Add(-time.Hour)}}

	require.NoError(t, f.svc.Bootstrap(context.Background()))
	assert.Equal(t, 1, f.backend.started)
	assert.Len(t, f.svc.Messages(), 2)
	assert.Equal(t, "Good morning, Ada.", f.svc.Greeting(now))

	require.NoError(t, f.svc.Bootstrap(context.Background()))
	assert.Equal(t, 1, f.backend.started)
	assert.Len(t, f.svc.Messages(), 2)
}

func TestBootstrapDegradesGreeting(t *testing.T) {
	f := newFixture(t, true)
	f.backend.userErr = &api.NetworkError{Op: "get_user", Err: errors.New("timeout")}

	require.NoError(t, f.svc.Bootstrap(context.Background()))
	assert.Equal(t, "Good evening.", f.svc.Greeting(time.Date(2024, 5, 10, 19, 0, 0, 0, time.UTC)))
}

func TestGreeting(t *testing.T) {
	day := func(h int) time.Time { return time.Date(2024, 5, 10, h, 0, 0, 0, time.UTC) }
	assert.Equal(t, "Good morning, Sam.", chatservice.Greeting(day(0), "Sam"))
	assert.Equal(t, "Good morning.", chatservice.Greeting(day(11), ""))
	assert.Equal(t, "Good afternoon, Sam.", chatservice.Greeting(day(12), "Sam"))
	assert.Equal(t, "Good evening, Sam.", chatservice.Greeting(day(17), "Sam"))
}

func TestSpeakTogglesPause(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.svc.SendImage(context.Background(), "img.png")
	require.NoError(t, err)

	state, err := f.svc.Speak(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, playback.State{Kind: playback.Paused, Index: 1}, state)

	_, err = f.svc.Speak(context.Background(), 7)
	require.ErrorIs(t, err, chatlog.ErrMessageNotFound)
}

func TestSetLanguageStopsNarration(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.svc.SendImage(context.Background(), "img.png")
	require.NoError(t, err)

	f.svc.SetLanguage("hi-IN")
	assert.Equal(t, "hi-IN", f.svc.Language())
	assert.Equal(t, playback.Idle, f.player.State().Kind)
	assert.Equal(t, "hi-IN", f.player.Language())
}

func TestClearRemovesLocalAndServerChats(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.svc.SendImage(context.Background(), "img.png")
	require.NoError(t, err)

	require.NoError(t, f.svc.Clear(context.Background()))
	assert.Empty(t, f.svc.Messages())
	assert.Equal(t, []string{"sess-1"}, f.backend.cleared)
	_, err = f.store.Get(kvstore.KeyChatMessages)
	assert.ErrorIs(t, err, kvstore.ErrNotFound)
}

func TestLogoutRemovesPersistedState(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.store.Set(kvstore.KeyToken, "tok"))
	require.NoError(t, f.store.Set(kvstore.KeyLatestMood, "Sad 😔"))
	_, err := f.svc.SendImage(context.Background(), "img.png")
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(context.Background()))
	assert.Equal(t, []string{"sess-1"}, f.backend.ended)
	for _, key := range kvstore.Keys {
		_, err := f.store.Get(key)
		assert.ErrorIs(t, err, kvstore.ErrNotFound, key)
	}
	assert.Empty(t, f.svc.Messages())
}
