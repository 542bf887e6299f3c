package chatlog

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/mindease/client/internal/kvstore"
	"github.com/zhouzirui/mindease/client/internal/model/chat"
)

var base = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return base }

func openLog(t *testing.T, store kvstore.Store, policy MergeKey) *Log {
	t.Helper()
	l, err := Open(store, Options{Policy: policy, Now: fixedNow, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return l
}

func TestAppendPersistsAndReloads(t *testing.T) {
	store := kvstore.NewMemory()
	l := openLog(t, store, MergeKeyTextSenderTimestamp)

	first, _, err := l.Append(chat.Message{Text: "hello", Sender: chat.SenderUser, Timestamp: base})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	_, _, err = l.Append(chat.Message{
		Text:      "Voice message sent 🎙️",
		Sender:    chat.SenderUser,
		Timestamp: base.Add(time.Second),
		Audio:     chat.LocalAudio([]byte("RIFF....")),
	})
	require.NoError(t, err)

	reloaded := openLog(t, store, MergeKeyTextSenderTimestamp)
	got := reloaded.Messages()
	require.Len(t, got, 2)
	assert.Equal(t, "hello", got[0].Text)
	assert.True(t, got[0].Timestamp.Equal(base))
	assert.Equal(t, first.ID, got[0].ID)

	// 本地录音不落盘
	require.NotNil(t, got[1].Audio)
	assert.Empty(t, got[1].Audio.Local)
	assert.False(t, got[1].Audio.IsLocal())
}

func TestOpenNormalizesLegacyRecords(t *testing.T) {
	store := kvstore.NewMemory()
	require.NoError(t, store.Set(kvstore.KeyChatMessages, `[{"text":"hi","sender":"bot"}]`))

	l := openLog(t, store, MergeKeyTextSenderTimestamp)
	got := l.Messages()
	require.Len(t, got, 1)
	assert.Equal(t, chat.SenderAssistant, got[0].Sender)
	assert.True(t, got[0].Timestamp.Equal(base))
	assert.NotEmpty(t, got[0].ID)
}

func TestOpenIgnoresCorruptValue(t *testing.T) {
	store := kvstore.NewMemory()
	require.NoError(t, store.Set(kvstore.KeyChatMessages, `{not json`))

	l := openLog(t, store, MergeKeyTextSenderTimestamp)
	assert.Zero(t, l.Len())
}

func TestUpdateKeepsIdentity(t *testing.T) {
	l := openLog(t, kvstore.NewMemory(), MergeKeyTextSenderTimestamp)
	msg, _, err := l.Append(chat.Message{Text: "Voice message sent 🎙️", Sender: chat.SenderUser})
	require.NoError(t, err)

	updated, err := l.Update(msg.ID, func(m *chat.Message) {
		m.Text = "Voice message: hello"
		m.Timestamp = time.Time{}
	})
	require.NoError(t, err)
	assert.Equal(t, "Voice message: hello", updated.Text)
	assert.True(t, updated.Timestamp.Equal(msg.Timestamp))

	_, err = l.Update("missing", func(*chat.Message) {})
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestMergeIsIdempotent(t *testing.T) {
	l := openLog(t, kvstore.NewMemory(), MergeKeyTextSenderTimestamp)
	_, _, err := l.Append(chat.Message{Text: "local only", Sender: chat.SenderUser, Timestamp: base.Add(5 * time.Minute)})
	require.NoError(t, err)
	_, _, err = l.Append(chat.Message{Text: "hi", Sender: chat.SenderUser, Timestamp: base})
	require.NoError(t, err)

	server := FromServerChats([]chat.Record{{
		ChatID:    "c1",
		Message:   "hi",
		Response:  "Hello! How are you feeling?",
		MoodLabel: "Neutral 🙂",
		Timestamp: base,
	}})

	require.NoError(t, l.Merge(server))
	once := l.Messages()
	require.NoError(t, l.Merge(server))
	twice := l.Messages()

	require.Len(t, once, 3)
	assert.Equal(t, once, twice)

	assert.Equal(t, "hi", once[0].Text)
	assert.Equal(t, "c1", once[0].RemoteID)
	assert.Equal(t, "Hello! How are you feeling?", once[1].Text)
	assert.Equal(t, "local only", once[2].Text)
}

func TestMergeServerWithoutTimestampMatchesTextAndSender(t *testing.T) {
	l := openLog(t, kvstore.NewMemory(), MergeKeyTextSenderTimestamp)
	local, _, err := l.Append(chat.Message{Text: "hi", Sender: chat.SenderUser, Timestamp: base.Add(-time.Hour)})
	require.NoError(t, err)

	require.NoError(t, l.Merge([]chat.Message{{Text: "hi", Sender: chat.SenderUser, RemoteID: "c9"}}))
	got := l.Messages()
	require.Len(t, got, 1)
	assert.Equal(t, local.ID, got[0].ID)
	assert.Equal(t, "c9", got[0].RemoteID)
	assert.True(t, got[0].Timestamp.Equal(local.Timestamp))
}

func TestMergeServerMetadataWins(t *testing.T) {
	l := openLog(t, kvstore.NewMemory(), MergeKeyTextSender)
	_, _, err := l.Append(chat.Message{
		Text:      "Voice message: hello",
		Sender:    chat.SenderUser,
		Timestamp: base,
		Audio:     chat.LocalAudio([]byte("wav")),
	})
	require.NoError(t, err)

	require.NoError(t, l.Merge([]chat.Message{{
		Text:      "Voice message: hello",
		Sender:    chat.SenderUser,
		Timestamp: base.Add(time.Second),
		Audio:     chat.RemoteAudio("c3"),
		RemoteID:  "c3",
	}}))

	got := l.Messages()
	require.Len(t, got, 1)
	assert.Equal(t, "c3", got[0].RemoteID)
	require.NotNil(t, got[0].Audio)
	assert.Equal(t, "c3", got[0].Audio.RemoteID)
	assert.Nil(t, got[0].Audio.Local)
}

func TestMergeMatchesRemoteIDFirst(t *testing.T) {
	l := openLog(t, kvstore.NewMemory(), MergeKeyTextSenderTimestamp)
	question, _, err := l.Append(chat.Message{Text: "I feel great", Sender: chat.SenderUser, Timestamp: base, RemoteID: "c1"})
	require.NoError(t, err)
	answer, _, err := l.Append(chat.Message{Text: "Glad to hear it", Sender: chat.SenderAssistant, Timestamp: base, RemoteID: "c1"})
	require.NoError(t, err)

	// 服务端时间与本地时钟不同
	server := FromServerChats([]chat.Record{{
		ChatID:    "c1",
		Message:   "I feel great",
		Response:  "Glad to hear it",
		MoodLabel: "Happy 😊",
		Timestamp: base.Add(3 * time.Second),
	}})
	require.NoError(t, l.Merge(server))
	require.NoError(t, l.Merge(server))

	got := l.Messages()
	require.Len(t, got, 2)
	assert.Equal(t, question.ID, got[0].ID)
	assert.Equal(t, answer.ID, got[1].ID)
	assert.Equal(t, "Happy 😊", got[1].MoodLabel)
}

func TestMergeDoesNotPairDifferentRemoteIDs(t *testing.T) {
	l := openLog(t, kvstore.NewMemory(), MergeKeyTextSender)
	_, _, err := l.Append(chat.Message{Text: "hi", Sender: chat.SenderUser, Timestamp: base, RemoteID: "c1"})
	require.NoError(t, err)

	require.NoError(t, l.Merge([]chat.Message{{Text: "hi", Sender: chat.SenderUser, Timestamp: base.Add(time.Minute), RemoteID: "c2"}}))
	assert.Equal(t, 2, l.Len())
}

func TestAppendReturnsIndex(t *testing.T) {
	l := openLog(t, kvstore.NewMemory(), MergeKeyTextSenderTimestamp)
	_, first, err := l.Append(chat.Message{Text: "a", Sender: chat.SenderUser})
	require.NoError(t, err)
	_, second, err := l.Append(chat.Message{Text: "b", Sender: chat.SenderAssistant})
	require.NoError(t, err)

	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
	msg, ok := l.At(second)
	require.True(t, ok)
	assert.Equal(t, "b", msg.Text)
}

func TestMergeSortsStablyByTimestamp(t *testing.T) {
	l := openLog(t, kvstore.NewMemory(), MergeKeyTextSenderTimestamp)
	_, _, err := l.Append(chat.Message{Text: "b", Sender: chat.SenderUser, Timestamp: base.Add(2 * time.Minute)})
	require.NoError(t, err)

	require.NoError(t, l.Merge([]chat.Message{
		{Text: "a1", Sender: chat.SenderUser, Timestamp: base},
		{Text: "a2", Sender: chat.SenderAssistant, Timestamp: base},
	}))

	var texts []string
	for _, m := range l.Messages() {
		texts = append(texts, m.Text)
	}
	assert.Equal(t, []string{"a1", "a2", "b"}, texts)
}

func TestClearRemovesKey(t *testing.T) {
	store := kvstore.NewMemory()
	l := openLog(t, store, MergeKeyTextSenderTimestamp)
	_, _, err := l.Append(chat.Message{Text: "hi", Sender: chat.SenderUser})
	require.NoError(t, err)

	require.NoError(t, l.Clear())
	assert.Zero(t, l.Len())
	_, err = store.Get(kvstore.KeyChatMessages)
	assert.ErrorIs(t, err, kvstore.ErrNotFound)
}

func TestParseMergeKey(t *testing.T) {
	assert.Equal(t, MergeKeyTextSender, ParseMergeKey("text-sender"))
	assert.Equal(t, MergeKeyTextSenderTimestamp, ParseMergeKey("text-sender-timestamp"))
	assert.Equal(t, MergeKeyTextSenderTimestamp, ParseMergeKey(""))
}
