package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondSuccessAndError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondSuccess(rec, http.StatusCreated, "created", map[string]string{"session_id": "s1"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var env struct {
		Status  string            `json:"status"`
		Message string            `json:"message"`
		Data    map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "success", env.Status)
	assert.Equal(t, "s1", env.Data["session_id"])

	rec = httptest.NewRecorder()
	RespondError(rec, http.StatusNotFound, "session not found")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"status":"error","message":"session not found"}`, rec.Body.String())
}

func TestRespondJSONEncodeFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	// channel 无法编码，只记录日志，状态码已经写出
	assert.NotPanics(t, func() {
		RespondJSON(rec, http.StatusOK, map[string]any{"bad": make(chan int)})
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}
