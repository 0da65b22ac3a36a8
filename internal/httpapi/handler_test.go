package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sandboxlabs/execcore/internal/config"
	"github.com/sandboxlabs/execcore/internal/jobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCfg() config.Config {
	var cfg config.Config
	cfg.Execution.MaxCodeBytes = 10 * 1024
	return cfg
}

func post(t *testing.T, h *Handler, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(b))
	rec := httptest.NewRecorder()

	mux := http.NewServeMux()
	h.Register(mux)
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandleCreate_Accepted(t *testing.T) {
	store := jobstore.NewMemoryStore(time.Hour, time.Minute)
	defer store.Close()

	h := NewHandler(store, testCfg())
	rec := post(t, h, createRequest{Language: "python", Code: `print("hi")`, Filename: "main.py"})

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp createResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.JobID)
	assert.NotEmpty(t, resp.JobToken)
	assert.NotEmpty(t, resp.ExpiresAt)
}

func TestHandleCreate_RejectsEmptySource(t *testing.T) {
	store := jobstore.NewMemoryStore(time.Hour, time.Minute)
	defer store.Close()

	h := NewHandler(store, testCfg())
	rec := post(t, h, createRequest{Language: "python", Code: "", Filename: "main.py"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCreate_RejectsOversizedSource(t *testing.T) {
	store := jobstore.NewMemoryStore(time.Hour, time.Minute)
	defer store.Close()

	big := make([]byte, 10*1024+1)
	h := NewHandler(store, testCfg())
	rec := post(t, h, createRequest{Language: "python", Code: string(big), Filename: "main.py"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCreate_RejectsBadFilenames(t *testing.T) {
	store := jobstore.NewMemoryStore(time.Hour, time.Minute)
	defer store.Close()
	h := NewHandler(store, testCfg())

	for _, filename := range []string{"../x", "/abs", "a b.py"} {
		rec := post(t, h, createRequest{Language: "python", Code: "print(1)", Filename: filename})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "filename %q should be rejected", filename)
	}
}

func TestHandleCreate_RejectsUnsupportedLanguage(t *testing.T) {
	store := jobstore.NewMemoryStore(time.Hour, time.Minute)
	defer store.Close()
	h := NewHandler(store, testCfg())

	rec := post(t, h, createRequest{Language: "cobol", Code: "DISPLAY 1", Filename: "main.cob"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
