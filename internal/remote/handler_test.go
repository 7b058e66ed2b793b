package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nem-lang/nembind/internal/tcb"
	"github.com/nem-lang/nembind/internal/testrunner/assert"
)

func readExample(t *testing.T, parts ...string) json.RawMessage {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(append([]string{"..", "..", "examples"}, parts...)...))
	assert.NoError(t, err)

	return data
}

func tileRequest(t *testing.T) *BindRequest {
	return &BindRequest{
		Program: readExample(t, "programs", "tile_pipeline.json"),
		Device:  readExample(t, "devices", "nem-small.json"),
	}
}

func TestHandlerBindsOverHTTP(t *testing.T) {
	srv := httptest.NewServer(NewHandler(nil).Mux())
	defer srv.Close()

	c := &Client{HTTP: srv.Client(), BaseURL: srv.URL}
	resp, err := c.Bind(context.Background(), tileRequest(t))
	assert.NoError(t, err)

	assert.Equal(t, resp.Stats.Tasks, 20)
	assert.Len(t, resp.Diagnostics, 2)
	assert.Equal(t, resp.Diagnostics[0].Code, "NB6001")

	blocks, err := tcb.DecodeStream(resp.Stream)
	assert.NoError(t, err)
	assert.Len(t, blocks, 21)
}

func TestHandlerReportsBindFailure(t *testing.T) {
	srv := httptest.NewServer(NewHandler(nil).Mux())
	defer srv.Close()

	req := tileRequest(t)
	req.TagWidth = 2

	c := &Client{HTTP: srv.Client(), BaseURL: srv.URL}
	resp, err := c.Bind(context.Background(), req)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "status 422")

	if assert.NotNil(t, resp) {
		assert.Len(t, resp.Stream, 0)
		assert.Len(t, resp.Diagnostics, 1)
		assert.Equal(t, resp.Diagnostics[0].Code, "NB4001")
	}
}

func TestHandlerRejectsBadInput(t *testing.T) {
	h := NewHandler(nil)

	tests := []struct {
		name   string
		method string
		body   string
		status int
	}{
		{"get", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"not json", http.MethodPost, "{", http.StatusBadRequest},
		{"bad program", http.MethodPost, `{"program":{"name":1},"device":{}}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, BindPath, bytes.NewBufferString(tt.body)))
			assert.Equal(t, rec.Code, tt.status)
		})
	}
}

func TestHTTP3Loopback(t *testing.T) {
	srvTLS, err := GenerateSelfSignedTLS([]string{"127.0.0.1", "localhost"}, time.Hour)
	assert.NoError(t, err)

	s := NewHTTP3Server("127.0.0.1:0", srvTLS, NewHandler(nil).Mux())
	addr, err := s.Start()
	if err != nil {
		t.Skip("http3 not supported here:", err)
	}
	defer s.Stop()

	cli := HTTP3Client(InsecureClientTLS(), 5*time.Second)
	defer ShutdownHTTP3(cli)

	c := &Client{HTTP: cli, BaseURL: "https://" + addr}
	resp, err := c.Bind(context.Background(), tileRequest(t))
	if err != nil {
		t.Skip("http3 dial failed:", err)
	}

	assert.Equal(t, resp.Stats.Blocks, 20)
}
