package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/pkg/errors"

	"github.com/nem-lang/nembind/internal/binder"
	"github.com/nem-lang/nembind/internal/device"
	"github.com/nem-lang/nembind/internal/diagnostic"
	"github.com/nem-lang/nembind/internal/graph"
)

// BindPath is the route served by Handler.
const BindPath = "/v1/bind"

// MaxRequestBytes bounds a bind request body.
const MaxRequestBytes = 8 << 20

// BindRequest carries a program and a device table in their file formats.
type BindRequest struct {
	Program  json.RawMessage `json:"program"`
	Device   json.RawMessage `json:"device"`
	TagWidth int             `json:"tag_width,omitempty"`
}

// BindResponse is returned for both successful and failed binds. Stream is
// base64 in JSON.
type BindResponse struct {
	Stream      []byte                  `json:"stream,omitempty"`
	Stats       *binder.Stats           `json:"stats,omitempty"`
	Diagnostics []diagnostic.Diagnostic `json:"diagnostics"`
	Error       string                  `json:"error,omitempty"`
}

// Handler serves bind requests.
type Handler struct {
	Logger *log.Logger
	Opts   []binder.Option
}

// NewHandler returns a handler that applies opts to every bind.
func NewHandler(logger *log.Logger, opts ...binder.Option) *Handler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	return &Handler{Logger: logger, Opts: opts}
}

// Mux routes BindPath to h.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(BindPath, h)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	return mux
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req BindRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		h.reply(w, http.StatusBadRequest, &BindResponse{Error: fmt.Sprintf("decode request: %v", err)})
		return
	}

	resp, status := h.bind(&req)
	h.reply(w, status, resp)
}

func (h *Handler) bind(req *BindRequest) (*BindResponse, int) {
	fail := func(err error, status int) (*BindResponse, int) {
		h.Logger.Printf("bind request failed: %v", err)
		return &BindResponse{Error: err.Error(), Diagnostics: []diagnostic.Diagnostic{*binder.Diagnose(err)}}, status
	}

	prog, err := graph.ParseProgram(req.Program)
	if err != nil {
		return fail(errors.Wrap(err, "program"), http.StatusBadRequest)
	}

	dev, err := device.Parse(req.Device)
	if err != nil {
		return fail(errors.Wrap(err, "device"), http.StatusBadRequest)
	}

	opts := append([]binder.Option{binder.WithLogger(h.Logger)}, h.Opts...)
	if req.TagWidth > 0 {
		opts = append(opts, binder.WithTagWidth(req.TagWidth))
	}

	res, err := binder.Bind(prog, dev, opts...)
	if err != nil {
		return fail(err, http.StatusUnprocessableEntity)
	}

	return &BindResponse{
		Stream:      res.Stream.Bytes(),
		Stats:       &res.Stats,
		Diagnostics: res.Diagnostics.GetDiagnostics(),
	}, http.StatusOK
}

func (h *Handler) reply(w http.ResponseWriter, status int, resp *BindResponse) {
	if resp.Diagnostics == nil {
		resp.Diagnostics = []diagnostic.Diagnostic{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.Logger.Printf("write response: %v", err)
	}
}

// Client submits bind requests to a remote Handler.
type Client struct {
	HTTP    *http.Client
	BaseURL string
}

// Bind posts req and decodes the response. A failed bind is returned as an
// error alongside the decoded response so callers can print diagnostics.
func (c *Client) Bind(ctx context.Context, req *BindRequest) (*BindResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "encode request")
	}

	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+BindPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	hr.Header.Set("Content-Type", "application/json")

	r, err := c.HTTP.Do(hr)
	if err != nil {
		return nil, errors.Wrap(err, "post bind")
	}
	defer r.Body.Close()

	var resp BindResponse
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
		return nil, errors.Wrapf(err, "decode response (status %d)", r.StatusCode)
	}

	if r.StatusCode != http.StatusOK {
		return &resp, errors.Errorf("remote bind failed (status %d): %s", r.StatusCode, resp.Error)
	}

	return &resp, nil
}
