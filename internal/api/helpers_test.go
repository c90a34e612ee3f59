package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/ripple-rt/ripple-server/internal/app"
	"github.com/ripple-rt/ripple-server/internal/config"
	"github.com/ripple-rt/ripple-server/internal/gateway"
	"github.com/ripple-rt/ripple-server/internal/httputil"
)

var testTimeout = fiber.TestConfig{Timeout: 10 * time.Second}

// memRepo implements app.Repository in memory for handler tests.
type memRepo struct {
	apps   map[int64]*app.App
	nextID int64
	fail   error // when set, every call returns it
}

func newMemRepo() *memRepo {
	return &memRepo{apps: make(map[int64]*app.App), nextID: 1}
}

func (r *memRepo) seed(name string) *app.App {
	a := &app.App{
		ID:        r.nextID,
		Name:      name,
		Key:       app.GenerateKey(),
		Secret:    app.GenerateSecret(),
		CreatedAt: time.Now().UTC(),
	}
	r.apps[a.ID] = a
	r.nextID++
	return a
}

func (r *memRepo) FindByID(_ context.Context, id int64) (*app.App, error) {
	if r.fail != nil {
		return nil, r.fail
	}
	a, ok := r.apps[id]
	if !ok {
		return nil, app.ErrNotFound
	}
	return a, nil
}

func (r *memRepo) FindByKey(_ context.Context, key string) (*app.App, error) {
	if r.fail != nil {
		return nil, r.fail
	}
	for _, a := range r.apps {
		if a.Key == key {
			return a, nil
		}
	}
	return nil, app.ErrNotFound
}

func (r *memRepo) List(context.Context) ([]app.App, error) {
	if r.fail != nil {
		return nil, r.fail
	}
	apps := make([]app.App, 0, len(r.apps))
	for _, a := range r.apps {
		apps = append(apps, *a)
	}
	return apps, nil
}

func (r *memRepo) Insert(_ context.Context, name string) (*app.App, error) {
	if r.fail != nil {
		return nil, r.fail
	}
	return r.seed(name), nil
}

func (r *memRepo) Delete(_ context.Context, id int64) error {
	if r.fail != nil {
		return r.fail
	}
	if _, ok := r.apps[id]; !ok {
		return app.ErrNotFound
	}
	delete(r.apps, id)
	return nil
}

// recordingOutbox implements gateway.Outbox with a buffered frame queue.
type recordingOutbox struct {
	frames chan []byte
}

func newRecordingOutbox() *recordingOutbox {
	return &recordingOutbox{frames: make(chan []byte, 16)}
}

func (o *recordingOutbox) Send(frame []byte) bool {
	select {
	case o.frames <- frame:
		return true
	default:
		return false
	}
}

func startTestHub(t *testing.T, apps app.Repository) *gateway.Hub {
	t.Helper()
	hub := gateway.NewHub(apps, &config.Config{GatewaySendBuffer: 16}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func jsonReq(method, url, body string) *http.Request {
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func doReq(t *testing.T, fa *fiber.App, req *http.Request) *http.Response {
	t.Helper()
	resp, err := fa.Test(req, testTimeout)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	return b
}

func parseError(t *testing.T, body []byte) httputil.ErrorResponse {
	t.Helper()
	var env httputil.ErrorResponse
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("unmarshal error body %s: %v", body, err)
	}
	return env
}
