package api

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/ripple-rt/ripple-server/internal/gateway"
)

func testEventsApp(repo *memRepo, hub *gateway.Hub) *fiber.App {
	fa := fiber.New()
	h := NewEventHandler(repo, hub, zerolog.Nop())
	fa.Post("/apps/:id/events", h.Publish)
	return fa
}

func awaitFrame(t *testing.T, out *recordingOutbox) []byte {
	t.Helper()
	select {
	case raw := <-out.frames:
		return raw
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func TestPublish(t *testing.T) {
	t.Parallel()
	repo := newMemRepo()
	a := repo.seed("shop")
	hub := startTestHub(t, repo)

	member := newRecordingOutbox()
	excluded := newRecordingOutbox()
	ns := hub.Namespace(a.ID)
	ns.AddSocket(10001, member)
	ns.AddSocket(20002, excluded)
	ns.AddToChannel(10001, "orders", nil)
	ns.AddToChannel(20002, "orders", nil)

	fa := testEventsApp(repo, hub)

	resp := doReq(t, fa, jsonReq(http.MethodPost, "/apps/1/events",
		`{"name":"order-created","channel":"orders","data":{"id":7},"socket_id":"2000.2"}`))
	body := readBody(t, resp)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d: %s", resp.StatusCode, fiber.StatusOK, body)
	}
	if string(body) != "{}" {
		t.Errorf("body = %s, want {}", body)
	}

	var frame struct {
		Event   string `json:"event"`
		Channel string `json:"channel"`
		Data    string `json:"data"`
	}
	if err := json.Unmarshal(awaitFrame(t, member), &frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if frame.Event != "order-created" || frame.Channel != "orders" {
		t.Errorf("frame = %+v, want order-created on orders", frame)
	}
	if frame.Data != `{"id":7}` {
		t.Errorf("data = %q, want %q", frame.Data, `{"id":7}`)
	}

	select {
	case raw := <-excluded.frames:
		t.Errorf("excluded socket received %s", raw)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublish_ChannelsArray(t *testing.T) {
	t.Parallel()
	repo := newMemRepo()
	a := repo.seed("shop")
	hub := startTestHub(t, repo)

	out := newRecordingOutbox()
	ns := hub.Namespace(a.ID)
	ns.AddSocket(10001, out)
	ns.AddToChannel(10001, "alpha", nil)
	ns.AddToChannel(10001, "beta", nil)

	fa := testEventsApp(repo, hub)

	resp := doReq(t, fa, jsonReq(http.MethodPost, "/apps/1/events",
		`{"name":"ping","channels":["alpha","beta"],"data":"hi"}`))
	readBody(t, resp)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}

	channels := map[string]bool{}
	for i := 0; i < 2; i++ {
		var frame struct {
			Channel string `json:"channel"`
		}
		if err := json.Unmarshal(awaitFrame(t, out), &frame); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		channels[frame.Channel] = true
	}
	if !channels["alpha"] || !channels["beta"] {
		t.Errorf("delivered channels = %v, want alpha and beta", channels)
	}
}

func TestPublish_NumericSocketID(t *testing.T) {
	t.Parallel()
	repo := newMemRepo()
	a := repo.seed("shop")
	hub := startTestHub(t, repo)

	excluded := newRecordingOutbox()
	ns := hub.Namespace(a.ID)
	ns.AddSocket(10001, excluded)
	ns.AddToChannel(10001, "orders", nil)

	fa := testEventsApp(repo, hub)

	resp := doReq(t, fa, jsonReq(http.MethodPost, "/apps/1/events",
		`{"name":"ping","channel":"orders","data":{},"socket_id":10001}`))
	readBody(t, resp)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}

	select {
	case raw := <-excluded.frames:
		t.Errorf("excluded socket received %s", raw)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublish_Validation(t *testing.T) {
	t.Parallel()
	repo := newMemRepo()
	repo.seed("shop")
	fa := testEventsApp(repo, startTestHub(t, repo))

	tests := []struct {
		name string
		body string
	}{
		{"missing name", `{"channel":"orders","data":{}}`},
		{"missing channels", `{"name":"e","data":{}}`},
		{"missing data", `{"name":"e","channel":"orders"}`},
		{"bad socket_id", `{"name":"e","channel":"orders","data":{},"socket_id":"nope"}`},
		{"malformed JSON", `{"name"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doReq(t, fa, jsonReq(http.MethodPost, "/apps/1/events", tt.body))
			readBody(t, resp)
			if resp.StatusCode != fiber.StatusBadRequest {
				t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusBadRequest)
			}
		})
	}
}

func TestPublish_UnknownApp(t *testing.T) {
	t.Parallel()
	repo := newMemRepo()
	fa := testEventsApp(repo, startTestHub(t, repo))

	resp := doReq(t, fa, jsonReq(http.MethodPost, "/apps/42/events",
		`{"name":"e","channel":"orders","data":{}}`))
	body := readBody(t, resp)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusNotFound)
	}
	env := parseError(t, body)
	if env.Error.Message != "app not found" {
		t.Errorf("message = %q, want %q", env.Error.Message, "app not found")
	}
}
