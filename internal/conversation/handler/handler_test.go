package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"funnel_builder_backend/internal/conversation/conversationtest"
	"funnel_builder_backend/internal/conversation/repository"
	"funnel_builder_backend/internal/conversation/service"
	"funnel_builder_backend/internal/orchestrator"
	"funnel_builder_backend/internal/trigger"
	"funnel_builder_backend/platform/apperr"
	"funnel_builder_backend/platform/httpkit"
	"funnel_builder_backend/platform/logger"
	"funnel_builder_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type recordingEngine struct {
	events  []orchestrator.Event
	replies []orchestrator.Reply
}

func (e *recordingEngine) HandleEvent(_ context.Context, ev orchestrator.Event) orchestrator.Result {
	e.events = append(e.events, ev)
	return orchestrator.Result{Outcome: orchestrator.OutcomeSkipped, Reason: apperr.ReasonNoMatchingFunnel}
}

func (e *recordingEngine) Reply(_ context.Context, r orchestrator.Reply) orchestrator.ReplyResult {
	e.replies = append(e.replies, r)
	return orchestrator.ReplyResult{Outcome: orchestrator.OutcomeAdvanced}
}

func asUser(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(httpkit.ContextUserIDKey, userID)
		c.Set(httpkit.ContextExperienceIDKey, "exp_1")
		c.Next()
	}
}

func newRouter(h *Handler, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	app := r.Group("/app", asUser(userID))
	app.POST("/entry", h.Entry)
	app.POST("/funnel-completed", h.FunnelCompleted)
	app.POST("/conversations/delete", h.ConversationDeleted)
	app.POST("/reply", h.Reply)
	app.GET("/conversations/:id", h.Get)
	app.GET("/conversations/:id/messages", h.Messages)
	return r
}

func do(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTriggerEndpointsUseCallerIdentity(t *testing.T) {
	engine := &recordingEngine{}
	h := New(service.New(conversationtest.New(), nil, nil, logger.Discard()), validator.New())
	h.SetEngine(engine)
	r := newRouter(h, "user_1")

	if w := do(r, http.MethodPost, "/app/entry", map[string]string{}); w.Code != http.StatusOK {
		t.Fatalf("entry: expected 200, got %d", w.Code)
	}
	completed := uuid.New()
	if w := do(r, http.MethodPost, "/app/funnel-completed", map[string]any{"completedFunnelId": completed}); w.Code != http.StatusOK {
		t.Fatalf("funnel-completed: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodPost, "/app/conversations/delete", nil); w.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", w.Code)
	}

	want := []trigger.Context{trigger.ContextAppEntry, trigger.ContextFunnelCompleted, trigger.ContextConversationDeleted}
	if len(engine.events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(engine.events))
	}
	for i, ev := range engine.events {
		if ev.Context != want[i] || ev.UserID != "user_1" || ev.ExperienceID != "exp_1" {
			t.Fatalf("event %d: unexpected %+v", i, ev)
		}
	}
	if engine.events[1].CompletedFunnelID == nil || *engine.events[1].CompletedFunnelID != completed {
		t.Fatal("completed funnel id should be forwarded")
	}
}

func TestFunnelCompletedRequiresFunnelID(t *testing.T) {
	engine := &recordingEngine{}
	h := New(service.New(conversationtest.New(), nil, nil, logger.Discard()), validator.New())
	h.SetEngine(engine)

	w := do(newRouter(h, "user_1"), http.MethodPost, "/app/funnel-completed", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if len(engine.events) != 0 {
		t.Fatal("invalid request must not reach the engine")
	}
}

func TestReplyForwardsText(t *testing.T) {
	engine := &recordingEngine{}
	h := New(service.New(conversationtest.New(), nil, nil, logger.Discard()), validator.New())
	h.SetEngine(engine)

	w := do(newRouter(h, "user_1"), http.MethodPost, "/app/reply", map[string]string{"text": "Beginner", "username": "sam"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(engine.replies) != 1 || engine.replies[0].Text != "Beginner" || engine.replies[0].Username != "sam" {
		t.Fatalf("unexpected replies %+v", engine.replies)
	}
}

func TestEndpointsWithoutEngine(t *testing.T) {
	h := New(service.New(conversationtest.New(), nil, nil, logger.Discard()), validator.New())
	if w := do(newRouter(h, "user_1"), http.MethodPost, "/app/entry", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestGetIsScopedToOwner(t *testing.T) {
	store := conversationtest.New()
	conv, err := store.InsertConversation(context.Background(), repository.CreateConversationParams{
		ExperienceID:   "exp_1",
		WhopUserID:     "user_1",
		FunnelID:       uuid.New(),
		CurrentBlockID: "welcome",
		UserPath:       []string{"welcome"},
	})
	if err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	if _, err := store.InsertMessage(context.Background(), repository.MessageParams{
		ConversationID: conv.ID, Type: repository.MessageBot, Content: "Welcome!",
	}); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	h := New(service.New(store, nil, nil, logger.Discard()), validator.New())

	w := do(newRouter(h, "user_1"), http.MethodGet, "/app/conversations/"+conv.ID.String(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("owner should see conversation, got %d", w.Code)
	}
	w = do(newRouter(h, "user_1"), http.MethodGet, "/app/conversations/"+conv.ID.String()+"/messages", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("owner should see messages, got %d", w.Code)
	}
	var msgs []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &msgs); err != nil || len(msgs) != 1 {
		t.Fatalf("expected one message, got %s", w.Body.String())
	}

	w = do(newRouter(h, "user_2"), http.MethodGet, "/app/conversations/"+conv.ID.String(), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("other member must not see conversation, got %d", w.Code)
	}
	w = do(newRouter(h, "user_1"), http.MethodGet, "/app/conversations/not-a-uuid", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", w.Code)
	}
}
