package tool

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mistakeknot/agentmail/internal/auth"
	"github.com/mistakeknot/agentmail/internal/core"
	"github.com/mistakeknot/agentmail/internal/mail"
	"github.com/mistakeknot/agentmail/internal/storage/sqlite"
)

func newTestRegistry(t *testing.T, ratePerMinute int) *Registry {
	t.Helper()
	store, err := sqlite.NewInMemory()
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	svc := mail.NewService(store, nil, mail.Options{}, nil)
	reg, err := NewRegistry(svc, ratePerMinute, nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func dispatch(t *testing.T, reg *Registry, name string, in any) (any, error) {
	t.Helper()
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return reg.Dispatch(context.Background(), name, auth.Info{Localhost: true}, raw)
}

func mustDispatch(t *testing.T, reg *Registry, name string, in any) map[string]any {
	t.Helper()
	result, err := dispatch(t, reg, name, in)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	out, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("%s result type %T", name, result)
	}
	return out
}

func seedProject(t *testing.T, reg *Registry) {
	t.Helper()
	mustDispatch(t, reg, "ensure_project", map[string]any{"slug": "p1", "human_key": "Project One"})
	mustDispatch(t, reg, "register_agent", map[string]any{"project": "p1", "name": "alpha"})
	mustDispatch(t, reg, "register_agent", map[string]any{"project": "p1", "name": "beta"})
}

func TestDispatchUnknownTool(t *testing.T) {
	reg := newTestRegistry(t, 1000)
	_, err := dispatch(t, reg, "no_such_tool", map[string]any{})
	if Envelope(err).Name != "ToolNotFound" {
		t.Fatalf("envelope = %+v", Envelope(err))
	}
}

func TestSchemaValidation(t *testing.T) {
	reg := newTestRegistry(t, 1000)

	// missing required field
	_, err := dispatch(t, reg, "ensure_project", map[string]any{"human_key": "x"})
	if Envelope(err).Name != "SchemaViolation" {
		t.Fatalf("missing slug: %+v", Envelope(err))
	}

	// pattern violation
	_, err = dispatch(t, reg, "ensure_project", map[string]any{"slug": "Not A Slug"})
	if Envelope(err).Name != "SchemaViolation" {
		t.Fatalf("bad slug: %+v", Envelope(err))
	}

	// unknown field rejected
	_, err = dispatch(t, reg, "ensure_project", map[string]any{"slug": "p1", "bogus": true})
	if Envelope(err).Name != "SchemaViolation" {
		t.Fatalf("unknown field: %+v", Envelope(err))
	}

	// bad enum
	seedProject(t, reg)
	_, err = dispatch(t, reg, "send_message", map[string]any{
		"project": "p1", "sender": "alpha", "to": []string{"beta"},
		"body": "x", "importance": "extreme",
	})
	if Envelope(err).Name != "SchemaViolation" {
		t.Fatalf("bad enum: %+v", Envelope(err))
	}
}

func TestAliasRouting(t *testing.T) {
	reg := newTestRegistry(t, 1000)
	seedProject(t, reg)

	out := mustDispatch(t, reg, "file_reservation_paths", map[string]any{
		"project": "p1", "agent": "alpha", "paths": []string{"src/**"},
	})
	if out["reservation"] == nil {
		t.Fatalf("alias result = %+v", out)
	}

	if canonical, ok := reg.Resolve("file_reservation_paths"); !ok || canonical != "reserve_file" {
		t.Errorf("Resolve = %q %v", canonical, ok)
	}
}

func TestLegacySendMessageFields(t *testing.T) {
	reg := newTestRegistry(t, 1000)
	seedProject(t, reg)

	out := mustDispatch(t, reg, "send_message", map[string]any{
		"project":         "p1",
		"from_agent_name": "alpha",
		"recipient_names": []string{"beta"},
		"subject":         "legacy",
		"body_md":         "old field names",
	})
	if out["message_id"] == nil {
		t.Fatalf("legacy send = %+v", out)
	}
}

func TestErrorEnvelopeMapping(t *testing.T) {
	reg := newTestRegistry(t, 1000)
	seedProject(t, reg)

	mustDispatch(t, reg, "reserve_file", map[string]any{
		"project": "p1", "agent": "alpha", "paths": []string{"src/**"},
	})
	_, err := dispatch(t, reg, "reserve_file", map[string]any{
		"project": "p1", "agent": "beta", "paths": []string{"src/main.go"},
	})
	env := Envelope(err)
	if env.Name != "ReservationConflict" || env.Code != core.KindReservationConflict.Code {
		t.Fatalf("envelope = %+v", env)
	}
	if env.Details["conflicting_reservation_id"] == nil {
		t.Errorf("details = %+v", env.Details)
	}
	if env.HTTPStatus() != 409 {
		t.Errorf("status = %d", env.HTTPStatus())
	}
}

func TestRateLimit(t *testing.T) {
	reg := newTestRegistry(t, 2)
	caller := auth.Info{Token: "tok", Project: ""}

	for i := 0; i < 2; i++ {
		if _, err := reg.Dispatch(context.Background(), "health_check", caller, nil); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	_, err := reg.Dispatch(context.Background(), "health_check", caller, nil)
	if Envelope(err).Name != "RateLimited" {
		t.Fatalf("expected RateLimited, got %+v", Envelope(err))
	}

	// a different token has its own bucket
	if _, err := reg.Dispatch(context.Background(), "health_check", auth.Info{Token: "other"}, nil); err != nil {
		t.Fatalf("other token: %v", err)
	}
}

func TestCallerBinding(t *testing.T) {
	reg := newTestRegistry(t, 1000)
	seedProject(t, reg)

	bound := auth.Info{Mode: auth.ModeBearer, Project: "p1", Agent: "alpha", Token: "tok"}

	raw, _ := json.Marshal(map[string]any{"project": "p2"})
	_, err := reg.Dispatch(context.Background(), "list_agents", bound, raw)
	if Envelope(err).Name != "Unauthorized" {
		t.Fatalf("cross-project: %+v", Envelope(err))
	}

	raw, _ = json.Marshal(map[string]any{
		"project": "p1", "sender": "beta", "to": []string{"alpha"}, "body": "x",
	})
	_, err = reg.Dispatch(context.Background(), "send_message", bound, raw)
	if Envelope(err).Name != "Unauthorized" {
		t.Fatalf("agent impersonation: %+v", Envelope(err))
	}
}

func TestMacroRegisterAndInvoke(t *testing.T) {
	reg := newTestRegistry(t, 1000)
	seedProject(t, reg)

	mustDispatch(t, reg, "register_macro", map[string]any{
		"project": "p1",
		"name":    "claim-and-announce",
		"steps": []map[string]any{
			{"tool": "reserve_file", "args": map[string]any{"paths": []any{"{{path}}"}, "reason": "working on {{path}}"}},
			{"tool": "send_message", "args": map[string]any{"to": []any{"beta"}, "subject": "claimed {{path}}", "body": "starting"}},
		},
	})

	out := mustDispatch(t, reg, "invoke_macro", map[string]any{
		"project": "p1", "agent": "alpha", "name": "claim-and-announce",
		"params": map[string]any{"path": "src/**"},
	})
	steps, ok := out["steps"].([]any)
	if !ok || len(steps) != 2 {
		t.Fatalf("steps = %+v", out["steps"])
	}

	// the reservation from step one is real
	listed := mustDispatch(t, reg, "list_file_reservations", map[string]any{"project": "p1"})
	if listed["reservations"] == nil {
		t.Fatalf("reservations = %+v", listed)
	}

	// a failing step surfaces the step context
	_, err := dispatch(t, reg, "invoke_macro", map[string]any{
		"project": "p1", "agent": "beta", "name": "claim-and-announce",
		"params": map[string]any{"path": "src/**"},
	})
	env := Envelope(err)
	if env.Name != "ReservationConflict" {
		t.Fatalf("macro failure envelope = %+v", env)
	}
}

func TestAuditRowsWritten(t *testing.T) {
	reg := newTestRegistry(t, 1000)
	mustDispatch(t, reg, "health_check", map[string]any{})
	_, _ = dispatch(t, reg, "ensure_project", map[string]any{"slug": "Bad Slug"})

	// audit writes are best-effort but synchronous
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	entries, err := reg.svc.Store().Reader().RecentAudit(ctx, 10)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("audit entries = %d", len(entries))
	}
	var sawFailure bool
	for _, e := range entries {
		if !e.OK && e.ErrorName == "SchemaViolation" {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Errorf("failed dispatch missing from audit: %+v", entries)
	}
}
