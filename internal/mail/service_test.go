package mail

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mistakeknot/agentmail/internal/archive"
	"github.com/mistakeknot/agentmail/internal/core"
	"github.com/mistakeknot/agentmail/internal/storage/sqlite"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T) (*Service, *fakeClock) {
	t.Helper()
	store, err := sqlite.NewInMemory()
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	svc := NewService(store, nil, Options{}, nil).WithClock(clock.Now)
	return svc, clock
}

func newArchivedService(t *testing.T) (*Service, *archive.Archive) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	store, err := sqlite.NewInMemory()
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	arch, err := archive.Open(t.TempDir(), "agent-mail <agent-mail@localhost>", nil)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return NewService(store, arch, Options{}, nil).WithClock(clock.Now), arch
}

func seed(t *testing.T, svc *Service, agents ...string) {
	t.Helper()
	ctx := context.Background()
	if _, err := svc.EnsureProject(ctx, "p1", "Project One"); err != nil {
		t.Fatalf("ensure project: %v", err)
	}
	for _, name := range agents {
		_, err := svc.RegisterAgent(ctx, RegisterAgentInput{
			Project: "p1", Name: name, Program: "x", Model: "y", TaskDescription: "t",
		})
		if err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
}

func TestEnsureProjectIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.EnsureProject(ctx, "p1", "Project One")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	second, err := svc.EnsureProject(ctx, "p1", "Renamed")
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if first.ID != second.ID || second.HumanKey != "Project One" {
		t.Errorf("ensure must return the existing row: %+v", second)
	}

	if _, err := svc.EnsureProject(ctx, "Bad Slug!", ""); !core.IsKind(err, core.KindInvalidArgument) {
		t.Errorf("bad slug: %v", err)
	}
}

func TestCreateAndSendScenario(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc, "alpha", "beta")

	msg, err := svc.SendMessage(ctx, SendMessageInput{
		Project: "p1", Sender: "alpha", To: []string{"beta"},
		Subject: "hi", Body: "hello", Importance: core.ImportanceNormal,
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ID == 0 || msg.ThreadID == "" {
		t.Fatalf("send result = %+v", msg)
	}

	inbox, err := svc.Inbox(ctx, "p1", "beta", false, 0)
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	if len(inbox) != 1 {
		t.Fatalf("inbox size = %d", len(inbox))
	}
	if inbox[0].Message.Subject != "hi" || inbox[0].ReadAt != nil {
		t.Errorf("inbox row = %+v", inbox[0])
	}
}

func TestThreadMintAndReply(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc, "alpha", "beta", "gamma")

	first, err := svc.SendMessage(ctx, SendMessageInput{
		Project: "p1", Sender: "alpha", To: []string{"beta"}, CC: []string{"gamma"},
		Subject: "plan", Body: "draft",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if first.ThreadID != "thread-1" {
		t.Errorf("minted thread = %q", first.ThreadID)
	}

	reply, err := svc.ReplyMessage(ctx, ReplyInput{
		Project: "p1", Sender: "beta", InReplyTo: first.ID, Body: "looks good",
	})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if reply.ThreadID != first.ThreadID {
		t.Errorf("reply thread = %q, want %q", reply.ThreadID, first.ThreadID)
	}
	if reply.Subject != "Re: plan" {
		t.Errorf("reply subject = %q", reply.Subject)
	}

	// reply recipients default to the parent participants minus the sender
	inbox, err := svc.Inbox(ctx, "p1", "alpha", false, 0)
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	if len(inbox) != 1 || inbox[0].Message.ID != reply.ID {
		t.Errorf("parent sender must receive the reply: %+v", inbox)
	}
	gammaInbox, _ := svc.Inbox(ctx, "p1", "gamma", false, 0)
	if len(gammaInbox) != 2 {
		t.Errorf("cc participant inbox = %d messages, want 2", len(gammaInbox))
	}

	// replying to a reply keeps a single prefix
	second, err := svc.ReplyMessage(ctx, ReplyInput{
		Project: "p1", Sender: "alpha", InReplyTo: reply.ID, Body: "ship it",
	})
	if err != nil {
		t.Fatalf("second reply: %v", err)
	}
	if second.Subject != "Re: plan" {
		t.Errorf("second reply subject = %q", second.Subject)
	}

	msgs, err := svc.ThreadMessages(ctx, "p1", first.ThreadID)
	if err != nil {
		t.Fatalf("thread: %v", err)
	}
	if len(msgs) != 3 {
		t.Errorf("thread length = %d", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Error("thread must be ordered ascending")
		}
	}
}

func TestRecipientCollapseAndEmpty(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc, "alpha", "beta")

	msg, err := svc.SendMessage(ctx, SendMessageInput{
		Project: "p1", Sender: "alpha",
		To: []string{"beta"}, CC: []string{"beta"}, BCC: []string{"beta"},
		Subject: "dup", Body: "b",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	_, recipients, err := svc.GetMessage(ctx, "p1", msg.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(recipients) != 1 || recipients[0].Kind != core.KindTo {
		t.Errorf("duplicates must collapse to the to kind: %+v", recipients)
	}

	_, err = svc.SendMessage(ctx, SendMessageInput{Project: "p1", Sender: "alpha", Body: "x"})
	if !core.IsKind(err, core.KindEmptyRecipients) {
		t.Errorf("expected EmptyRecipients, got %v", err)
	}

	_, err = svc.SendMessage(ctx, SendMessageInput{
		Project: "p1", Sender: "alpha", To: []string{"nobody"}, Body: "x",
	})
	if !core.IsKind(err, core.KindAgentNotFound) {
		t.Errorf("expected AgentNotFound, got %v", err)
	}
}

func TestAckFlowScenario(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc, "alpha", "beta")

	msg, err := svc.SendMessage(ctx, SendMessageInput{
		Project: "p1", Sender: "alpha", To: []string{"beta"},
		Subject: "ack me", Body: "please", AckRequired: true,
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	rec, err := svc.Acknowledge(ctx, "p1", msg.ID, "beta")
	if err != nil {
		t.Fatalf("ack: %v", err)
	}
	if rec.ReadAt == nil || rec.AckAt == nil {
		t.Fatalf("ack must set read_ts and ack_ts: %+v", rec)
	}

	again, err := svc.Acknowledge(ctx, "p1", msg.ID, "beta")
	if err != nil {
		t.Fatalf("second ack: %v", err)
	}
	if !again.AckAt.Equal(*rec.AckAt) {
		t.Error("second ack changed state")
	}

	// acking a message the agent never received is an error
	if _, err := svc.Acknowledge(ctx, "p1", msg.ID, "alpha"); !core.IsKind(err, core.KindMessageNotFound) {
		t.Errorf("expected MessageNotFound, got %v", err)
	}
}

func TestPolicyDeniedScenario(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc, "alpha", "beta")

	if _, err := svc.SetContactPolicy(ctx, "p1", "beta", core.PolicyContactsOnly); err != nil {
		t.Fatalf("set policy: %v", err)
	}

	_, err := svc.SendMessage(ctx, SendMessageInput{
		Project: "p1", Sender: "alpha", To: []string{"beta"}, Body: "hi",
	})
	if !core.IsKind(err, core.KindPolicyDenied) {
		t.Fatalf("expected PolicyDenied, got %v", err)
	}

	if _, err := svc.RequestContact(ctx, "p1", "alpha", "beta"); err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := svc.RespondContact(ctx, "p1", "beta", "alpha", true); err != nil {
		t.Fatalf("respond: %v", err)
	}

	if _, err := svc.SendMessage(ctx, SendMessageInput{
		Project: "p1", Sender: "alpha", To: []string{"beta"}, Body: "hi again",
	}); err != nil {
		t.Fatalf("send after accept: %v", err)
	}
}

func TestPolicyBlockAllAndAuto(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc, "alpha", "beta", "gamma")

	if _, err := svc.SetContactPolicy(ctx, "p1", "beta", core.PolicyBlockAll); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	// one denial fails the whole send; gamma gets nothing
	_, err := svc.SendMessage(ctx, SendMessageInput{
		Project: "p1", Sender: "alpha", To: []string{"gamma", "beta"}, Body: "x",
	})
	if !core.IsKind(err, core.KindPolicyDenied) {
		t.Fatalf("expected PolicyDenied, got %v", err)
	}
	inbox, _ := svc.Inbox(ctx, "p1", "gamma", false, 0)
	if len(inbox) != 0 {
		t.Error("partial delivery happened despite denial")
	}

	// auto policy records an accepted contact edge on first send
	if _, err := svc.SetContactPolicy(ctx, "p1", "gamma", core.PolicyAuto); err != nil {
		t.Fatalf("set auto: %v", err)
	}
	if _, err := svc.SendMessage(ctx, SendMessageInput{
		Project: "p1", Sender: "alpha", To: []string{"gamma"}, Body: "auto",
	}); err != nil {
		t.Fatalf("auto send: %v", err)
	}
	contacts, err := svc.ListContacts(ctx, "p1", "gamma")
	if err != nil {
		t.Fatalf("contacts: %v", err)
	}
	if len(contacts) != 1 || contacts[0].State != core.ContactAccepted {
		t.Errorf("auto edge = %+v", contacts)
	}
}

func TestReservationConflictScenario(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc, "alpha", "beta")

	r1, err := svc.Reserve(ctx, ReserveInput{
		Project: "p1", Agent: "alpha", Paths: []string{"src/**"},
		TTLSeconds: 3600, Exclusive: true, Reason: "refactor",
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	_, err = svc.Reserve(ctx, ReserveInput{
		Project: "p1", Agent: "beta", Paths: []string{"src/auth.rs"},
		TTLSeconds: 3600, Exclusive: true,
	})
	if !core.IsKind(err, core.KindReservationConflict) {
		t.Fatalf("expected ReservationConflict, got %v", err)
	}
	var typed *core.Error
	if !errors.As(err, &typed) {
		t.Fatal("conflict must be a typed error")
	}
	if typed.Details["conflicting_reservation_id"] != r1.ID {
		t.Errorf("conflict details = %+v", typed.Details)
	}
	paths, _ := typed.Details["paths"].([]string)
	if len(paths) != 1 || paths[0] != "src/auth.rs" {
		t.Errorf("conflict paths = %v", paths)
	}

	if _, err := svc.ReleaseReservation(ctx, r1.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := svc.Reserve(ctx, ReserveInput{
		Project: "p1", Agent: "beta", Paths: []string{"src/auth.rs"},
		TTLSeconds: 3600, Exclusive: true,
	}); err != nil {
		t.Fatalf("reserve after release: %v", err)
	}
}

func TestNonExclusiveCoexistence(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc, "alpha", "beta", "gamma")

	if _, err := svc.Reserve(ctx, ReserveInput{
		Project: "p1", Agent: "alpha", Paths: []string{"docs/**"},
	}); err != nil {
		t.Fatalf("alpha reserve: %v", err)
	}
	if _, err := svc.Reserve(ctx, ReserveInput{
		Project: "p1", Agent: "beta", Paths: []string{"docs/readme.md"},
	}); err != nil {
		t.Fatalf("beta reserve: %v", err)
	}

	_, err := svc.Reserve(ctx, ReserveInput{
		Project: "p1", Agent: "gamma", Paths: []string{"docs/**"}, Exclusive: true,
	})
	if !core.IsKind(err, core.KindReservationConflict) {
		t.Fatalf("exclusive over shared must conflict, got %v", err)
	}
}

func TestReservationExpiryFreesPaths(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()
	seed(t, svc, "alpha", "beta")

	if _, err := svc.Reserve(ctx, ReserveInput{
		Project: "p1", Agent: "alpha", Paths: []string{"src/**"},
		TTLSeconds: 60, Exclusive: true,
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	clock.Advance(61 * time.Second)

	if _, err := svc.Reserve(ctx, ReserveInput{
		Project: "p1", Agent: "beta", Paths: []string{"src/main.go"},
		TTLSeconds: 60, Exclusive: true,
	}); err != nil {
		t.Fatalf("expired reservation still contends: %v", err)
	}
}

func TestReserveAllOrNothing(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc, "alpha", "beta")

	if _, err := svc.Reserve(ctx, ReserveInput{
		Project: "p1", Agent: "alpha", Paths: []string{"src/a.go"}, Exclusive: true,
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	_, err := svc.Reserve(ctx, ReserveInput{
		Project: "p1", Agent: "beta", Paths: []string{"docs/readme.md", "src/a.go"}, Exclusive: true,
	})
	if !core.IsKind(err, core.KindReservationConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	// the free path must not have been granted either
	status, err := svc.PathsStatus(ctx, "p1", []string{"docs/readme.md"})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status[0].Free {
		t.Errorf("partial grant detected: %+v", status[0])
	}
}

func TestRenewAndOwnership(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()
	seed(t, svc, "alpha", "beta")

	res, err := svc.Reserve(ctx, ReserveInput{
		Project: "p1", Agent: "alpha", Paths: []string{"src/**"}, TTLSeconds: 60, Exclusive: true,
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if _, err := svc.RenewReservation(ctx, res.ID, "beta", 60); !core.IsKind(err, core.KindNotOwner) {
		t.Errorf("expected NotOwner, got %v", err)
	}

	renewed, err := svc.RenewReservation(ctx, res.ID, "alpha", 120)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if !renewed.ExpiresAt.After(res.ExpiresAt) {
		t.Errorf("renew did not advance expiry: %v -> %v", res.ExpiresAt, renewed.ExpiresAt)
	}

	clock.Advance(3 * time.Minute)
	if _, err := svc.RenewReservation(ctx, res.ID, "alpha", 60); !core.IsKind(err, core.KindAlreadyReleased) {
		t.Errorf("renewing an expired reservation: %v", err)
	}
}

func TestReleaseIdempotentAndForceRelease(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc, "alpha")

	res, err := svc.Reserve(ctx, ReserveInput{
		Project: "p1", Agent: "alpha", Paths: []string{"src/**"}, Exclusive: true,
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := svc.ReleaseReservation(ctx, res.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	released, err := svc.ReleaseReservation(ctx, res.ID)
	if err != nil {
		t.Fatalf("second release: %v", err)
	}
	if released.ReleasedAt == nil {
		t.Error("released_ts missing")
	}

	other, err := svc.Reserve(ctx, ReserveInput{
		Project: "p1", Agent: "alpha", Paths: []string{"lib/**"}, Exclusive: true,
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	forced, err := svc.ForceReleaseReservation(ctx, other.ID, "stuck agent")
	if err != nil {
		t.Fatalf("force release: %v", err)
	}
	if forced.ReleasedAt == nil {
		t.Error("force release must set released_ts")
	}
}

func TestBuildSlotSingleHolderScenario(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()
	seed(t, svc, "alpha", "beta")

	s1, err := svc.AcquireBuildSlot(ctx, "p1", "alpha", 600)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	_, err = svc.AcquireBuildSlot(ctx, "p1", "beta", 600)
	if !core.IsKind(err, core.KindBuildSlotHeld) {
		t.Fatalf("expected BuildSlotHeld, got %v", err)
	}
	var typed *core.Error
	if errors.As(err, &typed) {
		if typed.Details["holder"] != "alpha" {
			t.Errorf("holder detail = %v", typed.Details["holder"])
		}
	}

	if _, err := svc.ReleaseBuildSlot(ctx, s1.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := svc.AcquireBuildSlot(ctx, "p1", "beta", 600); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}

	// expiry frees the slot as well
	clock.Advance(time.Hour)
	if _, err := svc.AcquireBuildSlot(ctx, "p1", "alpha", 600); err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}
}

func TestGeneratedAgentNames(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc)

	a, err := svc.RegisterAgent(ctx, RegisterAgentInput{Project: "p1", Program: "x", Model: "y"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !strings.Contains(a.Name, "-") {
		t.Errorf("generated name = %q", a.Name)
	}
	b, err := svc.RegisterAgent(ctx, RegisterAgentInput{Project: "p1", Program: "x", Model: "y"})
	if err != nil {
		t.Fatalf("second register: %v", err)
	}
	if a.Name == b.Name {
		t.Error("generated names must be unique within the project")
	}

	if _, err := svc.RegisterAgent(ctx, RegisterAgentInput{Project: "p1", Name: a.Name}); !core.IsKind(err, core.KindNameCollision) {
		t.Errorf("expected NameCollision, got %v", err)
	}
}

func TestThreadListAndSummary(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc, "alpha", "beta")

	first, err := svc.SendMessage(ctx, SendMessageInput{
		Project: "p1", Sender: "alpha", To: []string{"beta"},
		Subject: "standup", Body: "notes from today\nmore detail",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := svc.ReplyMessage(ctx, ReplyInput{
		Project: "p1", Sender: "beta", InReplyTo: first.ID, Body: "ack",
	}); err != nil {
		t.Fatalf("reply: %v", err)
	}

	threads, err := svc.ListThreads(ctx, "p1", 0)
	if err != nil {
		t.Fatalf("threads: %v", err)
	}
	if len(threads) != 1 || threads[0].MessageCount != 2 || threads[0].LastFrom != "beta" {
		t.Errorf("threads = %+v", threads)
	}

	summary, err := svc.SummarizeThread(ctx, "p1", first.ThreadID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !strings.Contains(summary, "standup") || !strings.Contains(summary, "notes from today") {
		t.Errorf("summary = %q", summary)
	}
	if strings.Contains(summary, "more detail") {
		t.Errorf("summary must only use the first body line: %q", summary)
	}
}

func TestProducts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc)

	p, err := svc.EnsureProduct(ctx, "Orion")
	if err != nil {
		t.Fatalf("ensure product: %v", err)
	}
	if p.UID == "" {
		t.Error("product uid missing")
	}
	again, err := svc.EnsureProduct(ctx, "Orion")
	if err != nil || again.ID != p.ID {
		t.Fatalf("ensure must be idempotent: %+v %v", again, err)
	}

	linked, err := svc.LinkProjectToProduct(ctx, "Orion", "p1")
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if len(linked.Projects) != 1 {
		t.Errorf("projects = %v", linked.Projects)
	}
	// idempotent
	linked, err = svc.LinkProjectToProduct(ctx, "Orion", "p1")
	if err != nil || len(linked.Projects) != 1 {
		t.Fatalf("relink: %+v %v", linked, err)
	}
}
