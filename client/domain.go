package client

import (
	"context"
	"time"
)

// Typed wrappers over the tool surface. Field names mirror the declared
// schemas exactly.

type EnsureProjectResult struct {
	ProjectID int64  `json:"project_id"`
	Slug      string `json:"slug"`
	HumanKey  string `json:"human_key"`
}

func (c *Client) EnsureProject(ctx context.Context, slug, humanKey string) (EnsureProjectResult, error) {
	var out EnsureProjectResult
	err := c.Call(ctx, "ensure_project", map[string]any{"slug": slug, "human_key": humanKey}, &out)
	return out, err
}

type RegisterAgentInput struct {
	Project         string `json:"project"`
	Name            string `json:"name,omitempty"`
	Program         string `json:"program,omitempty"`
	Model           string `json:"model,omitempty"`
	TaskDescription string `json:"task_description,omitempty"`
}

type RegisterAgentResult struct {
	AgentID       int64  `json:"agent_id"`
	Name          string `json:"name"`
	ContactPolicy string `json:"contact_policy"`
}

func (c *Client) RegisterAgent(ctx context.Context, in RegisterAgentInput) (RegisterAgentResult, error) {
	var out RegisterAgentResult
	err := c.Call(ctx, "register_agent", in, &out)
	return out, err
}

func (c *Client) Heartbeat(ctx context.Context, project, agent string) error {
	return c.Call(ctx, "heartbeat", map[string]any{"project": project, "agent": agent}, nil)
}

type SendMessageInput struct {
	Project     string   `json:"project"`
	Sender      string   `json:"sender"`
	To          []string `json:"to,omitempty"`
	CC          []string `json:"cc,omitempty"`
	BCC         []string `json:"bcc,omitempty"`
	Subject     string   `json:"subject,omitempty"`
	Body        string   `json:"body"`
	Importance  string   `json:"importance,omitempty"`
	AckRequired bool     `json:"ack_required,omitempty"`
	ThreadID    string   `json:"thread_id,omitempty"`
	InReplyTo   int64    `json:"in_reply_to,omitempty"`
}

type SendMessageResult struct {
	MessageID int64  `json:"message_id"`
	ThreadID  string `json:"thread_id"`
}

func (c *Client) SendMessage(ctx context.Context, in SendMessageInput) (SendMessageResult, error) {
	var out SendMessageResult
	err := c.Call(ctx, "send_message", in, &out)
	return out, err
}

type ReplyMessageInput struct {
	Project     string   `json:"project"`
	Sender      string   `json:"sender"`
	InReplyTo   int64    `json:"in_reply_to"`
	Body        string   `json:"body"`
	Subject     string   `json:"subject,omitempty"`
	To          []string `json:"to,omitempty"`
	CC          []string `json:"cc,omitempty"`
	BCC         []string `json:"bcc,omitempty"`
	Importance  string   `json:"importance,omitempty"`
	AckRequired bool     `json:"ack_required,omitempty"`
}

func (c *Client) ReplyMessage(ctx context.Context, in ReplyMessageInput) (SendMessageResult, error) {
	var out SendMessageResult
	err := c.Call(ctx, "reply_message", in, &out)
	return out, err
}

type InboxMessage struct {
	MessageID   int64      `json:"message_id"`
	ThreadID    string     `json:"thread_id"`
	From        string     `json:"from"`
	Subject     string     `json:"subject"`
	Importance  string     `json:"importance"`
	AckRequired bool       `json:"ack_required"`
	Kind        string     `json:"kind"`
	CreatedAt   time.Time  `json:"created_ts"`
	ReadAt      *time.Time `json:"read_ts"`
	AckAt       *time.Time `json:"ack_ts"`
}

type CheckInboxResult struct {
	Messages []InboxMessage `json:"messages"`
}

func (c *Client) CheckInbox(ctx context.Context, project, agent string, unreadOnly bool, limit int) (CheckInboxResult, error) {
	in := map[string]any{"project": project, "agent": agent, "unread_only": unreadOnly}
	if limit > 0 {
		in["limit"] = limit
	}
	var out CheckInboxResult
	err := c.Call(ctx, "check_inbox", in, &out)
	return out, err
}

type ReadStateResult struct {
	ReadAt *time.Time `json:"read_ts"`
	AckAt  *time.Time `json:"ack_ts"`
}

func (c *Client) MarkMessageRead(ctx context.Context, project, agent string, messageID int64) (ReadStateResult, error) {
	var out ReadStateResult
	err := c.Call(ctx, "mark_message_read",
		map[string]any{"project": project, "agent": agent, "message_id": messageID}, &out)
	return out, err
}

func (c *Client) AcknowledgeMessage(ctx context.Context, project, agent string, messageID int64) (ReadStateResult, error) {
	var out ReadStateResult
	err := c.Call(ctx, "acknowledge_message",
		map[string]any{"project": project, "agent": agent, "message_id": messageID}, &out)
	return out, err
}

type Reservation struct {
	ID         int64      `json:"id"`
	AgentName  string     `json:"agent_name"`
	Paths      []string   `json:"paths"`
	TTLSeconds int64      `json:"ttl_seconds"`
	Exclusive  bool       `json:"exclusive"`
	Reason     string     `json:"reason,omitempty"`
	CreatedAt  time.Time  `json:"created_ts"`
	ExpiresAt  time.Time  `json:"expires_ts"`
	ReleasedAt *time.Time `json:"released_ts,omitempty"`
}

type reservationResult struct {
	Reservation Reservation `json:"reservation"`
}

type ReserveFileInput struct {
	Project    string   `json:"project"`
	Agent      string   `json:"agent"`
	Paths      []string `json:"paths"`
	TTLSeconds int64    `json:"ttl_seconds,omitempty"`
	Exclusive  *bool    `json:"exclusive,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

func (c *Client) ReserveFile(ctx context.Context, in ReserveFileInput) (Reservation, error) {
	var out reservationResult
	err := c.Call(ctx, "reserve_file", in, &out)
	return out.Reservation, err
}

func (c *Client) ReleaseReservation(ctx context.Context, reservationID int64) (Reservation, error) {
	var out reservationResult
	err := c.Call(ctx, "release_reservation", map[string]any{"reservation_id": reservationID}, &out)
	return out.Reservation, err
}

func (c *Client) RenewFileReservation(ctx context.Context, reservationID int64, agent string, ttlSeconds int64) (Reservation, error) {
	in := map[string]any{"reservation_id": reservationID, "agent": agent}
	if ttlSeconds > 0 {
		in["ttl_seconds"] = ttlSeconds
	}
	var out reservationResult
	err := c.Call(ctx, "renew_file_reservation", in, &out)
	return out.Reservation, err
}

type ListReservationsResult struct {
	Reservations []Reservation `json:"reservations"`
}

func (c *Client) ListFileReservations(ctx context.Context, project, filter string) (ListReservationsResult, error) {
	in := map[string]any{"project": project}
	if filter != "" {
		in["filter"] = filter
	}
	var out ListReservationsResult
	err := c.Call(ctx, "list_file_reservations", in, &out)
	return out, err
}

type BuildSlot struct {
	ID         int64      `json:"id"`
	AgentName  string     `json:"agent_name"`
	TTLSeconds int64      `json:"ttl_seconds"`
	CreatedAt  time.Time  `json:"created_ts"`
	ExpiresAt  time.Time  `json:"expires_ts"`
	ReleasedAt *time.Time `json:"released_ts,omitempty"`
}

type buildSlotResult struct {
	Slot BuildSlot `json:"slot"`
}

func (c *Client) AcquireBuildSlot(ctx context.Context, project, agent string, ttlSeconds int64) (BuildSlot, error) {
	in := map[string]any{"project": project, "agent": agent}
	if ttlSeconds > 0 {
		in["ttl_seconds"] = ttlSeconds
	}
	var out buildSlotResult
	err := c.Call(ctx, "acquire_build_slot", in, &out)
	return out.Slot, err
}

func (c *Client) ReleaseBuildSlot(ctx context.Context, slotID int64) (BuildSlot, error) {
	var out buildSlotResult
	err := c.Call(ctx, "release_build_slot", map[string]any{"slot_id": slotID}, &out)
	return out.Slot, err
}

func (c *Client) RequestContact(ctx context.Context, project, agent, toAgent string) error {
	return c.Call(ctx, "request_contact",
		map[string]any{"project": project, "agent": agent, "to_agent": toAgent}, nil)
}

func (c *Client) RespondContact(ctx context.Context, project, agent, fromAgent string, accept bool) error {
	return c.Call(ctx, "respond_contact",
		map[string]any{"project": project, "agent": agent, "from_agent": fromAgent, "accept": accept}, nil)
}

func (c *Client) SetContactPolicy(ctx context.Context, project, agent, policy string) error {
	return c.Call(ctx, "set_contact_policy",
		map[string]any{"project": project, "agent": agent, "policy": policy}, nil)
}

type ThreadSummary struct {
	ThreadID     string    `json:"thread_id"`
	MessageCount int       `json:"message_count"`
	LastFrom     string    `json:"last_from"`
	LastSubject  string    `json:"last_subject"`
	LastAt       time.Time `json:"last_at"`
}

type ListThreadsResult struct {
	Threads []ThreadSummary `json:"threads"`
}

func (c *Client) ListThreads(ctx context.Context, project string, limit int) (ListThreadsResult, error) {
	in := map[string]any{"project": project}
	if limit > 0 {
		in["limit"] = limit
	}
	var out ListThreadsResult
	err := c.Call(ctx, "list_threads", in, &out)
	return out, err
}

type SummarizeThreadResult struct {
	ThreadID string `json:"thread_id"`
	Summary  string `json:"summary"`
}

func (c *Client) SummarizeThread(ctx context.Context, project, threadID string) (SummarizeThreadResult, error) {
	var out SummarizeThreadResult
	err := c.Call(ctx, "summarize_thread", map[string]any{"project": project, "thread_id": threadID}, &out)
	return out, err
}
