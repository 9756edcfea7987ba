package core

import "time"

type EventType string

const (
	EventMessageCreated     EventType = "message.created"
	EventMessageRead        EventType = "message.read"
	EventMessageAck         EventType = "message.ack"
	EventAgentRegistered    EventType = "agent.registered"
	EventAgentHeartbeat     EventType = "agent.heartbeat"
	EventReservationGranted EventType = "reservation.granted"
	EventReservationRelease EventType = "reservation.released"
	EventReservationExpired EventType = "reservation.expired"
	EventBuildSlotAcquired  EventType = "build_slot.acquired"
	EventBuildSlotReleased  EventType = "build_slot.released"
)

// Importance levels a message can carry. Stored verbatim, never escalated.
type Importance string

const (
	ImportanceNormal Importance = "normal"
	ImportanceHigh   Importance = "high"
	ImportanceUrgent Importance = "urgent"
)

func (i Importance) Valid() bool {
	switch i {
	case ImportanceNormal, ImportanceHigh, ImportanceUrgent:
		return true
	}
	return false
}

// ContactPolicy controls who may send to an agent.
type ContactPolicy string

const (
	PolicyOpen         ContactPolicy = "open"
	PolicyAuto         ContactPolicy = "auto"
	PolicyContactsOnly ContactPolicy = "contacts_only"
	PolicyBlockAll     ContactPolicy = "block_all"
)

func (p ContactPolicy) Valid() bool {
	switch p {
	case PolicyOpen, PolicyAuto, PolicyContactsOnly, PolicyBlockAll:
		return true
	}
	return false
}

// ContactState is the lifecycle of a contact edge between two agents:
// pending -> accepted | rejected; accepted -> revoked.
type ContactState string

const (
	ContactPending  ContactState = "pending"
	ContactAccepted ContactState = "accepted"
	ContactRejected ContactState = "rejected"
	ContactRevoked  ContactState = "revoked"
)

// RecipientKind orders to > cc > bcc; duplicates across kinds collapse to
// the highest.
type RecipientKind string

const (
	KindTo  RecipientKind = "to"
	KindCC  RecipientKind = "cc"
	KindBCC RecipientKind = "bcc"
)

func (k RecipientKind) Rank() int {
	switch k {
	case KindTo:
		return 3
	case KindCC:
		return 2
	case KindBCC:
		return 1
	}
	return 0
}

type Project struct {
	ID        ProjectID `json:"id"`
	Slug      string    `json:"slug"`
	HumanKey  string    `json:"human_key"`
	CreatedAt time.Time `json:"created_ts"`
}

type Agent struct {
	ID              AgentID       `json:"id"`
	ProjectID       ProjectID     `json:"project_id"`
	Name            string        `json:"name"`
	Program         string        `json:"program"`
	Model           string        `json:"model"`
	TaskDescription string        `json:"task_description"`
	ContactPolicy   ContactPolicy `json:"contact_policy"`
	InceptionAt     time.Time     `json:"inception_ts"`
	LastActiveAt    time.Time     `json:"last_active_ts"`
}

type Message struct {
	ID          MessageID  `json:"id"`
	ProjectID   ProjectID  `json:"project_id"`
	SenderID    AgentID    `json:"sender_id"`
	SenderName  string     `json:"sender_name,omitempty"`
	ThreadID    string     `json:"thread_id"`
	Subject     string     `json:"subject"`
	Body        string     `json:"body"`
	Importance  Importance `json:"importance"`
	AckRequired bool       `json:"ack_required"`
	CreatedAt   time.Time  `json:"created_ts"`
}

// Recipient is one (message, agent) delivery row. ReadAt and AckAt start
// null and are set at most once each.
type Recipient struct {
	MessageID MessageID     `json:"message_id"`
	AgentID   AgentID       `json:"agent_id"`
	AgentName string        `json:"agent_name,omitempty"`
	Kind      RecipientKind `json:"kind"`
	ReadAt    *time.Time    `json:"read_ts,omitempty"`
	AckAt     *time.Time    `json:"ack_ts,omitempty"`
}

type Attachment struct {
	ID         AttachmentID `json:"id"`
	ProjectID  ProjectID    `json:"project_id"`
	AgentID    AgentID      `json:"agent_id,omitempty"`
	MessageID  MessageID    `json:"message_id,omitempty"`
	Filename   string       `json:"filename"`
	StoredPath string       `json:"stored_path"`
	MediaType  string       `json:"media_type"`
	SizeBytes  int64        `json:"size_bytes"`
	SHA256     string       `json:"sha256"`
	CreatedAt  time.Time    `json:"created_ts"`
}

// Reservation is an advisory TTL lease over a set of glob path patterns.
// Active is derived from timestamps, never stored.
type Reservation struct {
	ID         ReservationID `json:"id"`
	ProjectID  ProjectID     `json:"project_id"`
	AgentID    AgentID       `json:"agent_id"`
	AgentName  string        `json:"agent_name,omitempty"`
	Paths      []string      `json:"paths"`
	TTLSeconds int64         `json:"ttl_seconds"`
	Exclusive  bool          `json:"exclusive"`
	Reason     string        `json:"reason,omitempty"`
	CreatedAt  time.Time     `json:"created_ts"`
	ExpiresAt  time.Time     `json:"expires_ts"`
	ReleasedAt *time.Time    `json:"released_ts,omitempty"`
}

// ActiveAt reports whether the reservation is unreleased and unexpired at t.
func (r Reservation) ActiveAt(t time.Time) bool {
	return r.ReleasedAt == nil && r.ExpiresAt.After(t)
}

type BuildSlot struct {
	ID         BuildSlotID `json:"id"`
	ProjectID  ProjectID   `json:"project_id"`
	AgentID    AgentID     `json:"agent_id"`
	AgentName  string      `json:"agent_name,omitempty"`
	TTLSeconds int64       `json:"ttl_seconds"`
	CreatedAt  time.Time   `json:"created_ts"`
	ExpiresAt  time.Time   `json:"expires_ts"`
	ReleasedAt *time.Time  `json:"released_ts,omitempty"`
}

func (s BuildSlot) ActiveAt(t time.Time) bool {
	return s.ReleasedAt == nil && s.ExpiresAt.After(t)
}

// Contact is the single symmetric edge between two agents. AgentA is always
// the smaller id so the pair has one canonical row.
type Contact struct {
	ProjectID   ProjectID    `json:"project_id"`
	AgentA      AgentID      `json:"agent_a"`
	AgentB      AgentID      `json:"agent_b"`
	State       ContactState `json:"state"`
	RequestedBy AgentID      `json:"requested_by"`
	RequestedAt time.Time    `json:"requested_ts"`
	DecidedAt   *time.Time   `json:"decided_ts,omitempty"`
}

// MacroStep is one templated tool invocation inside a macro. String values
// in Args may reference invocation parameters with "{{name}}" placeholders.
type MacroStep struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

type Macro struct {
	ID        MacroID     `json:"id"`
	ProjectID ProjectID   `json:"project_id,omitempty"`
	Name      string      `json:"name"`
	Steps     []MacroStep `json:"steps"`
	CreatedAt time.Time   `json:"created_ts"`
}

type Product struct {
	ID        ProductID   `json:"id"`
	UID       string      `json:"uid"`
	Name      string      `json:"name"`
	Projects  []ProjectID `json:"project_ids"`
	CreatedAt time.Time   `json:"created_ts"`
}

// ThreadSummary is the derived per-thread view; the latest message is the
// representative.
type ThreadSummary struct {
	ThreadID     string    `json:"thread_id"`
	MessageCount int       `json:"message_count"`
	LastID       MessageID `json:"last_message_id"`
	LastFrom     string    `json:"last_from"`
	LastSubject  string    `json:"last_subject"`
	LastAt       time.Time `json:"last_at"`
}

// Event is broadcast to streaming subscribers after a successful commit.
type Event struct {
	Type      EventType      `json:"type"`
	Project   string         `json:"project"`
	Agent     string         `json:"agent,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
