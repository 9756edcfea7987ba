package core

// Identifier types for every entity kind. They are all row ids assigned by
// the store, but each gets its own type so an AgentID can never be passed
// where a MessageID is expected.

type ProjectID int64

type AgentID int64

type MessageID int64

type ReservationID int64

type BuildSlotID int64

type AttachmentID int64

type MacroID int64

type ProductID int64
