package mail

import (
	"context"
	"fmt"
	"strings"

	"github.com/mistakeknot/agentmail/internal/archive"
	"github.com/mistakeknot/agentmail/internal/core"
	"github.com/mistakeknot/agentmail/internal/storage/sqlite"
)

type SendMessageInput struct {
	Project     string
	Sender      string
	To          []string
	CC          []string
	BCC         []string
	Subject     string
	Body        string
	Importance  core.Importance
	AckRequired bool
	ThreadID    string
	InReplyTo   core.MessageID
	Attachments []core.AttachmentID
}

// SendMessage routes, persists, and archives one message. The relational
// rows and the archive commit succeed or fail together: when the archive
// commit fails after the rows committed, a compensating delete removes
// them and the call reports ArchiveWriteError.
func (s *Service) SendMessage(ctx context.Context, in SendMessageInput) (core.Message, error) {
	if in.Importance == "" {
		in.Importance = core.ImportanceNormal
	}
	if !in.Importance.Valid() {
		return core.Message{}, core.Errf(core.KindInvalidArgument, "importance %q: must be normal, high, or urgent", in.Importance)
	}

	var (
		msg    core.Message
		staged *archive.Staged
		names  []string
	)
	err := s.store.WithTx(ctx, func(tx *sqlite.Tx) error {
		project, err := tx.GetProjectBySlug(ctx, in.Project)
		if err != nil {
			return err
		}
		sender, err := s.resolveAgent(ctx, tx, project.ID, in.Sender)
		if err != nil {
			return err
		}

		routed, err := s.route(ctx, tx, project, sender, in.To, in.CC, in.BCC)
		if err != nil {
			return err
		}

		threadID := in.ThreadID
		if threadID == "" && in.InReplyTo != 0 {
			parent, err := tx.GetMessage(ctx, in.InReplyTo)
			if err != nil {
				return err
			}
			if parent.ProjectID != project.ID {
				return core.Errf(core.KindMessageNotFound, "message %d not in project %q", in.InReplyTo, in.Project)
			}
			threadID = parent.ThreadID
		}

		msg, err = tx.InsertMessage(ctx, core.Message{
			ProjectID:   project.ID,
			SenderID:    sender.ID,
			SenderName:  sender.Name,
			ThreadID:    threadID,
			Subject:     in.Subject,
			Body:        in.Body,
			Importance:  in.Importance,
			AckRequired: in.AckRequired,
			CreatedAt:   s.now(),
		})
		if err != nil {
			return core.Wrap(core.KindPersistenceError, err, "insert message")
		}
		if msg.ThreadID == "" {
			// fresh conversation: the thread key derives from the first
			// message's own id
			msg.ThreadID = fmt.Sprintf("thread-%d", msg.ID)
			if err := tx.SetMessageThread(ctx, msg.ID, msg.ThreadID); err != nil {
				return core.Wrap(core.KindPersistenceError, err, "set thread")
			}
		}

		for _, r := range routed.recipients {
			if err := tx.InsertRecipient(ctx, core.Recipient{
				MessageID: msg.ID,
				AgentID:   r.agent.ID,
				Kind:      r.kind,
			}); err != nil {
				return core.Wrap(core.KindPersistenceError, err, "insert recipient")
			}
		}

		if err := tx.IndexMessage(ctx, project.ID, msg.ID, in.Subject+" "+in.Body); err != nil {
			return core.Wrap(core.KindPersistenceError, err, "index message")
		}

		for _, attID := range in.Attachments {
			att, err := tx.GetAttachment(ctx, attID)
			if err != nil {
				return err
			}
			if att.ProjectID != project.ID {
				return core.Errf(core.KindAttachmentNotFound, "attachment %d not in project %q", attID, in.Project)
			}
			if err := tx.BindAttachment(ctx, attID, msg.ID); err != nil {
				return err
			}
		}

		staged, names = s.stageMessage(project.Slug, msg, routed)
		return nil
	})
	if err != nil {
		return core.Message{}, err
	}

	commitMsg := archive.CommitMessage("create", "message", int64(msg.ID), in.Project)
	if err := s.archiveCommit(ctx, staged, commitMsg); err != nil {
		// compensating delete: the relational half must not outlive a
		// failed archive commit
		if delErr := s.store.WithTx(ctx, func(tx *sqlite.Tx) error {
			return tx.DeleteMessage(ctx, msg.ID)
		}); delErr != nil {
			s.log.Error("compensating delete failed", "message_id", msg.ID, "err", delErr)
		}
		return core.Message{}, err
	}

	for _, name := range names {
		s.broadcast(in.Project, name, core.Event{
			Type:    core.EventMessageCreated,
			Project: in.Project,
			Agent:   name,
			Payload: map[string]any{
				"message_id": msg.ID,
				"thread_id":  msg.ThreadID,
				"from":       msg.SenderName,
				"subject":    msg.Subject,
			},
		})
	}
	return msg, nil
}

type ReplyInput struct {
	Project     string
	Sender      string
	InReplyTo   core.MessageID
	Body        string
	Subject     string // optional override; default derives from the parent
	To          []string
	CC          []string
	BCC         []string
	Importance  core.Importance
	AckRequired bool
}

// ReplyMessage continues a thread: the parent's thread id is inherited,
// the subject gains a single reply prefix, and the recipient set defaults
// to the parent's participants minus the replying sender.
func (s *Service) ReplyMessage(ctx context.Context, in ReplyInput) (core.Message, error) {
	r := s.store.Reader()
	project, err := r.GetProjectBySlug(ctx, in.Project)
	if err != nil {
		return core.Message{}, err
	}
	parent, err := r.GetMessage(ctx, in.InReplyTo)
	if err != nil {
		return core.Message{}, err
	}
	if parent.ProjectID != project.ID {
		return core.Message{}, core.Errf(core.KindMessageNotFound, "message %d not in project %q", in.InReplyTo, in.Project)
	}

	subject := in.Subject
	if subject == "" {
		subject = replySubject(parent.Subject)
	}

	to := in.To
	if len(to) == 0 && len(in.CC) == 0 && len(in.BCC) == 0 {
		recipients, err := r.Recipients(ctx, parent.ID)
		if err != nil {
			return core.Message{}, err
		}
		seen := map[string]struct{}{in.Sender: {}}
		if parent.SenderName != in.Sender {
			to = append(to, parent.SenderName)
			seen[parent.SenderName] = struct{}{}
		}
		for _, rec := range recipients {
			if rec.Kind == core.KindBCC {
				continue
			}
			if _, ok := seen[rec.AgentName]; ok {
				continue
			}
			seen[rec.AgentName] = struct{}{}
			to = append(to, rec.AgentName)
		}
	}

	return s.SendMessage(ctx, SendMessageInput{
		Project:     in.Project,
		Sender:      in.Sender,
		To:          to,
		CC:          in.CC,
		BCC:         in.BCC,
		Subject:     subject,
		Body:        in.Body,
		Importance:  in.Importance,
		AckRequired: in.AckRequired,
		InReplyTo:   parent.ID,
	})
}

// replySubject prepends a single reply prefix; an existing prefix is left
// untouched.
func replySubject(subject string) string {
	if strings.HasPrefix(subject, "Re: ") {
		return subject
	}
	return "Re: " + subject
}

// MarkRead sets read_ts on the recipient row if unset. Re-reading is a
// no-op, not an error.
func (s *Service) MarkRead(ctx context.Context, projectSlug string, message core.MessageID, agentName string) (core.Recipient, error) {
	return s.markRecipient(ctx, projectSlug, message, agentName, false)
}

// Acknowledge sets ack_ts (and read_ts when still unset). Idempotent.
func (s *Service) Acknowledge(ctx context.Context, projectSlug string, message core.MessageID, agentName string) (core.Recipient, error) {
	return s.markRecipient(ctx, projectSlug, message, agentName, true)
}

func (s *Service) markRecipient(ctx context.Context, projectSlug string, message core.MessageID, agentName string, ack bool) (core.Recipient, error) {
	var recipient core.Recipient
	err := s.store.WithTx(ctx, func(tx *sqlite.Tx) error {
		project, err := tx.GetProjectBySlug(ctx, projectSlug)
		if err != nil {
			return err
		}
		agent, err := s.resolveAgent(ctx, tx, project.ID, agentName)
		if err != nil {
			return err
		}
		if _, err := tx.GetRecipient(ctx, message, agent.ID); err != nil {
			return err
		}
		now := s.now()
		if ack {
			if _, err := tx.MarkAck(ctx, message, agent.ID, now); err != nil {
				return core.Wrap(core.KindPersistenceError, err, "acknowledge")
			}
		} else {
			if _, err := tx.MarkRead(ctx, message, agent.ID, now); err != nil {
				return core.Wrap(core.KindPersistenceError, err, "mark read")
			}
		}
		recipient, err = tx.GetRecipient(ctx, message, agent.ID)
		return err
	})
	if err != nil {
		return core.Recipient{}, err
	}

	evType := core.EventMessageRead
	if ack {
		evType = core.EventMessageAck
	}
	s.broadcast(projectSlug, agentName, core.Event{
		Type:    evType,
		Project: projectSlug,
		Agent:   agentName,
		Payload: map[string]any{"message_id": message},
	})
	return recipient, nil
}

// Inbox lists the agent's received messages, newest first.
func (s *Service) Inbox(ctx context.Context, projectSlug, agentName string, unreadOnly bool, limit int) ([]sqlite.InboxItem, error) {
	r := s.store.Reader()
	project, err := r.GetProjectBySlug(ctx, projectSlug)
	if err != nil {
		return nil, err
	}
	agent, err := r.GetAgentByName(ctx, project.ID, agentName)
	if err != nil {
		return nil, err
	}
	return r.ListInbox(ctx, project.ID, agent.ID, unreadOnly, limit)
}

// GetMessage returns the message plus its recipient rows.
func (s *Service) GetMessage(ctx context.Context, projectSlug string, id core.MessageID) (core.Message, []core.Recipient, error) {
	r := s.store.Reader()
	project, err := r.GetProjectBySlug(ctx, projectSlug)
	if err != nil {
		return core.Message{}, nil, err
	}
	msg, err := r.GetMessage(ctx, id)
	if err != nil {
		return core.Message{}, nil, err
	}
	if msg.ProjectID != project.ID {
		return core.Message{}, nil, core.Errf(core.KindMessageNotFound, "message %d not in project %q", id, projectSlug)
	}
	recipients, err := r.Recipients(ctx, id)
	if err != nil {
		return core.Message{}, nil, err
	}
	return msg, recipients, nil
}

// SearchMessages queries the token index; prefix matching with recency
// ranking only.
func (s *Service) SearchMessages(ctx context.Context, projectSlug, query string, limit int) ([]core.Message, error) {
	r := s.store.Reader()
	project, err := r.GetProjectBySlug(ctx, projectSlug)
	if err != nil {
		return nil, err
	}
	return r.SearchMessages(ctx, project.ID, query, limit)
}

// stageMessage builds the archive file set for a committed message:
// canonical copy, sender outbox copy, and one inbox copy per non-bcc
// recipient. Returns the broadcast recipient names as well.
func (s *Service) stageMessage(projectSlug string, msg core.Message, routed routedSet) (*archive.Staged, []string) {
	doc := archive.MessageDoc{
		ID:          msg.ID,
		ThreadID:    msg.ThreadID,
		From:        msg.SenderName,
		Subject:     msg.Subject,
		Importance:  msg.Importance,
		AckRequired: msg.AckRequired,
		CreatedAt:   msg.CreatedAt,
		Body:        msg.Body,
	}
	var names []string
	for _, r := range routed.recipients {
		names = append(names, r.agent.Name)
		switch r.kind {
		case core.KindTo:
			doc.To = append(doc.To, r.agent.Name)
		case core.KindCC:
			doc.CC = append(doc.CC, r.agent.Name)
		case core.KindBCC:
			doc.BCC = append(doc.BCC, r.agent.Name)
		}
	}

	rendered := doc.Render()
	staged := archive.NewStaged()
	staged.Add(doc.CanonicalPath(projectSlug), rendered)
	staged.Add(doc.OutboxPath(projectSlug), rendered)
	for _, name := range doc.InboxRecipients() {
		staged.Add(doc.InboxPath(projectSlug, name), rendered)
	}
	return staged, names
}
