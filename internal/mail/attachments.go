package mail

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/mistakeknot/agentmail/internal/archive"
	"github.com/mistakeknot/agentmail/internal/core"
	"github.com/mistakeknot/agentmail/internal/storage/sqlite"
)

type AddAttachmentInput struct {
	Project   string
	Agent     string
	Filename  string
	MediaType string
	Content   []byte
}

// AddAttachment stores the bytes content-addressed under the project's
// attachments tree and records the row. Re-adding identical bytes under
// the same filename lands on the same tree path, so concurrent adds
// collapse.
func (s *Service) AddAttachment(ctx context.Context, in AddAttachmentInput) (core.Attachment, error) {
	if in.Filename == "" {
		return core.Attachment{}, core.Errf(core.KindInvalidArgument, "filename required")
	}
	if len(in.Content) == 0 {
		return core.Attachment{}, core.Errf(core.KindInvalidArgument, "attachment content required")
	}
	if in.MediaType == "" {
		in.MediaType = "application/octet-stream"
	}

	sum := sha256.Sum256(in.Content)
	digest := hex.EncodeToString(sum[:])
	storedPath := archive.AttachmentPath(in.Project, digest, in.Filename)

	var att core.Attachment
	err := s.store.WithTx(ctx, func(tx *sqlite.Tx) error {
		project, err := tx.GetProjectBySlug(ctx, in.Project)
		if err != nil {
			return err
		}
		agent, err := s.resolveAgent(ctx, tx, project.ID, in.Agent)
		if err != nil {
			return err
		}
		att, err = tx.InsertAttachment(ctx, core.Attachment{
			ProjectID:  project.ID,
			AgentID:    agent.ID,
			Filename:   in.Filename,
			StoredPath: storedPath,
			MediaType:  in.MediaType,
			SizeBytes:  int64(len(in.Content)),
			SHA256:     digest,
			CreatedAt:  s.now(),
		})
		if err != nil {
			return core.Wrap(core.KindPersistenceError, err, "insert attachment")
		}
		return nil
	})
	if err != nil {
		return core.Attachment{}, err
	}

	staged := archive.NewStaged()
	staged.Add(storedPath, in.Content)
	if err := s.archiveCommit(ctx, staged, archive.CommitMessage("store", "attachment", int64(att.ID), in.Project)); err != nil {
		return core.Attachment{}, err
	}
	return att, nil
}

// GetAttachment returns the attachment row.
func (s *Service) GetAttachment(ctx context.Context, id core.AttachmentID) (core.Attachment, error) {
	return s.store.Reader().GetAttachment(ctx, id)
}
