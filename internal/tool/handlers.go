package tool

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/mistakeknot/agentmail/internal/auth"
	"github.com/mistakeknot/agentmail/internal/core"
	"github.com/mistakeknot/agentmail/internal/mail"
)

var handlers = map[string]handlerFunc{
	"health_check":              handleHealthCheck,
	"ensure_project":            handleEnsureProject,
	"list_projects":             handleListProjects,
	"register_agent":            handleRegisterAgent,
	"list_agents":               handleListAgents,
	"heartbeat":                 handleHeartbeat,
	"send_message":              handleSendMessage,
	"reply_message":             handleReplyMessage,
	"get_message":               handleGetMessage,
	"check_inbox":               handleCheckInbox,
	"mark_message_read":         handleMarkRead,
	"acknowledge_message":       handleAcknowledge,
	"search_messages":           handleSearchMessages,
	"list_threads":              handleListThreads,
	"summarize_thread":          handleSummarizeThread,
	"reserve_file":              handleReserveFile,
	"release_reservation":       handleReleaseReservation,
	"renew_file_reservation":    handleRenewReservation,
	"force_release_reservation": handleForceRelease,
	"list_file_reservations":    handleListReservations,
	"file_reservation_status":   handleReservationStatus,
	"acquire_build_slot":        handleAcquireBuildSlot,
	"renew_build_slot":          handleRenewBuildSlot,
	"release_build_slot":        handleReleaseBuildSlot,
	"request_contact":           handleRequestContact,
	"respond_contact":           handleRespondContact,
	"revoke_contact":            handleRevokeContact,
	"set_contact_policy":        handleSetContactPolicy,
	"list_contacts":             handleListContacts,
	"register_macro":            handleRegisterMacro,
	"list_macros":               handleListMacros,
	"invoke_macro":              handleInvokeMacro,
	"add_attachment":            handleAddAttachment,
	"get_attachment":            handleGetAttachment,
	"ensure_product":            handleEnsureProduct,
	"link_project_to_product":   handleLinkProduct,
	"list_products":             handleListProducts,
}

func decode[T any](raw []byte) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, core.Wrap(core.KindSchemaViolation, err, "decode input")
	}
	return v, nil
}

func handleHealthCheck(_ context.Context, r *Registry, _ auth.Info, _ []byte) (any, error) {
	return map[string]any{
		"status":    "ok",
		"store":     r.svc.Store().CircuitBreakerState(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func handleEnsureProject(ctx context.Context, r *Registry, _ auth.Info, raw []byte) (any, error) {
	in, err := decode[struct {
		Slug     string `json:"slug"`
		HumanKey string `json:"human_key"`
	}](raw)
	if err != nil {
		return nil, err
	}
	project, err := r.svc.EnsureProject(ctx, in.Slug, in.HumanKey)
	if err != nil {
		return nil, err
	}
	return map[string]any{"project_id": project.ID, "slug": project.Slug, "human_key": project.HumanKey}, nil
}

func handleListProjects(ctx context.Context, r *Registry, _ auth.Info, _ []byte) (any, error) {
	projects, err := r.svc.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"projects": projects}, nil
}

func handleRegisterAgent(ctx context.Context, r *Registry, _ auth.Info, raw []byte) (any, error) {
	in, err := decode[struct {
		Project         string `json:"project"`
		Name            string `json:"name"`
		Program         string `json:"program"`
		Model           string `json:"model"`
		TaskDescription string `json:"task_description"`
	}](raw)
	if err != nil {
		return nil, err
	}
	agent, err := r.svc.RegisterAgent(ctx, mail.RegisterAgentInput{
		Project:         in.Project,
		Name:            in.Name,
		Program:         in.Program,
		Model:           in.Model,
		TaskDescription: in.TaskDescription,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"agent_id": agent.ID, "name": agent.Name, "contact_policy": agent.ContactPolicy}, nil
}

func handleListAgents(ctx context.Context, r *Registry, _ auth.Info, raw []byte) (any, error) {
	in, err := decode[struct {
		Project string `json:"project"`
	}](raw)
	if err != nil {
		return nil, err
	}
	agents, err := r.svc.ListAgents(ctx, in.Project)
	if err != nil {
		return nil, err
	}
	return map[string]any{"agents": agents}, nil
}

func handleHeartbeat(ctx context.Context, r *Registry, _ auth.Info, raw []byte) (any, error) {
	in, err := decode[struct {
		Project string `json:"project"`
		Agent   string `json:"agent"`
	}](raw)
	if err != nil {
		return nil, err
	}
	agent, err := r.svc.Heartbeat(ctx, in.Project, in.Agent)
	if err != nil {
		return nil, err
	}
	return map[string]any{"agent_id": agent.ID, "last_active_ts": agent.LastActiveAt}, nil
}

func handleSendMessage(ctx context.Context, r *Registry, _ auth.Info, raw []byte) (any, error) {
	in, err := decode[struct {
		Project     string               `json:"project"`
		Sender      string               `json:"sender"`
		To          []string             `json:"to"`
		CC          []string             `json:"cc"`
		BCC         []string             `json:"bcc"`
		Subject     string               `json:"subject"`
		Body        string               `json:"body"`
		Importance  core.Importance      `json:"importance"`
		AckRequired bool                 `json:"ack_required"`
		ThreadID    string               `json:"thread_id"`
		InReplyTo   core.MessageID       `json:"in_reply_to"`
		Attachments []core.AttachmentID  `json:"attachment_ids"`
	}](raw)
	if err != nil {
		return nil, err
	}
	msg, err := r.svc.SendMessage(ctx, mail.SendMessageInput{
		Project:     in.Project,
		Sender:      in.Sender,
		To:          in.To,
		CC:          in.CC,
		BCC:         in.BCC,
		Subject:     in.Subject,
		Body:        in.Body,
		Importance:  in.Importance,
		AckRequired: in.AckRequired,
		ThreadID:    in.ThreadID,
		InReplyTo:   in.InReplyTo,
		Attachments: in.Attachments,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"message_id": msg.ID, "thread_id": msg.ThreadID}, nil
}

func handleReplyMessage(ctx context.Context, r *Registry, _ auth.Info, raw []byte) (any, error) {
	in, err := decode[struct {
		Project     string          `json:"project"`
		Sender      string          `json:"sender"`
		InReplyTo   core.MessageID  `json:"in_reply_to"`
		Body        string          `json:"body"`
		Subject     string          `json:"subject"`
		To          []string        `json:"to"`
		CC          []string        `json:"cc"`
		BCC         []string        `json:"bcc"`
		Importance  core.Importance `json:"importance"`
		AckRequired bool            `json:"ack_required"`
	}](raw)
	if err != nil {
		return nil, err
	}
	msg, err := r.svc.ReplyMessage(ctx, mail.ReplyInput{
		Project:     in.Project,
		Sender:      in.Sender,
		InReplyTo:   in.InReplyTo,
		Body:        in.Body,
		Subject:     in.Subject,
		To:          in.To,
		CC:          in.CC,
		BCC:         in.BCC,
		Importance:  in.Importance,
		AckRequired: in.AckRequired,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"message_id": msg.ID, "thread_id": msg.ThreadID, "subject": msg.Subject}, nil
}

func handleGetMessage(ctx context.Context, r *Registry, _ auth.Info, raw []byte) (any, error) {
	in, err := decode[struct {
		Project   string         `json:"project"`
		MessageID core.MessageID `json:"message_id"`
	}](raw)
	if err != nil {
		return nil, err
	}
	msg, recipients, err := r.svc.GetMessage(ctx, in.Project, in.MessageID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"message": msg, "recipients": recipients}, nil
}

func handleCheckInbox(ctx context.Context, r *Registry, _ auth.Info, raw []byte) (any, error) {
	in, err := decode[struct {
		Project    string `json:"project"`
		Agent      string `json:"agent"`
		UnreadOnly bool   `json:"unread_only"`
		Limit      int    `json:"limit"`
	}](raw)
	if err != nil {
		return nil, err
	}
	if in.Limit == 0 {
		in.Limit = 50
	}
	items, err := r.svc.Inbox(ctx, in.Project, in.Agent, in.UnreadOnly, in.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, map[string]any{
			"message_id":   item.Message.ID,
			"thread_id":    item.Message.ThreadID,
			"from":         item.Message.SenderName,
			"subject":      item.Message.Subject,
			"importance":   item.Message.Importance,
			"ack_required": item.Message.AckRequired,
			"kind":         item.Kind,
			"created_ts":   item.Message.CreatedAt,
			"read_ts":      item.ReadAt,
			"ack_ts":       item.AckAt,
		})
	}
	return map[string]any{"messages": out}, nil
}

func handleMarkRead(ctx context.Context, r *Registry, _ auth.Info, raw []byte) (any, error) {
	in, err := decode[struct {
		Project   string         `json:"project"`
		Agent     string         `json:"agent"`
		MessageID core.MessageID `json:"message_id"`
	}](raw)
	if err != nil {
		return nil, err
	}
	recipient, err := r.svc.MarkRead(ctx, in.Project, in.MessageID, in.Agent)
	if err != nil {
		return nil, err
	}
	return map[string]any{"read_ts": recipient.ReadAt, "ack_ts": recipient.AckAt}, nil
}

func handleAcknowledge(ctx context.Context, r *Registry, _ auth.Info, raw []byte) (any, error) {
	in, err := decode[struct {
		Project   string         `json:"project"`
		Agent     string         `json:"agent"`
		MessageID core.MessageID `json:"message_id"`
	}](raw)
	if err != nil {
		return nil, err
	}
	recipient, err := r.svc.Acknowledge(ctx, in.Project, in.MessageID, in.Agent)
	if err != nil {
		return nil, err
	}
	return map[string]any{"read_ts": recipient.ReadAt, "ack_ts": recipient.AckAt}, nil
}

func handleSearchMessages(ctx context.Context, r *Registry, _ auth.Info, raw []byte) (any, error) {
	in, err := decode[struct {
		Project string `json:"project"`
		Query   string `json:"query"`
		Limit   int    `json:"limit"`
	}](raw)
	if err != nil {
		return nil, err
	}
	msgs, err := r.svc.SearchMessages(ctx, in.Project, in.Query, in.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"messages": msgs}, nil
}

func handleListThreads(ctx context.Context, r *Registry, _ auth.Info, raw []byte) (any, error) {
	in, err := decode[struct {
		Project string `json:"project"`
		Limit   int    `json:"limit"`
	}](raw)
	if err != nil {
		return nil, err
	}
	threads, err := r.svc.ListThreads(ctx, in.Project, in.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"threads": threads}, nil
}

func handleSummarizeThread(ctx context.Context, r *Registry, _ auth.Info, raw []byte) (any, error) {
	in, err := decode[struct {
		Project  string `json:"project"`
		ThreadID string `json:"thread_id"`
	}](raw)
	if err != nil {
		return nil, err
	}
	summary, err := r.svc.SummarizeThread(ctx, in.Project, in.ThreadID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"thread_id": in.ThreadID, "summary": summary}, nil
}

func handleReserveFile(ctx context.Context, r *Registry, _ auth.Info, raw []byte) (any, error) {
	in, err := decode[struct {
		Project    string   `json:"project"`
		Agent      string   `json:"agent"`
		Paths      []string `json:"paths"`
		TTLSeconds int64    `json:"ttl_seconds"`
		Exclusive  *bool    `json:"exclusive"`
		Reason     string   `json:"reason"`
	}](raw)
	if err != nil {
		return nil, err
	}
	exclusive := true
	if in.Exclusive != nil {
		exclusive = *in.Exclusive
	}
	reservation, err := r.svc.Reserve(ctx, mail.ReserveInput{
		Project:    in.Project,
		Agent:      in.Agent,
		Paths:      in.Paths,
		TTLSeconds: in.TTLSeconds,
		Exclusive:  exclusive,
		Reason:     in.Reason,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"reservation": reservation}, nil
}

func handleReleaseReservation(ctx context.Context, r *Registry, _ auth.Info, raw []byte) (any, error) {
	in, err := decode[struct {
		ReservationID core.ReservationID `json:"reservation_id"`
	}](raw)
	if err != nil {
		return nil, err
	}
	reservation, err := r.svc.ReleaseReservation(ctx, in.ReservationID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"reservation": reservation}, nil
}

func handleRenewReservation(ctx context.Context, r *Registry, _ auth.Info, raw []byte) (any, error) {
	in, err := decode[struct {
		ReservationID core.ReservationID `json:"reservation_id"`
		Agent         string             `json:"agent"`
		TTLSeconds    int64              `json:"ttl_seconds"`
	}](raw)
	if err != nil {
		return nil, err
	}
	reservation, err := r.svc.RenewReservation(ctx, in.ReservationID, in.Agent, in.TTLSeconds)
	if err != nil {
		return nil, err
	}
	return map[string]any{"reservation": reservation}, nil
}

func handleForceRelease(ctx context.Context, r *Registry, _ auth.Info, raw []byte) (any, error) {
	in, err := decode[struct {
		ReservationID core.ReservationID `json:"reservation_id"`
		Reason        string             `json:"reason"`
	}](raw)
	if err != nil {
		return nil, err
	}
	reservation, err := r.svc.ForceReleaseReservation(ctx, in.ReservationID, in.Reason)
	if err != nil {
		return nil, err
	}
	return map[string]any{"reservation": reservation}, nil
}

func handleListReservations(ctx context.Context, r *Registry, _ auth.Info, raw []byte) (any, error) {
	in, err := decode[struct {
		Project string `json:"project"`
		Filter  string `json:"filter"`
	}](raw)
	if err != nil {
		return nil, err
	}
	activeOnly := in.Filter != "all"
	reservations, err := r.svc.ListReservations(ctx, in.Project, activeOnly)
	if err != nil {
		return nil, err
	}
	return map[string]any{"reservations": reservations}, nil
}

func handleReservationStatus(ctx context.Context, r *Registry, _ auth.Info, raw []byte) (any, error) {
	in, err := decode[struct {
		Project string   `json:"project"`
		Paths   []string `json:"paths"`
	}](raw)
	if err != nil {
		return nil, err
	}
	status, err := r.svc.PathsStatus(ctx, in.Project, in.Paths)
	if err != nil {
		return nil, err
	}
	return map[string]any{"paths": status}, nil
}

func handleAcquireBuildSlot(ctx context.Context, r *Registry, _ auth.Info, raw []byte) (any, error) {
	in, err := decode[struct {
		Project    string `json:"project"`
		Agent      string `json:"agent"`
		TTLSeconds int64  `json:"ttl_seconds"`
	}](raw)
	if err != nil {
		return nil, err
	}
	slot, err := r.svc.AcquireBuildSlot(ctx, in.Project, in.Agent, in.TTLSeconds)
	if err != nil {
		return nil, err
	}
	return map[string]any{"slot": slot}, nil
}

func handleRenewBuildSlot(ctx context.Context, r *Registry, _ auth.Info, raw []byte) (any, error) {
	in, err := decode[struct {
		SlotID     core.BuildSlotID `json:"slot_id"`
		Agent      string           `json:"agent"`
		TTLSeconds int64            `json:"ttl_seconds"`
	}](raw)
	if err != nil {
		return nil, err
	}
	slot, err := r.svc.RenewBuildSlot(ctx, in.SlotID, in.Agent, in.TTLSeconds)
	if err != nil {
		return nil, err
	}
	return map[string]any{"slot": slot}, nil
}

func handleReleaseBuildSlot(ctx context.Context, r *Registry, _ auth.Info, raw []byte) (any, error) {
	in, err := decode[struct {
		SlotID core.BuildSlotID `json:"slot_id"`
	}](raw)
	if err != nil {
		return nil, err
	}
	slot, err := r.svc.ReleaseBuildSlot(ctx, in.SlotID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"slot": slot}, nil
}

func handleRequestContact(ctx context.Context, r *Registry, _ auth.Info, raw []byte) (any, error) {
	in, err := decode[struct {
		Project string `json:"project"`
		Agent   string `json:"agent"`
		ToAgent string `json:"to_agent"`
	}](raw)
	if err != nil {
		return nil, err
	}
	contact, err := r.svc.RequestContact(ctx, in.Project, in.Agent, in.ToAgent)
	if err != nil {
		return nil, err
	}
	return map[string]any{"contact": contact}, nil
}

func handleRespondContact(ctx context.Context, r *Registry, _ auth.Info, raw []byte) (any, error) {
	in, err := decode[struct {
		Project   string `json:"project"`
		Agent     string `json:"agent"`
		FromAgent string `json:"from_agent"`
		Accept    bool   `json:"accept"`
	}](raw)
	if err != nil {
		return nil, err
	}
	contact, err := r.svc.RespondContact(ctx, in.Project, in.Agent, in.FromAgent, in.Accept)
	if err != nil {
		return nil, err
	}
	return map[string]any{"contact": contact}, nil
}

func handleRevokeContact(ctx context.Context, r *Registry, _ auth.Info, raw []byte) (any, error) {
	in, err := decode[struct {
		Project    string `json:"project"`
		Agent      string `json:"agent"`
		OtherAgent string `json:"other_agent"`
	}](raw)
	if err != nil {
		return nil, err
	}
	contact, err := r.svc.RevokeContact(ctx, in.Project, in.Agent, in.OtherAgent)
	if err != nil {
		return nil, err
	}
	return map[string]any{"contact": contact}, nil
}

func handleSetContactPolicy(ctx context.Context, r *Registry, _ auth.Info, raw []byte) (any, error) {
	in, err := decode[struct {
		Project string             `json:"project"`
		Agent   string             `json:"agent"`
		Policy  core.ContactPolicy `json:"policy"`
	}](raw)
	if err != nil {
		return nil, err
	}
	agent, err := r.svc.SetContactPolicy(ctx, in.Project, in.Agent, in.Policy)
	if err != nil {
		return nil, err
	}
	return map[string]any{"agent_id": agent.ID, "contact_policy": agent.ContactPolicy}, nil
}

func handleListContacts(ctx context.Context, r *Registry, _ auth.Info, raw []byte) (any, error) {
	in, err := decode[struct {
		Project string `json:"project"`
		Agent   string `json:"agent"`
	}](raw)
	if err != nil {
		return nil, err
	}
	contacts, err := r.svc.ListContacts(ctx, in.Project, in.Agent)
	if err != nil {
		return nil, err
	}
	return map[string]any{"contacts": contacts}, nil
}

func handleRegisterMacro(ctx context.Context, r *Registry, _ auth.Info, raw []byte) (any, error) {
	in, err := decode[struct {
		Project string           `json:"project"`
		Name    string           `json:"name"`
		Steps   []core.MacroStep `json:"steps"`
	}](raw)
	if err != nil {
		return nil, err
	}
	macro, err := r.svc.RegisterMacro(ctx, in.Project, in.Name, in.Steps)
	if err != nil {
		return nil, err
	}
	return map[string]any{"macro_id": macro.ID, "name": macro.Name}, nil
}

func handleListMacros(ctx context.Context, r *Registry, _ auth.Info, raw []byte) (any, error) {
	in, err := decode[struct {
		Project string `json:"project"`
	}](raw)
	if err != nil {
		return nil, err
	}
	macros, err := r.svc.ListMacros(ctx, in.Project)
	if err != nil {
		return nil, err
	}
	return map[string]any{"macros": macros}, nil
}

// handleInvokeMacro expands the step sequence into frontier calls bound
// to the invoking agent. Execution stops at the first failing step.
func handleInvokeMacro(ctx context.Context, r *Registry, caller auth.Info, raw []byte) (any, error) {
	in, err := decode[struct {
		Project string         `json:"project"`
		Agent   string         `json:"agent"`
		Name    string         `json:"name"`
		Params  map[string]any `json:"params"`
	}](raw)
	if err != nil {
		return nil, err
	}
	macro, err := r.svc.GetMacro(ctx, in.Project, in.Name)
	if err != nil {
		return nil, err
	}

	results := make([]any, 0, len(macro.Steps))
	for i, step := range macro.Steps {
		canonical, ok := r.Resolve(step.Tool)
		if !ok {
			return nil, core.Errf(core.KindToolNotFound, "macro %q step %d: unknown tool %q", in.Name, i, step.Tool)
		}
		args := expandArgs(step.Args, in.Params)
		if _, ok := args["project"]; !ok && toolTakesProject(canonical) {
			args["project"] = in.Project
		}
		bindStepAgent(canonical, args, in.Agent)

		stepRaw, err := json.Marshal(args)
		if err != nil {
			return nil, core.Wrap(core.KindInvalidArgument, err, "macro step %d args", i)
		}
		result, err := r.Dispatch(ctx, step.Tool, caller, stepRaw)
		if err != nil {
			env := Envelope(err)
			return nil, core.Errf(core.Kind{Code: env.Code, Name: env.Name}, "macro %q step %d (%s): %s", in.Name, i, step.Tool, env.Message).
				WithDetails(map[string]any{"step": i, "tool": step.Tool, "details": env.Details})
		}
		results = append(results, result)
	}
	return map[string]any{"macro": macro.Name, "steps": results}, nil
}

// bindStepAgent fills the invoking agent into whichever identity field
// the target tool expects, if it expects one.
func bindStepAgent(canonical string, args map[string]any, agent string) {
	field := agentField(canonical)
	if field == "" {
		return
	}
	if _, ok := args[field]; !ok {
		args[field] = agent
	}
}

// agentField names the identity input of a tool, or empty when the tool
// takes none.
func agentField(canonical string) string {
	switch canonical {
	case "send_message", "reply_message":
		return "sender"
	case "heartbeat", "check_inbox", "mark_message_read",
		"acknowledge_message", "reserve_file", "renew_file_reservation",
		"acquire_build_slot", "renew_build_slot", "request_contact",
		"respond_contact", "revoke_contact", "set_contact_policy",
		"list_contacts", "invoke_macro", "add_attachment":
		return "agent"
	default:
		return ""
	}
}

// toolTakesProject reports whether the tool's schema declares a project
// field.
func toolTakesProject(canonical string) bool {
	switch canonical {
	case "health_check", "ensure_project", "list_projects", "release_reservation",
		"renew_file_reservation", "force_release_reservation",
		"renew_build_slot", "release_build_slot", "get_attachment",
		"ensure_product", "list_products":
		return false
	default:
		return true
	}
}

// expandArgs substitutes "{{param}}" placeholders in string values,
// recursing into nested objects and arrays.
func expandArgs(args map[string]any, params map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = expandValue(v, params)
	}
	return out
}

func expandValue(v any, params map[string]any) any {
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, "{{") && strings.HasSuffix(val, "}}") {
			key := strings.TrimSpace(val[2 : len(val)-2])
			if sub, ok := params[key]; ok {
				return sub
			}
			return val
		}
		for key, sub := range params {
			if s, ok := sub.(string); ok {
				val = strings.ReplaceAll(val, "{{"+key+"}}", s)
			}
		}
		return val
	case map[string]any:
		return expandArgs(val, params)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = expandValue(item, params)
		}
		return out
	default:
		return v
	}
}

func handleAddAttachment(ctx context.Context, r *Registry, _ auth.Info, raw []byte) (any, error) {
	in, err := decode[struct {
		Project       string `json:"project"`
		Agent         string `json:"agent"`
		Filename      string `json:"filename"`
		MediaType     string `json:"media_type"`
		ContentBase64 string `json:"content_base64"`
	}](raw)
	if err != nil {
		return nil, err
	}
	content, err := base64.StdEncoding.DecodeString(in.ContentBase64)
	if err != nil {
		return nil, core.Wrap(core.KindInvalidArgument, err, "content_base64")
	}
	att, err := r.svc.AddAttachment(ctx, mail.AddAttachmentInput{
		Project:   in.Project,
		Agent:     in.Agent,
		Filename:  in.Filename,
		MediaType: in.MediaType,
		Content:   content,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"attachment_id": att.ID, "stored_path": att.StoredPath, "sha256": att.SHA256}, nil
}

func handleGetAttachment(ctx context.Context, r *Registry, _ auth.Info, raw []byte) (any, error) {
	in, err := decode[struct {
		AttachmentID core.AttachmentID `json:"attachment_id"`
	}](raw)
	if err != nil {
		return nil, err
	}
	att, err := r.svc.GetAttachment(ctx, in.AttachmentID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"attachment": att}, nil
}

func handleEnsureProduct(ctx context.Context, r *Registry, _ auth.Info, raw []byte) (any, error) {
	in, err := decode[struct {
		Name string `json:"name"`
	}](raw)
	if err != nil {
		return nil, err
	}
	product, err := r.svc.EnsureProduct(ctx, in.Name)
	if err != nil {
		return nil, err
	}
	return map[string]any{"product_id": product.ID, "uid": product.UID, "name": product.Name}, nil
}

func handleLinkProduct(ctx context.Context, r *Registry, _ auth.Info, raw []byte) (any, error) {
	in, err := decode[struct {
		Product string `json:"product"`
		Project string `json:"project"`
	}](raw)
	if err != nil {
		return nil, err
	}
	product, err := r.svc.LinkProjectToProduct(ctx, in.Product, in.Project)
	if err != nil {
		return nil, err
	}
	return map[string]any{"product_id": product.ID, "project_ids": product.Projects}, nil
}

func handleListProducts(ctx context.Context, r *Registry, _ auth.Info, _ []byte) (any, error) {
	products, err := r.svc.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"products": products}, nil
}
