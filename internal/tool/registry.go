// Package tool is the dispatch frontier: every core verb is exposed as a
// named tool with a declared JSON-schema contract. Dispatch authenticates
// the caller binding, rate-limits, validates input, runs the controller,
// and appends an audit row. Canonical names are the contract; aliases are
// a dispatch-table property only.
package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/mistakeknot/agentmail/internal/auth"
	"github.com/mistakeknot/agentmail/internal/core"
	"github.com/mistakeknot/agentmail/internal/mail"
	"github.com/mistakeknot/agentmail/internal/storage/sqlite"
)

type handlerFunc func(ctx context.Context, r *Registry, caller auth.Info, raw []byte) (any, error)

type toolEntry struct {
	name    string
	schema  *jsonschema.Schema
	handler handlerFunc
}

type Registry struct {
	svc     *mail.Service
	tools   map[string]*toolEntry
	aliases map[string]string
	limiter *RateLimiter
	log     *slog.Logger
}

func NewRegistry(svc *mail.Service, ratePerMinute int, log *slog.Logger) (*Registry, error) {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		svc:     svc,
		tools:   make(map[string]*toolEntry),
		aliases: aliases,
		limiter: NewRateLimiter(ratePerMinute),
		log:     log,
	}

	compiler := jsonschema.NewCompiler()
	for name, src := range schemas {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(src)))
		if err != nil {
			return nil, fmt.Errorf("tool %s schema: %w", name, err)
		}
		url := "tool:///" + name + ".json"
		if err := compiler.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("tool %s schema: %w", name, err)
		}
	}
	for name := range schemas {
		sch, err := compiler.Compile("tool:///" + name + ".json")
		if err != nil {
			return nil, fmt.Errorf("compile tool %s schema: %w", name, err)
		}
		handler, ok := handlers[name]
		if !ok {
			return nil, fmt.Errorf("tool %s has a schema but no handler", name)
		}
		r.tools[name] = &toolEntry{name: name, schema: sch, handler: handler}
	}
	return r, nil
}

// Names returns the canonical tool names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// AliasNames returns the legacy names in the alias table, sorted.
func (r *Registry) AliasNames() []string {
	out := make([]string, 0, len(r.aliases))
	for name := range r.aliases {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Resolve maps an alias or canonical name to its canonical form.
func (r *Registry) Resolve(name string) (string, bool) {
	if canonical, ok := r.aliases[name]; ok {
		name = canonical
	}
	_, ok := r.tools[name]
	return name, ok
}

// Dispatch runs one tool call end to end. The returned error is always
// envelope-mappable; transports serialize it with Envelope.
func (r *Registry) Dispatch(ctx context.Context, name string, caller auth.Info, raw []byte) (result any, err error) {
	start := time.Now()
	canonical, ok := r.Resolve(name)
	if !ok {
		return nil, core.Errf(core.KindToolNotFound, "unknown tool %q", name)
	}
	entry := r.tools[canonical]
	defer func() { r.audit(canonical, caller, err, time.Since(start)) }()

	if !r.limiter.Allow(rateKey(caller)) {
		return nil, core.Errf(core.KindRateLimited, "per-token quota exhausted; retry later")
	}

	if len(raw) == 0 {
		raw = []byte("{}")
	}
	raw = normalizeLegacyFields(canonical, raw)

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, core.Wrap(core.KindSchemaViolation, err, "input is not valid JSON")
	}
	if err := entry.schema.Validate(doc); err != nil {
		return nil, core.Wrap(core.KindSchemaViolation, err, "input rejected by tool schema")
	}

	if err := checkBinding(caller, doc); err != nil {
		return nil, err
	}

	result, err = entry.handler(ctx, r, caller, raw)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// checkBinding enforces the caller's token scope: a token bound to a
// project or agent may only act as that project or agent.
func checkBinding(caller auth.Info, doc any) error {
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil
	}
	if caller.Project != "" {
		if project, ok := obj["project"].(string); ok && project != "" && project != caller.Project {
			return core.Errf(core.KindUnauthorized, "token is scoped to project %q", caller.Project)
		}
	}
	if caller.Agent != "" {
		for _, field := range []string{"agent", "sender"} {
			if name, ok := obj[field].(string); ok && name != "" && name != caller.Agent {
				return core.Errf(core.KindUnauthorized, "token is bound to agent %q", caller.Agent)
			}
		}
	}
	return nil
}

// normalizeLegacyFields rewrites the historical send_message field names
// onto the canonical form before validation.
func normalizeLegacyFields(canonical string, raw []byte) []byte {
	if canonical != "send_message" {
		return raw
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return raw
	}
	changed := false
	if v, ok := obj["recipient_names"]; ok {
		if _, exists := obj["to"]; !exists {
			obj["to"] = v
		}
		delete(obj, "recipient_names")
		changed = true
	}
	if v, ok := obj["from_agent_name"]; ok {
		if _, exists := obj["sender"]; !exists {
			obj["sender"] = v
		}
		delete(obj, "from_agent_name")
		changed = true
	}
	if v, ok := obj["body_md"]; ok {
		if _, exists := obj["body"]; !exists {
			obj["body"] = v
		}
		delete(obj, "body_md")
		changed = true
	}
	if !changed {
		return raw
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return raw
	}
	return out
}

func rateKey(caller auth.Info) string {
	if caller.Token != "" {
		return caller.Token
	}
	if caller.Localhost {
		return "localhost"
	}
	return "anonymous"
}

func auditCaller(caller auth.Info) string {
	switch {
	case caller.Agent != "":
		return caller.Project + "/" + caller.Agent
	case caller.Project != "":
		return caller.Project
	case caller.Localhost:
		return "localhost"
	default:
		return "anonymous"
	}
}

func (r *Registry) audit(tool string, caller auth.Info, dispatchErr error, duration time.Duration) {
	errName := ""
	if dispatchErr != nil {
		errName = Envelope(dispatchErr).Name
	}
	entry := sqlite.AuditEntry{
		Tool:      tool,
		Caller:    auditCaller(caller),
		OK:        dispatchErr == nil,
		ErrorName: errName,
		Duration:  duration,
	}
	// The audit row rides its own transaction: a failed tool call still
	// leaves a record.
	auditCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.svc.Store().WithTx(auditCtx, func(tx *sqlite.Tx) error {
		return tx.InsertAudit(auditCtx, entry)
	}); err != nil {
		r.log.Error("audit write failed", "tool", tool, "err", err)
	}
}
