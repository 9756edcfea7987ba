package tool

// Input schemas, one per canonical tool. Aliases reuse the canonical
// schema. Validation runs before any controller dispatch, so handlers
// can trust shapes and enum values.

const (
	slugProp  = `{"type": "string", "pattern": "^[a-z0-9][a-z0-9-]{0,63}$"}`
	nameProp  = `{"type": "string", "minLength": 1, "maxLength": 128}`
	namesProp = `{"type": "array", "items": {"type": "string", "minLength": 1}, "maxItems": 64}`
	idProp    = `{"type": "integer", "minimum": 1}`
	ttlProp   = `{"type": "integer", "minimum": 0, "maximum": 86400}`
)

var schemas = map[string]string{
	"health_check": `{"type": "object", "additionalProperties": false}`,

	"ensure_project": `{
		"type": "object",
		"properties": {
			"slug": ` + slugProp + `,
			"human_key": {"type": "string", "maxLength": 256}
		},
		"required": ["slug"],
		"additionalProperties": false
	}`,

	"list_projects": `{"type": "object", "additionalProperties": false}`,

	"register_agent": `{
		"type": "object",
		"properties": {
			"project": ` + slugProp + `,
			"name": ` + nameProp + `,
			"program": {"type": "string", "maxLength": 128},
			"model": {"type": "string", "maxLength": 128},
			"task_description": {"type": "string", "maxLength": 2048}
		},
		"required": ["project"],
		"additionalProperties": false
	}`,

	"list_agents": `{
		"type": "object",
		"properties": {"project": ` + slugProp + `},
		"required": ["project"],
		"additionalProperties": false
	}`,

	"heartbeat": `{
		"type": "object",
		"properties": {"project": ` + slugProp + `, "agent": ` + nameProp + `},
		"required": ["project", "agent"],
		"additionalProperties": false
	}`,

	"send_message": `{
		"type": "object",
		"properties": {
			"project": ` + slugProp + `,
			"sender": ` + nameProp + `,
			"to": ` + namesProp + `,
			"cc": ` + namesProp + `,
			"bcc": ` + namesProp + `,
			"subject": {"type": "string", "maxLength": 512},
			"body": {"type": "string"},
			"importance": {"enum": ["normal", "high", "urgent"]},
			"ack_required": {"type": "boolean"},
			"thread_id": {"type": "string", "maxLength": 128},
			"in_reply_to": ` + idProp + `,
			"attachment_ids": {"type": "array", "items": ` + idProp + `}
		},
		"required": ["project", "sender", "body"],
		"additionalProperties": false
	}`,

	"reply_message": `{
		"type": "object",
		"properties": {
			"project": ` + slugProp + `,
			"sender": ` + nameProp + `,
			"in_reply_to": ` + idProp + `,
			"body": {"type": "string"},
			"subject": {"type": "string", "maxLength": 512},
			"to": ` + namesProp + `,
			"cc": ` + namesProp + `,
			"bcc": ` + namesProp + `,
			"importance": {"enum": ["normal", "high", "urgent"]},
			"ack_required": {"type": "boolean"}
		},
		"required": ["project", "sender", "in_reply_to", "body"],
		"additionalProperties": false
	}`,

	"get_message": `{
		"type": "object",
		"properties": {"project": ` + slugProp + `, "message_id": ` + idProp + `},
		"required": ["project", "message_id"],
		"additionalProperties": false
	}`,

	"check_inbox": `{
		"type": "object",
		"properties": {
			"project": ` + slugProp + `,
			"agent": ` + nameProp + `,
			"unread_only": {"type": "boolean"},
			"limit": {"type": "integer", "minimum": 1, "maximum": 500}
		},
		"required": ["project", "agent"],
		"additionalProperties": false
	}`,

	"mark_message_read": `{
		"type": "object",
		"properties": {
			"project": ` + slugProp + `,
			"agent": ` + nameProp + `,
			"message_id": ` + idProp + `
		},
		"required": ["project", "agent", "message_id"],
		"additionalProperties": false
	}`,

	"acknowledge_message": `{
		"type": "object",
		"properties": {
			"project": ` + slugProp + `,
			"agent": ` + nameProp + `,
			"message_id": ` + idProp + `
		},
		"required": ["project", "agent", "message_id"],
		"additionalProperties": false
	}`,

	"search_messages": `{
		"type": "object",
		"properties": {
			"project": ` + slugProp + `,
			"query": {"type": "string", "minLength": 1, "maxLength": 256},
			"limit": {"type": "integer", "minimum": 1, "maximum": 100}
		},
		"required": ["project", "query"],
		"additionalProperties": false
	}`,

	"list_threads": `{
		"type": "object",
		"properties": {
			"project": ` + slugProp + `,
			"limit": {"type": "integer", "minimum": 1, "maximum": 200}
		},
		"required": ["project"],
		"additionalProperties": false
	}`,

	"summarize_thread": `{
		"type": "object",
		"properties": {"project": ` + slugProp + `, "thread_id": {"type": "string", "minLength": 1}},
		"required": ["project", "thread_id"],
		"additionalProperties": false
	}`,

	"reserve_file": `{
		"type": "object",
		"properties": {
			"project": ` + slugProp + `,
			"agent": ` + nameProp + `,
			"paths": {"type": "array", "items": {"type": "string", "minLength": 1}, "minItems": 1, "maxItems": 32},
			"ttl_seconds": ` + ttlProp + `,
			"exclusive": {"type": "boolean"},
			"reason": {"type": "string", "maxLength": 512}
		},
		"required": ["project", "agent", "paths"],
		"additionalProperties": false
	}`,

	"release_reservation": `{
		"type": "object",
		"properties": {"reservation_id": ` + idProp + `},
		"required": ["reservation_id"],
		"additionalProperties": false
	}`,

	"renew_file_reservation": `{
		"type": "object",
		"properties": {
			"reservation_id": ` + idProp + `,
			"agent": ` + nameProp + `,
			"ttl_seconds": ` + ttlProp + `
		},
		"required": ["reservation_id", "agent"],
		"additionalProperties": false
	}`,

	"force_release_reservation": `{
		"type": "object",
		"properties": {
			"reservation_id": ` + idProp + `,
			"reason": {"type": "string", "minLength": 1, "maxLength": 512}
		},
		"required": ["reservation_id", "reason"],
		"additionalProperties": false
	}`,

	"list_file_reservations": `{
		"type": "object",
		"properties": {
			"project": ` + slugProp + `,
			"filter": {"enum": ["active", "all"]}
		},
		"required": ["project"],
		"additionalProperties": false
	}`,

	"file_reservation_status": `{
		"type": "object",
		"properties": {
			"project": ` + slugProp + `,
			"paths": {"type": "array", "items": {"type": "string", "minLength": 1}, "minItems": 1, "maxItems": 64}
		},
		"required": ["project", "paths"],
		"additionalProperties": false
	}`,

	"acquire_build_slot": `{
		"type": "object",
		"properties": {
			"project": ` + slugProp + `,
			"agent": ` + nameProp + `,
			"ttl_seconds": {"type": "integer", "minimum": 0, "maximum": 3600}
		},
		"required": ["project", "agent"],
		"additionalProperties": false
	}`,

	"renew_build_slot": `{
		"type": "object",
		"properties": {
			"slot_id": ` + idProp + `,
			"agent": ` + nameProp + `,
			"ttl_seconds": {"type": "integer", "minimum": 0, "maximum": 3600}
		},
		"required": ["slot_id", "agent"],
		"additionalProperties": false
	}`,

	"release_build_slot": `{
		"type": "object",
		"properties": {"slot_id": ` + idProp + `},
		"required": ["slot_id"],
		"additionalProperties": false
	}`,

	"request_contact": `{
		"type": "object",
		"properties": {
			"project": ` + slugProp + `,
			"agent": ` + nameProp + `,
			"to_agent": ` + nameProp + `
		},
		"required": ["project", "agent", "to_agent"],
		"additionalProperties": false
	}`,

	"respond_contact": `{
		"type": "object",
		"properties": {
			"project": ` + slugProp + `,
			"agent": ` + nameProp + `,
			"from_agent": ` + nameProp + `,
			"accept": {"type": "boolean"}
		},
		"required": ["project", "agent", "from_agent", "accept"],
		"additionalProperties": false
	}`,

	"revoke_contact": `{
		"type": "object",
		"properties": {
			"project": ` + slugProp + `,
			"agent": ` + nameProp + `,
			"other_agent": ` + nameProp + `
		},
		"required": ["project", "agent", "other_agent"],
		"additionalProperties": false
	}`,

	"set_contact_policy": `{
		"type": "object",
		"properties": {
			"project": ` + slugProp + `,
			"agent": ` + nameProp + `,
			"policy": {"enum": ["open", "auto", "contacts_only", "block_all"]}
		},
		"required": ["project", "agent", "policy"],
		"additionalProperties": false
	}`,

	"list_contacts": `{
		"type": "object",
		"properties": {"project": ` + slugProp + `, "agent": ` + nameProp + `},
		"required": ["project", "agent"],
		"additionalProperties": false
	}`,

	"register_macro": `{
		"type": "object",
		"properties": {
			"project": ` + slugProp + `,
			"name": ` + nameProp + `,
			"steps": {
				"type": "array",
				"minItems": 1,
				"maxItems": 32,
				"items": {
					"type": "object",
					"properties": {
						"tool": {"type": "string", "minLength": 1},
						"args": {"type": "object"}
					},
					"required": ["tool"],
					"additionalProperties": false
				}
			}
		},
		"required": ["name", "steps"],
		"additionalProperties": false
	}`,

	"list_macros": `{
		"type": "object",
		"properties": {"project": ` + slugProp + `},
		"additionalProperties": false
	}`,

	"invoke_macro": `{
		"type": "object",
		"properties": {
			"project": ` + slugProp + `,
			"agent": ` + nameProp + `,
			"name": ` + nameProp + `,
			"params": {"type": "object"}
		},
		"required": ["project", "agent", "name"],
		"additionalProperties": false
	}`,

	"add_attachment": `{
		"type": "object",
		"properties": {
			"project": ` + slugProp + `,
			"agent": ` + nameProp + `,
			"filename": {"type": "string", "minLength": 1, "maxLength": 256},
			"media_type": {"type": "string", "maxLength": 128},
			"content_base64": {"type": "string", "minLength": 1}
		},
		"required": ["project", "agent", "filename", "content_base64"],
		"additionalProperties": false
	}`,

	"get_attachment": `{
		"type": "object",
		"properties": {"attachment_id": ` + idProp + `},
		"required": ["attachment_id"],
		"additionalProperties": false
	}`,

	"ensure_product": `{
		"type": "object",
		"properties": {"name": {"type": "string", "minLength": 1, "maxLength": 256}},
		"required": ["name"],
		"additionalProperties": false
	}`,

	"link_project_to_product": `{
		"type": "object",
		"properties": {
			"product": {"type": "string", "minLength": 1, "maxLength": 256},
			"project": ` + slugProp + `
		},
		"required": ["product", "project"],
		"additionalProperties": false
	}`,

	"list_products": `{"type": "object", "additionalProperties": false}`,
}

// aliases route legacy tool names to canonical implementations. Aliasing
// lives in the dispatch table only; controllers never see the old names.
var aliases = map[string]string{
	"file_reservation_paths": "reserve_file",
	"list_inbox":             "check_inbox",
	"create_project":         "ensure_project",
}
