// Package ws is the streaming transport: agents hold a websocket open to
// receive events as they commit, and may issue tool calls over the same
// connection as request/response frames.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/mistakeknot/agentmail/internal/auth"
	"github.com/mistakeknot/agentmail/internal/tool"
)

const writeTimeout = 5 * time.Second

// callFrame is a tool invocation sent by the client.
type callFrame struct {
	ID     int64           `json:"id"`
	Tool   string          `json:"tool"`
	Params json.RawMessage `json:"params"`
}

// replyFrame answers a callFrame; event pushes omit the id.
type replyFrame struct {
	ID     int64               `json:"id"`
	Result any                 `json:"result,omitempty"`
	Error  *tool.ErrorEnvelope `json:"error,omitempty"`
}

type Hub struct {
	reg *tool.Registry

	mu    sync.RWMutex
	conns map[string]map[string]map[*websocket.Conn]struct{} // project -> agent -> conns
}

func NewHub(reg *tool.Registry) *Hub {
	return &Hub{reg: reg, conns: make(map[string]map[string]map[*websocket.Conn]struct{})}
}

func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/ws/agents/")
		agent := strings.Trim(path, "/")
		if agent == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		requestedProject := strings.TrimSpace(r.URL.Query().Get("project"))
		info, _ := auth.FromContext(r.Context())
		project := info.Project
		if project == "" {
			project = requestedProject
		} else if requestedProject != "" && requestedProject != project {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if info.Agent != "" && info.Agent != agent {
			w.WriteHeader(http.StatusForbidden)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}

		h.add(project, agent, conn)
		defer h.remove(project, agent, conn)

		ctx := r.Context()
		for {
			var frame callFrame
			if err := wsjson.Read(ctx, conn, &frame); err != nil {
				return
			}
			if frame.Tool == "" {
				continue
			}
			result, dispatchErr := h.dispatch(ctx, frame, info)
			reply := replyFrame{ID: frame.ID, Result: result}
			if dispatchErr != nil {
				reply.Result = nil
				reply.Error = tool.Envelope(dispatchErr)
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, conn, reply)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, frame callFrame, info auth.Info) (any, error) {
	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return h.reg.Dispatch(callCtx, frame.Tool, info, frame.Params)
}

type connEntry struct {
	conn    *websocket.Conn
	project string
	agent   string
}

// Broadcast pushes an event to every connection for (project, agent).
// Empty agent fans out to every agent in the project; empty project fans
// out everywhere.
func (h *Hub) Broadcast(project, agent string, event any) {
	entries := h.snapshot(project, agent)
	if len(entries) == 0 {
		return
	}
	for _, e := range entries {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := wsjson.Write(ctx, e.conn, event)
		cancel()
		if err != nil {
			go func(e connEntry) {
				e.conn.Close(websocket.StatusGoingAway, "write error")
				h.remove(e.project, e.agent, e.conn)
			}(e)
		}
	}
}

func (h *Hub) snapshot(project, agent string) []connEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []connEntry
	collectAgent := func(proj string, m map[string]map[*websocket.Conn]struct{}, target string) {
		if target == "" {
			for agentName, conns := range m {
				for conn := range conns {
					out = append(out, connEntry{conn: conn, project: proj, agent: agentName})
				}
			}
			return
		}
		for conn := range m[target] {
			out = append(out, connEntry{conn: conn, project: proj, agent: target})
		}
	}
	if project != "" {
		if perAgent, ok := h.conns[project]; ok {
			collectAgent(project, perAgent, agent)
		}
		return out
	}
	for proj, perAgent := range h.conns {
		collectAgent(proj, perAgent, agent)
	}
	return out
}

func (h *Hub) add(project, agent string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	perProject, ok := h.conns[project]
	if !ok {
		perProject = make(map[string]map[*websocket.Conn]struct{})
		h.conns[project] = perProject
	}
	perAgent, ok := perProject[agent]
	if !ok {
		perAgent = make(map[*websocket.Conn]struct{})
		perProject[agent] = perAgent
	}
	perAgent[conn] = struct{}{}
}

func (h *Hub) remove(project, agent string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	perProject, ok := h.conns[project]
	if !ok {
		return
	}
	perAgent, ok := perProject[agent]
	if !ok {
		return
	}
	delete(perAgent, conn)
	if len(perAgent) == 0 {
		delete(perProject, agent)
	}
	if len(perProject) == 0 {
		delete(h.conns, project)
	}
}
