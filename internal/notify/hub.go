// Package notify is the in-process notification subsystem: broadcast
// fan-out to per-agent inboxes and episodic memories, mirrored onto a
// NATS subject for external observers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/quantdesk/quantdesk/internal/config"
	"github.com/quantdesk/quantdesk/internal/memory"
	"github.com/quantdesk/quantdesk/internal/trading"
)

// SubjectBroadcast is the NATS subject notifications are mirrored on
const SubjectBroadcast = "quantdesk.notifications.broadcast"

// Inbox is one agent's append-only notification queue
type Inbox struct {
	mu    sync.Mutex
	items []trading.Notification
}

// Items returns a copy of the queued notifications in arrival order
func (in *Inbox) Items() []trading.Notification {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]trading.Notification(nil), in.items...)
}

func (in *Inbox) append(n trading.Notification) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.items = append(in.items, n)
}

// Hub fans broadcasts out to every registered agent. Delivery to
// inboxes and memories is synchronous under the hub lock, so a
// broadcast is visible to every agent that starts after Broadcast
// returns. The NATS mirror is best-effort.
type Hub struct {
	mu      sync.Mutex
	inboxes map[string]*Inbox

	memory memory.Store
	nc     *nats.Conn
	ns     *server.Server // owned when the hub runs an embedded server
	log    zerolog.Logger
}

// NewHub creates a hub without a NATS mirror
func NewHub(store memory.Store) *Hub {
	return &Hub{
		inboxes: make(map[string]*Inbox),
		memory:  store,
		log:     config.NewLogger("notify_hub"),
	}
}

// NewHubWithEmbeddedNATS creates a hub backed by an in-process NATS
// server on a random port
func NewHubWithEmbeddedNATS(store memory.Store) (*Hub, error) {
	ns, err := server.NewServer(&server.Options{
		Host: "127.0.0.1",
		Port: -1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded NATS server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("embedded NATS server not ready")
	}

	nc, err := nats.Connect(ns.ClientURL(), nats.Name("quantdesk-notify"))
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to connect to embedded NATS server: %w", err)
	}

	h := NewHub(store)
	h.nc = nc
	h.ns = ns
	return h, nil
}

// NewHubWithNATS creates a hub mirroring onto an external NATS server
func NewHubWithNATS(store memory.Store, natsURL string) (*Hub, error) {
	nc, err := nats.Connect(
		natsURL,
		nats.Name("quantdesk-notify"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	h := NewHub(store)
	h.nc = nc
	return h, nil
}

// Register creates (or returns) the inbox for an agent
func (h *Hub) Register(agentID string) *Inbox {
	h.mu.Lock()
	defer h.mu.Unlock()
	in, ok := h.inboxes[agentID]
	if !ok {
		in = &Inbox{}
		h.inboxes[agentID] = in
	}
	return in
}

// Inbox returns an agent's inbox, nil when unregistered
func (h *Hub) Inbox(agentID string) *Inbox {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inboxes[agentID]
}

// Broadcast fans one notification out to every registered agent's
// inbox and memory. Broadcasts are serialized on the hub lock.
func (h *Hub) Broadcast(ctx context.Context, n trading.Notification) error {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	h.mu.Lock()
	recipients := make(map[string]*Inbox, len(h.inboxes))
	for id, in := range h.inboxes {
		recipients[id] = in
		in.append(n)
	}
	h.mu.Unlock()

	if h.memory != nil {
		content := fmt.Sprintf("Notification from %s [%s/%s]: %s", n.SenderAgent, n.Urgency, n.Category, n.Content)
		meta := map[string]string{
			"kind":     "notification",
			"sender":   n.SenderAgent,
			"urgency":  string(n.Urgency),
			"category": n.Category,
		}
		for agentID := range recipients {
			if agentID == n.SenderAgent {
				continue
			}
			if _, err := h.memory.Add(ctx, content, agentID, meta); err != nil {
				h.log.Warn().Err(err).Str("agent_id", agentID).Msg("Failed to persist notification to memory")
			}
		}
	}

	if h.nc != nil {
		raw, err := json.Marshal(n)
		if err == nil {
			if err := h.nc.Publish(SubjectBroadcast, raw); err != nil {
				h.log.Warn().Err(err).Msg("Failed to mirror notification to NATS")
			} else if err := h.nc.Flush(); err != nil {
				h.log.Warn().Err(err).Msg("Failed to flush NATS mirror")
			}
		}
	}

	h.log.Info().
		Str("sender", n.SenderAgent).
		Str("urgency", string(n.Urgency)).
		Int("recipients", len(recipients)).
		Msg("Notification broadcast")

	return nil
}

// Close shuts down the NATS mirror and any embedded server
func (h *Hub) Close() {
	if h.nc != nil {
		h.nc.Close()
	}
	if h.ns != nil {
		h.ns.Shutdown()
	}
}
