// Package hub fans real-time updates out to WebSocket subscribers. Each
// subscriber listens on one topic; background watchers observe the daemon's
// mutable state and publish delta snapshots whenever it changes. Publishing
// never blocks on a slow client: frames queue in a bounded per-subscriber
// ring that drops its oldest entry on overflow.
package hub

import (
	"fmt"
	"strings"

	"github.com/zjrosen/adwd/internal/adw"
)

// Topic identifies one stream of typed update frames.
type Topic string

// The fixed topic set. TopicADWState values are parameterized per workflow
// and constructed through the function of the same name.
const (
	TopicWorkflows       Topic = "workflows"
	TopicRoutes          Topic = "routes"
	TopicWorkflowHistory Topic = "workflow-history"
	TopicADWMonitor      Topic = "adw-monitor"
	TopicQueue           Topic = "queue"
	TopicSystemStatus    Topic = "system-status"
	TopicWebhookStatus   Topic = "webhook-status"
	TopicPlannedFeatures Topic = "planned-features"
)

// adwStatePrefix heads the parameterized per-workflow topics.
const adwStatePrefix = "adw-state/"

// TopicADWState returns the per-workflow state topic for adwID.
func TopicADWState(adwID string) Topic {
	return Topic(adwStatePrefix + adwID)
}

// FixedTopics returns the non-parameterized topics in a stable order.
func FixedTopics() []Topic {
	return []Topic{
		TopicWorkflows,
		TopicRoutes,
		TopicWorkflowHistory,
		TopicADWMonitor,
		TopicQueue,
		TopicSystemStatus,
		TopicWebhookStatus,
		TopicPlannedFeatures,
	}
}

// ParseTopic validates a topic path from a subscription URL.
func ParseTopic(path string) (Topic, error) {
	path = strings.Trim(path, "/")
	if id, ok := strings.CutPrefix(path, adwStatePrefix); ok {
		if !adw.ValidADWID(id) {
			return "", fmt.Errorf("invalid adw_id in topic %q", path)
		}
		return Topic(path), nil
	}

	t := Topic(path)
	for _, known := range FixedTopics() {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown topic %q", path)
}

// ADWStateID extracts the workflow id from a parameterized adw-state topic.
func (t Topic) ADWStateID() (string, bool) {
	return strings.CutPrefix(string(t), adwStatePrefix)
}

// UpdateType is the frame type name for this topic, e.g. "workflows_update".
// Every adw-state/{id} topic shares the type "adw_state_update".
func (t Topic) UpdateType() string {
	name := string(t)
	if _, ok := t.ADWStateID(); ok {
		name = "adw-state"
	}
	return strings.ReplaceAll(name, "-", "_") + "_update"
}

// Frame is one message delivered to subscribers.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// NewFrame wraps a snapshot in the topic's frame envelope.
func NewFrame(topic Topic, data any) Frame {
	return Frame{Type: topic.UpdateType(), Data: data}
}
