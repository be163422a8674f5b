package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTopic_Fixed(t *testing.T) {
	for _, topic := range FixedTopics() {
		parsed, err := ParseTopic(string(topic))
		require.NoError(t, err, "topic %s", topic)
		assert.Equal(t, topic, parsed)
	}
}

func TestParseTopic_TrimsSlashes(t *testing.T) {
	parsed, err := ParseTopic("/workflows/")
	require.NoError(t, err)
	assert.Equal(t, TopicWorkflows, parsed)
}

func TestParseTopic_ADWState(t *testing.T) {
	parsed, err := ParseTopic("adw-state/a1b2c3d4")
	require.NoError(t, err)
	assert.Equal(t, TopicADWState("a1b2c3d4"), parsed)

	id, ok := parsed.ADWStateID()
	require.True(t, ok)
	assert.Equal(t, "a1b2c3d4", id)
}

func TestParseTopic_Rejects(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"unknown topic", "nope"},
		{"empty", ""},
		{"adw-state without id", "adw-state/"},
		{"adw-state short id", "adw-state/abc"},
		{"adw-state non-hex id", "adw-state/zzzzzzzz"},
		{"adw-state uppercase id", "adw-state/A1B2C3D4"},
		{"nested path", "workflows/extra"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTopic(tt.path)
			assert.Error(t, err)
		})
	}
}

func TestTopic_UpdateType(t *testing.T) {
	tests := []struct {
		topic Topic
		want  string
	}{
		{TopicWorkflows, "workflows_update"},
		{TopicRoutes, "routes_update"},
		{TopicWorkflowHistory, "workflow_history_update"},
		{TopicADWMonitor, "adw_monitor_update"},
		{TopicQueue, "queue_update"},
		{TopicSystemStatus, "system_status_update"},
		{TopicWebhookStatus, "webhook_status_update"},
		{TopicPlannedFeatures, "planned_features_update"},
		{TopicADWState("a1b2c3d4"), "adw_state_update"},
		{TopicADWState("ffff0000"), "adw_state_update"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.topic.UpdateType(), "topic %s", tt.topic)
	}
}

func TestTopic_ADWStateID(t *testing.T) {
	_, ok := TopicWorkflows.ADWStateID()
	assert.False(t, ok)

	id, ok := TopicADWState("deadbeef").ADWStateID()
	require.True(t, ok)
	assert.Equal(t, "deadbeef", id)
}

func TestNewFrame(t *testing.T) {
	frame := NewFrame(TopicQueue, 42)
	assert.Equal(t, "queue_update", frame.Type)
	assert.Equal(t, 42, frame.Data)
}
