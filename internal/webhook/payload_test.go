package webhook

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const issueCommentPayload = `{
	"action": "created",
	"issue": {"number": 42, "title": "Add dark mode", "body": "please"},
	"comment": {"body": "adw_plan_iso with base model"},
	"repository": {"full_name": "zjrosen/adwd"}
}`

func TestDecodePayload_JSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(issueCommentPayload))
	req.Header.Set("Content-Type", "application/json")

	event, err := DecodePayload(req)
	require.NoError(t, err)
	assert.Equal(t, "created", event.Action)
	require.NotNil(t, event.Issue)
	assert.Equal(t, 42, event.Issue.Number)
	require.NotNil(t, event.Comment)
	assert.Equal(t, "adw_plan_iso with base model", event.Comment.Body)
	require.NotNil(t, event.Repository)
	assert.Equal(t, "zjrosen/adwd", event.Repository.FullName)
}

func TestDecodePayload_JSONWithCharset(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(issueCommentPayload))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	event, err := DecodePayload(req)
	require.NoError(t, err)
	assert.Equal(t, "created", event.Action)
}

func TestDecodePayload_MissingContentType(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(issueCommentPayload))

	event, err := DecodePayload(req)
	require.NoError(t, err)
	assert.Equal(t, "created", event.Action)
}

func TestDecodePayload_FormEncoded(t *testing.T) {
	form := url.Values{"payload": {issueCommentPayload}}
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	event, err := DecodePayload(req)
	require.NoError(t, err)
	assert.Equal(t, "created", event.Action)
	require.NotNil(t, event.Issue)
	assert.Equal(t, 42, event.Issue.Number)
	assert.Equal(t, "adw_plan_iso with base model", event.Text())
}

func TestDecodePayload_FormMissingPayloadField(t *testing.T) {
	form := url.Values{"other": {"value"}}
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	_, err := DecodePayload(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no payload field")
}

func TestDecodePayload_EmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/json")

	_, err := DecodePayload(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty payload")
}

func TestDecodePayload_MalformedJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")

	_, err := DecodePayload(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing payload")
}

func TestEvent_Text(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{
			name: "comment body wins over issue body",
			event: Event{
				Issue:   &Issue{Body: "issue body"},
				Comment: &Comment{Body: "comment body"},
			},
			want: "comment body",
		},
		{
			name: "blank comment falls back to issue body",
			event: Event{
				Issue:   &Issue{Body: "issue body"},
				Comment: &Comment{Body: "   "},
			},
			want: "issue body",
		},
		{
			name:  "issue only",
			event: Event{Issue: &Issue{Body: "issue body"}},
			want:  "issue body",
		},
		{
			name:  "nothing to read",
			event: Event{},
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.event.Text())
		})
	}
}

func TestEvent_IssueNumber(t *testing.T) {
	assert.Equal(t, "42", (&Event{Issue: &Issue{Number: 42}}).IssueNumber())
	assert.Equal(t, "", (&Event{}).IssueNumber())
	assert.Equal(t, "", (&Event{Issue: &Issue{Number: 0}}).IssueNumber())
}

func TestEvent_Relevant(t *testing.T) {
	issue := &Issue{Number: 1}

	assert.True(t, (&Event{Action: "opened", Issue: issue}).Relevant())
	assert.True(t, (&Event{Action: "created", Issue: issue}).Relevant())
	assert.False(t, (&Event{Action: "edited", Issue: issue}).Relevant())
	assert.False(t, (&Event{Action: "closed", Issue: issue}).Relevant())
	assert.False(t, (&Event{Action: "created"}).Relevant(), "no issue attached")
}
