package webhook

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
)

// Event is the issue-tracker webhook envelope the daemon understands:
// issue opened and issue_comment created deliveries.
type Event struct {
	Action     string      `json:"action"`
	Issue      *Issue      `json:"issue,omitempty"`
	Comment    *Comment    `json:"comment,omitempty"`
	Repository *Repository `json:"repository,omitempty"`
}

// Issue is the issue portion of the envelope.
type Issue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// Comment is the comment portion of an issue_comment delivery.
type Comment struct {
	Body string `json:"body"`
}

// Repository identifies the originating repository.
type Repository struct {
	FullName string `json:"full_name"`
}

// Text returns the body extraction runs over: the comment body when the
// delivery carries one, otherwise the issue body.
func (e *Event) Text() string {
	if e.Comment != nil && strings.TrimSpace(e.Comment.Body) != "" {
		return e.Comment.Body
	}
	if e.Issue != nil {
		return e.Issue.Body
	}
	return ""
}

// IssueNumber returns the issue number in the string form the commenter
// takes, or "" when the delivery has no issue.
func (e *Event) IssueNumber() string {
	if e.Issue == nil || e.Issue.Number <= 0 {
		return ""
	}
	return strconv.Itoa(e.Issue.Number)
}

// Relevant reports whether this delivery can carry a workflow command:
// an opened issue or a created comment, attached to an issue.
func (e *Event) Relevant() bool {
	if e.Issue == nil {
		return false
	}
	switch e.Action {
	case "opened", "created":
		return true
	default:
		return false
	}
}

// DecodePayload parses a webhook delivery. GitHub posts either raw JSON or
// a form-encoded body with the JSON under the payload key; the form variant
// must keep working for forwarders that re-encode deliveries.
func DecodePayload(r *http.Request) (*Event, error) {
	contentType := r.Header.Get("Content-Type")
	if contentType != "" {
		if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
			contentType = parsed
		}
	}

	var raw []byte
	switch contentType {
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("parsing form body: %w", err)
		}
		payload := r.PostFormValue("payload")
		if payload == "" {
			return nil, fmt.Errorf("form body carries no payload field")
		}
		raw = []byte(payload)
	default:
		// Anything else is treated as JSON; GitHub's default delivery
		// content type, and what curl sends when the header is omitted.
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
		raw = body
	}

	if len(raw) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("parsing payload: %w", err)
	}
	return &event, nil
}
