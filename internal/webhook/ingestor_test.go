package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/adwd/internal/admission"
	"github.com/zjrosen/adwd/internal/adw"
	"github.com/zjrosen/adwd/internal/dispatch"
	"github.com/zjrosen/adwd/internal/github"
	"github.com/zjrosen/adwd/internal/paths"
)

type postedComment struct {
	issueID string
	body    string
}

// recordingCommenter captures posted comments for assertions. Posts arrive
// from SafeGo goroutines, so access is locked.
type recordingCommenter struct {
	mu    sync.Mutex
	posts []postedComment
}

func (c *recordingCommenter) PostComment(_ context.Context, issueID, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posts = append(c.posts, postedComment{issueID: issueID, body: body})
	return nil
}

func (c *recordingCommenter) all() []postedComment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]postedComment(nil), c.posts...)
}

func (c *recordingCommenter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.posts)
}

type stubClassifier struct {
	cmd *adw.Command
	err error

	mu       sync.Mutex
	calls    int
	lastText string
}

func (s *stubClassifier) Classify(_ context.Context, text string) (*adw.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastText = text
	return s.cmd, s.err
}

func (s *stubClassifier) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubOracle struct {
	remaining int
	err       error
}

func (o stubOracle) Remaining(context.Context) (int, error) {
	return o.remaining, o.err
}

type ingestorHarness struct {
	ingestor  *Ingestor
	commenter *recordingCommenter
	stateRoot string
	binDir    string
}

func newTestIngestor(t *testing.T, opts ...func(*Config)) *ingestorHarness {
	t.Helper()

	catalog, err := adw.LoadCatalog()
	require.NoError(t, err)

	stateRoot := t.TempDir()
	binDir := t.TempDir()
	commenter := &recordingCommenter{}

	cfg := Config{
		Admission: admission.NewController(admission.Config{
			Catalog:      catalog,
			StateRoot:    stateRoot,
			WorktreeRoot: filepath.Join(stateRoot, "trees"),
		}),
		Dispatcher: dispatch.NewDispatcher(dispatch.Config{
			StateRoot:   stateRoot,
			BinDir:      binDir,
			GracePeriod: 2 * time.Second,
		}),
		Commenter: commenter,
		Catalog:   catalog,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &ingestorHarness{
		ingestor:  NewIngestor(cfg),
		commenter: commenter,
		stateRoot: stateRoot,
		binDir:    binDir,
	}
}

// installWorkflow drops a workflow executable into the harness bin dir.
func (h *ingestorHarness) installWorkflow(t *testing.T, template adw.Template, body string) {
	t.Helper()
	path := filepath.Join(h.binDir, template.CommandName())
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
}

func eventPayload(t *testing.T, action string, number int, issueBody, commentBody string) string {
	t.Helper()
	event := map[string]any{"action": action}
	if number > 0 {
		event["issue"] = map[string]any{"number": number, "title": "test issue", "body": issueBody}
	}
	if commentBody != "" {
		event["comment"] = map[string]any{"body": commentBody}
	}
	data, err := json.Marshal(event)
	require.NoError(t, err)
	return string(data)
}

func commentEvent(t *testing.T, number int, text string) string {
	t.Helper()
	return eventPayload(t, "created", number, "", text)
}

func jsonRequest(payload string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestIngestor_DispatchesCommandFromComment(t *testing.T) {
	h := newTestIngestor(t)
	h.installWorkflow(t, adw.TemplatePlanISO, "exit 0")

	ack := h.ingestor.HandleRequest(jsonRequest(commentEvent(t, 42, "adw_plan_iso with base model")))
	require.Equal(t, StatusOK, ack.Status)
	require.True(t, adw.ValidADWID(ack.ADWID), "ack carries the minted id: %q", ack.ADWID)

	require.Eventually(t, func() bool { return h.commenter.count() == 1 },
		5*time.Second, 20*time.Millisecond, "acknowledgement comment posts after dispatch")

	posts := h.commenter.all()
	assert.Equal(t, "42", posts[0].issueID)
	assert.True(t, strings.HasPrefix(posts[0].body, github.BotIdentifier))
	assert.Contains(t, posts[0].body, "Workflow dispatched")
	assert.Contains(t, posts[0].body, ack.ADWID)

	snap := h.ingestor.Stats().Snapshot()
	assert.Equal(t, int64(1), snap.Received)
	assert.Equal(t, int64(1), snap.Succeeded)
	assert.Equal(t, int64(0), snap.Failed)
	require.NotNil(t, snap.LastSuccess)
	assert.Equal(t, ack.ADWID, snap.LastSuccess.ADWID)

	data, err := os.ReadFile(paths.StateFilePath(h.stateRoot, ack.ADWID))
	require.NoError(t, err)
	var record adw.WorkflowRecord
	require.NoError(t, json.Unmarshal(data, &record))
	assert.Equal(t, "42", record.IssueID)
	assert.Equal(t, adw.TemplatePlanISO, record.WorkflowTemplate)
}

func TestIngestor_FormEncodedDelivery(t *testing.T) {
	h := newTestIngestor(t)
	h.installWorkflow(t, adw.TemplatePlanISO, "exit 0")

	form := url.Values{"payload": {commentEvent(t, 7, "adw_plan_iso")}}
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	ack := h.ingestor.HandleRequest(req)
	require.Equal(t, StatusOK, ack.Status)

	require.Eventually(t, func() bool { return h.commenter.count() == 1 },
		5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "7", h.commenter.all()[0].issueID)
}

func TestIngestor_ReusesProvidedID(t *testing.T) {
	h := newTestIngestor(t)
	h.installWorkflow(t, adw.TemplatePlanISO, "exit 0")

	ack := h.ingestor.HandleRequest(jsonRequest(commentEvent(t, 9, "adw_plan_iso cafef00d with advanced model")))
	require.Equal(t, StatusOK, ack.Status)
	assert.Equal(t, "cafef00d", ack.ADWID)

	require.Eventually(t, func() bool { return h.commenter.count() == 1 },
		5*time.Second, 20*time.Millisecond)

	data, err := os.ReadFile(paths.StateFilePath(h.stateRoot, "cafef00d"))
	require.NoError(t, err)
	var record adw.WorkflowRecord
	require.NoError(t, json.Unmarshal(data, &record))
	assert.Equal(t, adw.ModelSetAdvanced, record.ModelSet)
}

func TestIngestor_IgnoresIrrelevantAction(t *testing.T) {
	h := newTestIngestor(t)

	ack := h.ingestor.HandleRequest(jsonRequest(eventPayload(t, "closed", 4, "done", "")))
	require.Equal(t, StatusIgnored, ack.Status)
	assert.Empty(t, ack.ADWID)

	snap := h.ingestor.Stats().Snapshot()
	assert.Equal(t, int64(1), snap.Received)
	assert.Equal(t, int64(0), snap.Succeeded)
	assert.Equal(t, int64(0), snap.Failed)
	assert.Zero(t, h.commenter.count())
}

func TestIngestor_IgnoresOwnComments(t *testing.T) {
	h := newTestIngestor(t)
	h.installWorkflow(t, adw.TemplatePlanISO, "exit 0")

	ack := h.ingestor.HandleRequest(jsonRequest(
		commentEvent(t, 42, github.BotIdentifier+" Workflow dispatched.\n\n- workflow: plan-iso")))
	require.Equal(t, StatusIgnored, ack.Status)
	assert.Equal(t, "bot comment", ack.Message)

	assert.Never(t, func() bool { return h.commenter.count() > 0 },
		300*time.Millisecond, 50*time.Millisecond, "replying to our own comment would loop forever")
}

func TestIngestor_NoUsableText(t *testing.T) {
	h := newTestIngestor(t)

	ack := h.ingestor.HandleRequest(jsonRequest(eventPayload(t, "opened", 5, "", "")))
	require.Equal(t, StatusError, ack.Status)
	assert.Contains(t, ack.Message, "no usable text")

	require.Eventually(t, func() bool { return h.commenter.count() == 1 },
		5*time.Second, 20*time.Millisecond)
	assert.Contains(t, h.commenter.all()[0].body, "carried no usable text")

	assert.Equal(t, int64(1), h.ingestor.Stats().Snapshot().Failed)
}

func TestIngestor_PostsGuidanceWhenNoCommandFound(t *testing.T) {
	h := newTestIngestor(t)

	ack := h.ingestor.HandleRequest(jsonRequest(commentEvent(t, 8, "please fix the login flow")))
	require.Equal(t, StatusIgnored, ack.Status)

	require.Eventually(t, func() bool { return h.commenter.count() == 1 },
		5*time.Second, 20*time.Millisecond)
	body := h.commenter.all()[0].body
	assert.Contains(t, body, "No workflow command found")
	assert.Contains(t, body, "`adw_plan_iso`")
	assert.Contains(t, body, "Current system status:")

	// A miss is not a failure; only genuine errors count.
	snap := h.ingestor.Stats().Snapshot()
	assert.Equal(t, int64(1), snap.Received)
	assert.Equal(t, int64(0), snap.Failed)
}

func TestIngestor_ClassifierFallback(t *testing.T) {
	stub := &stubClassifier{cmd: &adw.Command{Template: adw.TemplatePatchISO, ModelSet: adw.ModelSetBase}}
	h := newTestIngestor(t, func(cfg *Config) { cfg.Classifier = stub })
	h.installWorkflow(t, adw.TemplatePatchISO, "exit 0")

	ack := h.ingestor.HandleRequest(jsonRequest(commentEvent(t, 11, "the login button is broken on mobile")))
	require.Equal(t, StatusOK, ack.Status)
	require.True(t, adw.ValidADWID(ack.ADWID))
	assert.Equal(t, 1, stub.callCount())

	require.Eventually(t, func() bool { return h.commenter.count() == 1 },
		5*time.Second, 20*time.Millisecond)
	assert.Contains(t, h.commenter.all()[0].body, "patch-iso")
}

func TestIngestor_FastPathSkipsClassifier(t *testing.T) {
	stub := &stubClassifier{cmd: &adw.Command{Template: adw.TemplatePatchISO}}
	h := newTestIngestor(t, func(cfg *Config) { cfg.Classifier = stub })
	h.installWorkflow(t, adw.TemplatePlanISO, "exit 0")

	ack := h.ingestor.HandleRequest(jsonRequest(commentEvent(t, 12, "adw_plan_iso")))
	require.Equal(t, StatusOK, ack.Status)
	assert.Zero(t, stub.callCount())

	require.Eventually(t, func() bool { return h.commenter.count() == 1 },
		5*time.Second, 20*time.Millisecond)
}

func TestIngestor_ClassifierFailureIgnoresEvent(t *testing.T) {
	stub := &stubClassifier{err: errors.New("model overloaded")}
	h := newTestIngestor(t, func(cfg *Config) { cfg.Classifier = stub })

	ack := h.ingestor.HandleRequest(jsonRequest(commentEvent(t, 13, "something vague")))
	require.Equal(t, StatusIgnored, ack.Status)

	require.Eventually(t, func() bool { return h.commenter.count() == 1 },
		5*time.Second, 20*time.Millisecond)
	body := h.commenter.all()[0].body
	assert.Contains(t, body, "No workflow command found")
	assert.NotContains(t, body, "model overloaded", "classifier trouble stays in the logs")
}

func TestIngestor_RejectsAtWorktreeCap(t *testing.T) {
	catalog, err := adw.LoadCatalog()
	require.NoError(t, err)

	stateRoot := t.TempDir()
	treeRoot := filepath.Join(stateRoot, "trees")
	for _, id := range []string{"11111111", "22222222"} {
		require.NoError(t, os.MkdirAll(paths.WorktreePath(treeRoot, id), 0o750))
	}

	commenter := &recordingCommenter{}
	ingestor := NewIngestor(Config{
		Admission: admission.NewController(admission.Config{
			Catalog:      catalog,
			StateRoot:    stateRoot,
			WorktreeRoot: treeRoot,
			MaxWorktrees: 2,
		}),
		Dispatcher: dispatch.NewDispatcher(dispatch.Config{StateRoot: stateRoot}),
		Commenter:  commenter,
		Catalog:    catalog,
	})

	ack := ingestor.HandleRequest(jsonRequest(commentEvent(t, 14, "adw_plan_iso")))
	require.Equal(t, StatusError, ack.Status)
	assert.Equal(t, "worktree limit reached: 2 of 2 in use", ack.Message)
	assert.Empty(t, ack.ADWID)

	require.Eventually(t, func() bool { return commenter.count() == 1 },
		5*time.Second, 20*time.Millisecond)
	body := commenter.all()[0].body
	assert.Contains(t, body, "Cannot start workflow: worktree limit reached")
	assert.Contains(t, body, "2 of 2 in use")
	assert.Contains(t, body, "% used")
	assert.Contains(t, body, "api quota:")

	snap := ingestor.Stats().Snapshot()
	assert.Equal(t, int64(1), snap.Failed)
	assert.Equal(t, int64(0), snap.Succeeded)
	require.Len(t, snap.RecentFailures, 1)
	assert.Contains(t, snap.RecentFailures[0].Excerpt, "worktree limit")
}

func TestIngestor_RejectsWhenQuotaExhausted(t *testing.T) {
	h := newTestIngestor(t, func(cfg *Config) {
		cfg.Admission = admission.NewController(admission.Config{
			Catalog:   cfg.Catalog,
			Oracle:    stubOracle{remaining: 0},
			StateRoot: t.TempDir(),
		})
	})
	h.installWorkflow(t, adw.TemplatePlanISO, "exit 0")

	ack := h.ingestor.HandleRequest(jsonRequest(commentEvent(t, 15, "adw_plan_iso")))
	require.Equal(t, StatusError, ack.Status)
	assert.Equal(t, "api quota exhausted", ack.Message)

	require.Eventually(t, func() bool { return h.commenter.count() == 1 },
		5*time.Second, 20*time.Millisecond)
	assert.Contains(t, h.commenter.all()[0].body, "exhausted")
}

func TestIngestor_SpawnFailurePostsComment(t *testing.T) {
	h := newTestIngestor(t)
	// No workflow executable installed; the spawn fails after admission.

	ack := h.ingestor.HandleRequest(jsonRequest(commentEvent(t, 16, "adw_plan_iso")))
	require.Equal(t, StatusOK, ack.Status, "spawn failures surface as comments, not in the ack")

	require.Eventually(t, func() bool { return h.commenter.count() == 1 },
		5*time.Second, 20*time.Millisecond)
	body := h.commenter.all()[0].body
	assert.Contains(t, body, "Workflow failed to start")
	assert.Contains(t, body, "Current system status:")

	snap := h.ingestor.Stats().Snapshot()
	assert.Equal(t, int64(0), snap.Succeeded)
	assert.Equal(t, int64(1), snap.Failed)
}

func TestIngestor_BadPayloadLogsOnly(t *testing.T) {
	h := newTestIngestor(t)

	ack := h.ingestor.HandleRequest(jsonRequest("{broken"))
	require.Equal(t, StatusError, ack.Status)
	assert.Equal(t, "payload parse failed", ack.Message)

	snap := h.ingestor.Stats().Snapshot()
	assert.Equal(t, int64(1), snap.Received)
	assert.Equal(t, int64(1), snap.Failed)
	require.Len(t, snap.RecentFailures, 1)
	assert.Contains(t, snap.RecentFailures[0].Excerpt, "parsing payload")

	// No envelope means no issue to post to.
	assert.Never(t, func() bool { return h.commenter.count() > 0 },
		300*time.Millisecond, 50*time.Millisecond)
}

func TestIngestor_NilCatalogRejects(t *testing.T) {
	h := newTestIngestor(t, func(cfg *Config) { cfg.Catalog = nil })

	ack := h.ingestor.HandleRequest(jsonRequest(commentEvent(t, 17, "adw_plan_iso")))
	require.Equal(t, StatusError, ack.Status)
	assert.Contains(t, ack.Message, "catalog unavailable")
}
