package slackbot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"

	"loandocs/internal/domain"
	"loandocs/internal/metrics"
	"loandocs/internal/review"
)

type slackCall struct {
	method string
	form   map[string]string
}

type mockSlack struct {
	mu    sync.Mutex
	calls []slackCall
}

func (m *mockSlack) byMethod(method string) []slackCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []slackCall
	for _, c := range m.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func newMockSlackAPI(t *testing.T) (*slack.Client, *mockSlack) {
	t.Helper()
	mock := &mockSlack{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		path := strings.TrimPrefix(r.URL.Path, "/api/")
		form := make(map[string]string, len(r.Form))
		for k := range r.Form {
			form[k] = r.Form.Get(k)
		}
		mock.mu.Lock()
		mock.calls = append(mock.calls, slackCall{method: path, form: form})
		mock.mu.Unlock()

		switch path {
		case "chat.postMessage":
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "channel": "C_REVIEW", "ts": "1.23"})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
		}
	}))
	t.Cleanup(server.Close)
	return slack.New("xoxb-test", slack.OptionAPIURL(server.URL+"/api/")), mock
}

func reviewDoc(id string, confidence, threshold float64) review.Document {
	return review.Document{
		ID:     id,
		Source: id + ".pdf",
		Classification: domain.ClassificationResult{
			DocumentType: domain.W9Form,
			Confidence:   confidence,
			Reasoning:    "Looks like a W-9",
		},
		OriginalConfidence: confidence,
		PredictedType:      domain.W9Form,
		Threshold:          threshold,
		Fields: []domain.ExtractedField{
			{Name: "legal_name", Value: "Acme LLC", Confidence: 0.9, Page: 1},
		},
		Status: review.StatusProcessed,
	}
}

func TestRequestReviews_OnlyUncertainDocuments(t *testing.T) {
	api, mock := newMockSlackAPI(t)
	n := NewNotifier(api, "C_REVIEW", nil)

	docs := []review.Document{
		reviewDoc("doc-low", 0.40, 0.85),
		reviewDoc("doc-high", 0.99, 0.85),
	}
	reviewed := reviewDoc("doc-done", 0.10, 0.85)
	reviewed.Reviewed = true
	docs = append(docs, reviewed)

	if sent := n.RequestReviews(context.Background(), docs); sent != 1 {
		t.Fatalf("expected 1 review message, got %d", sent)
	}
	posts := mock.byMethod("chat.postMessage")
	if len(posts) != 1 {
		t.Fatalf("expected 1 postMessage call, got %d", len(posts))
	}
	if posts[0].form["channel"] != "C_REVIEW" {
		t.Fatalf("unexpected channel %q", posts[0].form["channel"])
	}
	blocks := posts[0].form["blocks"]
	for _, want := range []string{"doc-low", actionReviewApprove, actionReviewSetType, "doc-low:bank_statement"} {
		if !strings.Contains(blocks, want) {
			t.Fatalf("expected blocks to contain %q, got %s", want, blocks)
		}
	}
	if strings.Contains(blocks, "doc-low:w9_form") {
		t.Fatal("predicted type should not be offered as an alternative")
	}
}

func TestRequestReviews_CapsMessages(t *testing.T) {
	api, mock := newMockSlackAPI(t)
	n := NewNotifier(api, "C_REVIEW", nil)

	var docs []review.Document
	for i := 0; i < maxReviewMessages+3; i++ {
		docs = append(docs, reviewDoc(strings.Repeat("d", i+1), 0.2, 0.85))
	}
	if sent := n.RequestReviews(context.Background(), docs); sent != maxReviewMessages {
		t.Fatalf("expected %d messages, got %d", maxReviewMessages, sent)
	}
	posts := mock.byMethod("chat.postMessage")
	if len(posts) != maxReviewMessages+1 {
		t.Fatalf("expected overflow summary, got %d posts", len(posts))
	}
	if !strings.Contains(posts[len(posts)-1].form["text"], "3 more") {
		t.Fatalf("unexpected overflow text %q", posts[len(posts)-1].form["text"])
	}
}

func TestFormatDigest(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	empty := FormatDigest(review.Dashboard{GeneratedAt: now})
	if !strings.Contains(empty, "No documents processed yet.") {
		t.Fatalf("unexpected empty digest %q", empty)
	}

	d := review.Dashboard{
		GeneratedAt: now,
		Classification: metrics.ClassificationMetrics{
			Accuracy: 0.9, Precision: 0.8, Recall: 0.75, Labels: []string{"w9_form"},
		},
		Extraction: []metrics.FieldMetric{{FieldName: "legal_name", TokenF1Score: 0.5}},
		MacroF1:    0.5,
		Ops: &metrics.OpsMetrics{
			TotalDocs: 4, AutoApproveRate: 0.25, HumanReviewRate: 0.75,
			P50Latency: 3.2, P95Latency: 7.9, TotalCost: 0.02, CostPerDoc: 0.005,
		},
	}
	got := FormatDigest(d)
	for _, want := range []string{"Documents: 4", "auto-approved 25%", "p95 7.9s", "$0.0050 per document", "accuracy 90%", "macro F1 0.50"} {
		if !strings.Contains(got, want) {
			t.Fatalf("digest missing %q:\n%s", want, got)
		}
	}
}

func TestPostDigest(t *testing.T) {
	api, mock := newMockSlackAPI(t)
	n := NewNotifier(api, "C_REVIEW", nil)
	if err := n.PostDigest(context.Background(), review.Dashboard{GeneratedAt: time.Now()}); err != nil {
		t.Fatalf("PostDigest failed: %v", err)
	}
	if posts := mock.byMethod("chat.postMessage"); len(posts) != 1 || !strings.Contains(posts[0].form["text"], "digest") {
		t.Fatalf("unexpected posts %+v", posts)
	}
}

type fakeReviewer struct {
	id       string
	decision review.Decision
	err      error
}

func (f *fakeReviewer) Apply(ctx context.Context, id string, decision review.Decision) (review.Document, error) {
	f.id = id
	f.decision = decision
	if f.err != nil {
		return review.Document{}, f.err
	}
	doc := reviewDoc(id, 0.4, 0.85)
	if decision.DocumentType != "" {
		doc.Classification = doc.Classification.Corrected(decision.DocumentType)
	}
	doc.Reviewed = true
	return doc, nil
}

func blockAction(actionID, value string) slack.InteractionCallback {
	var cb slack.InteractionCallback
	cb.Type = slack.InteractionTypeBlockActions
	cb.Channel.ID = "C_REVIEW"
	cb.User.ID = "U_REVIEWER"
	cb.ActionCallback.BlockActions = []*slack.BlockAction{{ActionID: actionID, Value: value}}
	return cb
}

func TestHandleInteraction(t *testing.T) {
	tests := []struct {
		name     string
		cb       slack.InteractionCallback
		err      error
		wantID   string
		wantType domain.DocumentType
		wantText string
	}{
		{"approve", blockAction(actionReviewApprove, "doc-1"), nil, "doc-1", "", "as w9_form"},
		{"set type", blockAction(actionReviewSetType, "doc-1:bank_statement"), nil, "doc-1", domain.BankStatement, "as bank_statement"},
		{"bad value", blockAction(actionReviewSetType, "doc-1"), nil, "", "", "Invalid selection."},
		{"locked", blockAction(actionReviewSetType, "doc-1:government_id"), review.ErrTypeLocked, "doc-1", domain.GovernmentID, "cannot be changed"},
		{"reviewed", blockAction(actionReviewApprove, "doc-1"), review.ErrAlreadyReviewed, "doc-1", "", "already reviewed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, mock := newMockSlackAPI(t)
			reviewer := &fakeReviewer{err: tt.err}
			NewBot(api, reviewer, nil).HandleInteraction(context.Background(), tt.cb)

			if reviewer.id != tt.wantID || reviewer.decision.DocumentType != tt.wantType {
				t.Fatalf("reviewer got id=%q type=%q", reviewer.id, reviewer.decision.DocumentType)
			}
			eph := mock.byMethod("chat.postEphemeral")
			if len(eph) != 1 {
				t.Fatalf("expected one ephemeral reply, got %d", len(eph))
			}
			if eph[0].form["user"] != "U_REVIEWER" || !strings.Contains(eph[0].form["text"], tt.wantText) {
				t.Fatalf("unexpected reply %+v", eph[0].form)
			}
		})
	}
}

func TestHandleInteraction_IgnoresUnknownAction(t *testing.T) {
	api, mock := newMockSlackAPI(t)
	reviewer := &fakeReviewer{}
	NewBot(api, reviewer, nil).HandleInteraction(context.Background(), blockAction("something_else", "x"))
	if reviewer.id != "" || len(mock.byMethod("chat.postEphemeral")) != 0 {
		t.Fatal("unknown actions must be ignored")
	}
}
