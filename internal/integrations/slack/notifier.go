// Package slackbot posts review requests and metric digests to a review
// channel and applies reviewer button clicks to the review session.
package slackbot

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"loandocs/internal/domain"
	"loandocs/internal/review"
)

const (
	actionReviewApprove = "review_approve"
	actionReviewSetType = "review_set_type"

	// maxReviewMessages caps per-document messages for one batch; the rest
	// are summarized in a single line.
	maxReviewMessages = 10
)

// Notifier posts to the review channel.
type Notifier struct {
	api       *slack.Client
	channelID string
	logger    *zap.Logger
}

func NewNotifier(api *slack.Client, channelID string, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{api: api, channelID: channelID, logger: logger}
}

// RequestReviews posts one message per document whose classification fell
// below its threshold and returns how many were posted.
func (n *Notifier) RequestReviews(ctx context.Context, docs []review.Document) int {
	var uncertain []review.Document
	for _, d := range docs {
		if !d.Reviewed && d.OriginalConfidence < d.Threshold {
			uncertain = append(uncertain, d)
		}
	}
	if len(uncertain) == 0 {
		return 0
	}

	sent := 0
	for i, d := range uncertain {
		if i == maxReviewMessages {
			rest := len(uncertain) - maxReviewMessages
			_, _, err := n.api.PostMessageContext(ctx, n.channelID, slack.MsgOptionText(
				fmt.Sprintf("...and %d more documents waiting for review.", rest), false))
			if err != nil {
				n.logger.Warn("review overflow message", zap.Error(err))
			}
			break
		}
		if err := n.RequestReview(ctx, d); err != nil {
			n.logger.Warn("review message", zap.String("document", d.ID), zap.Error(err))
			continue
		}
		sent++
	}
	n.logger.Info("review messages sent", zap.Int("count", sent))
	return sent
}

// RequestReview posts a single document with approve and retype buttons.
func (n *Notifier) RequestReview(ctx context.Context, doc review.Document) error {
	_, _, err := n.api.PostMessageContext(ctx, n.channelID, slack.MsgOptionBlocks(ReviewBlocks(doc)...))
	if err != nil {
		return fmt.Errorf("posting review request for %s: %w", doc.ID, err)
	}
	return nil
}

// ReviewBlocks renders the review request for doc.
func ReviewBlocks(doc review.Document) []slack.Block {
	var b strings.Builder
	fmt.Fprintf(&b, "*Review needed* (%.0f%% confidence, threshold %.0f%%)\n",
		doc.OriginalConfidence*100, doc.Threshold*100)
	fmt.Fprintf(&b, "Document: `%s`\nSource: %s\nBest guess: %s\n", doc.ID, doc.Source, doc.PredictedType)
	if doc.Classification.Reasoning != "" {
		fmt.Fprintf(&b, "_%s_\n", doc.Classification.Reasoning)
	}
	for _, f := range doc.Fields {
		fmt.Fprintf(&b, "• %s: %s (%.0f%%)\n", f.Name, f.Value, f.Confidence*100)
	}

	buttons := []slack.BlockElement{
		slack.NewButtonBlockElement(
			actionReviewApprove,
			doc.ID,
			slack.NewTextBlockObject(slack.PlainTextType, "Approve", false, false),
		).WithStyle(slack.StylePrimary),
	}
	for _, t := range domain.KnownDocumentTypes {
		if t == doc.PredictedType {
			continue
		}
		label := strings.ReplaceAll(string(t), "_", " ")
		if len(label) > 30 {
			label = label[:27] + "..."
		}
		buttons = append(buttons, slack.NewButtonBlockElement(
			actionReviewSetType,
			fmt.Sprintf("%s:%s", doc.ID, t),
			slack.NewTextBlockObject(slack.PlainTextType, label, false, false),
		))
	}

	return []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, b.String(), false, false),
			nil, nil,
		),
		slack.NewActionBlock("review_"+doc.ID, buttons...),
	}
}

// PostDigest posts the dashboard summary as plain text.
func (n *Notifier) PostDigest(ctx context.Context, d review.Dashboard) error {
	_, _, err := n.api.PostMessageContext(ctx, n.channelID, slack.MsgOptionText(FormatDigest(d), false))
	if err != nil {
		return fmt.Errorf("posting digest: %w", err)
	}
	return nil
}

func FormatDigest(d review.Dashboard) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Document pipeline digest* (%s)\n", d.GeneratedAt.Format("Mon Jan 2 15:04"))
	if d.Ops == nil {
		b.WriteString("No documents processed yet.")
		return b.String()
	}
	fmt.Fprintf(&b, "Documents: %d, auto-approved %.0f%%, human review %.0f%%\n",
		d.Ops.TotalDocs, d.Ops.AutoApproveRate*100, d.Ops.HumanReviewRate*100)
	fmt.Fprintf(&b, "Latency p50 %.1fs, p95 %.1fs\n", d.Ops.P50Latency, d.Ops.P95Latency)
	fmt.Fprintf(&b, "Cost $%.4f total, $%.4f per document\n", d.Ops.TotalCost, d.Ops.CostPerDoc)
	if len(d.Classification.Labels) > 0 {
		fmt.Fprintf(&b, "Classification accuracy %.0f%%, precision %.0f%%, recall %.0f%%\n",
			d.Classification.Accuracy*100, d.Classification.Precision*100, d.Classification.Recall*100)
	}
	if len(d.Extraction) > 0 {
		fmt.Fprintf(&b, "Extraction macro F1 %.2f over %d fields\n", d.MacroF1, len(d.Extraction))
	}
	return strings.TrimRight(b.String(), "\n")
}
