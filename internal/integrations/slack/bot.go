package slackbot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"

	"loandocs/internal/domain"
	"loandocs/internal/review"
)

// Reviewer applies reviewer decisions; *review.Session satisfies it.
type Reviewer interface {
	Apply(ctx context.Context, id string, decision review.Decision) (review.Document, error)
}

// Bot handles button clicks from review messages over Socket Mode.
type Bot struct {
	api      *slack.Client
	reviewer Reviewer
	logger   *zap.Logger
}

func NewBot(api *slack.Client, reviewer Reviewer, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{api: api, reviewer: reviewer, logger: logger}
}

// Run connects via Socket Mode and blocks until ctx is done. The client must
// carry an app-level token.
func (b *Bot) Run(ctx context.Context) error {
	client := socketmode.New(b.api)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-client.Events:
				if !ok {
					return
				}
				if evt.Type != socketmode.EventTypeInteractive {
					continue
				}
				client.Ack(*evt.Request)
				callback, ok := evt.Data.(slack.InteractionCallback)
				if !ok {
					continue
				}
				go b.HandleInteraction(ctx, callback)
			}
		}
	}()

	b.logger.Info("slack bot connected via socket mode")
	return client.RunContext(ctx)
}

func (b *Bot) HandleInteraction(ctx context.Context, cb slack.InteractionCallback) {
	if cb.Type != slack.InteractionTypeBlockActions || len(cb.ActionCallback.BlockActions) == 0 {
		return
	}
	act := cb.ActionCallback.BlockActions[0]
	channelID := cb.Channel.ID
	if channelID == "" {
		channelID = cb.Container.ChannelID
	}
	userID := cb.User.ID

	var (
		id       string
		decision review.Decision
	)
	switch act.ActionID {
	case actionReviewApprove:
		id = strings.TrimSpace(act.Value)
	case actionReviewSetType:
		// "docID:document_type"
		parts := strings.SplitN(strings.TrimSpace(act.Value), ":", 2)
		if len(parts) != 2 {
			b.postEphemeral(ctx, channelID, userID, "Invalid selection.")
			return
		}
		id = parts[0]
		decision.DocumentType = domain.ParseDocumentType(parts[1])
	default:
		return
	}

	doc, err := b.reviewer.Apply(ctx, id, decision)
	if err != nil {
		b.logger.Warn("slack review", zap.String("document", id), zap.String("user", userID), zap.Error(err))
		b.postEphemeral(ctx, channelID, userID, reviewErrorText(id, err))
		return
	}
	b.logger.Info("slack review",
		zap.String("document", id),
		zap.String("user", userID),
		zap.String("doc_type", string(doc.Classification.DocumentType)),
	)
	b.postEphemeral(ctx, channelID, userID,
		fmt.Sprintf("Recorded review for `%s` as %s.", doc.ID, doc.Classification.DocumentType))
}

func reviewErrorText(id string, err error) string {
	switch {
	case errors.Is(err, review.ErrNotFound):
		return fmt.Sprintf("Document `%s` is no longer in the review session.", id)
	case errors.Is(err, review.ErrAlreadyReviewed):
		return fmt.Sprintf("Document `%s` was already reviewed.", id)
	case errors.Is(err, review.ErrTypeLocked):
		return fmt.Sprintf("Document `%s` cleared its confidence threshold; its type cannot be changed.", id)
	default:
		return fmt.Sprintf("Could not record review for `%s`: %v", id, err)
	}
}

func (b *Bot) postEphemeral(ctx context.Context, channelID, userID, text string) {
	if _, err := b.api.PostEphemeralContext(ctx, channelID, userID, slack.MsgOptionText(text, false)); err != nil {
		b.logger.Warn("posting ephemeral", zap.Error(err))
	}
}
