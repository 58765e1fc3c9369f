// Package inbox processes PDFs dropped into a directory. Each scan runs the
// pipeline over every PDF found, registers results for review and moves the
// files out of the inbox so they are processed once.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"loandocs/internal/pipeline"
	"loandocs/internal/review"
)

// FailedDir is the subdirectory of the processed dir receiving files the
// pipeline could not process.
const FailedDir = "failed"

type Processor interface {
	ProcessBatch(ctx context.Context, locations []string) []pipeline.BatchItem
}

// Sink receives successful results; *review.Session satisfies it.
type Sink interface {
	Add(res *pipeline.Result) review.Document
}

type Notifier interface {
	RequestReviews(ctx context.Context, docs []review.Document) int
}

// Summary tracks one scan.
type Summary struct {
	Found         int
	Processed     int
	Failed        int
	ReviewsPosted int
	Errors        []string
}

type Watcher struct {
	dir          string
	processedDir string
	processor    Processor
	sink         Sink
	notifier     Notifier
	logger       *zap.Logger
}

// New returns a watcher over dir. notifier may be nil.
func New(dir, processedDir string, processor Processor, sink Sink, notifier Notifier, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		dir:          dir,
		processedDir: processedDir,
		processor:    processor,
		sink:         sink,
		notifier:     notifier,
		logger:       logger,
	}
}

// Scan lists PDFs in the inbox, sorted by name. Subdirectories are skipped.
func (w *Watcher) Scan() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("reading inbox %s: %w", w.dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		paths = append(paths, filepath.Join(w.dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// RunOnce processes everything currently in the inbox.
func (w *Watcher) RunOnce(ctx context.Context) (Summary, error) {
	paths, err := w.Scan()
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{Found: len(paths)}
	if len(paths) == 0 {
		return summary, nil
	}
	if err := os.MkdirAll(filepath.Join(w.processedDir, FailedDir), 0o755); err != nil {
		return summary, fmt.Errorf("creating processed dir: %w", err)
	}

	var added []review.Document
	for _, item := range w.processor.ProcessBatch(ctx, paths) {
		dest := w.processedDir
		if item.Err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", filepath.Base(item.Source), item.Err))
			w.logger.Warn("inbox document failed", zap.String("source", item.Source), zap.Error(item.Err))
			if errors.Is(item.Err, context.Canceled) || errors.Is(item.Err, context.DeadlineExceeded) {
				// Leave it for the next scan.
				continue
			}
			dest = filepath.Join(w.processedDir, FailedDir)
		} else {
			summary.Processed++
			added = append(added, w.sink.Add(item.Result))
		}
		if err := moveFile(item.Source, dest); err != nil {
			w.logger.Error("inbox move", zap.String("source", item.Source), zap.Error(err))
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", filepath.Base(item.Source), err))
		}
	}

	if w.notifier != nil && len(added) > 0 {
		summary.ReviewsPosted = w.notifier.RequestReviews(ctx, added)
	}
	w.logger.Info("inbox scan complete",
		zap.Int("found", summary.Found),
		zap.Int("processed", summary.Processed),
		zap.Int("failed", summary.Failed),
		zap.Int("reviews_posted", summary.ReviewsPosted),
	)
	return summary, nil
}

// moveFile moves src into dir, keeping its base name and suffixing a counter
// when the name is taken.
func moveFile(src, dir string) error {
	base := filepath.Base(src)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	dest := filepath.Join(dir, base)
	for i := 1; ; i++ {
		if _, err := os.Stat(dest); errors.Is(err, os.ErrNotExist) {
			break
		}
		dest = filepath.Join(dir, fmt.Sprintf("%s-%d%s", stem, i, ext))
	}
	if err := os.Rename(src, dest); err != nil {
		return fmt.Errorf("moving %s: %w", base, err)
	}
	return nil
}

// FormatSummary returns a human-readable summary of a scan.
func FormatSummary(s Summary) string {
	if s.Found == 0 {
		return "Inbox empty, nothing to process."
	}
	msg := fmt.Sprintf("Processed %d of %d documents", s.Processed, s.Found)
	if s.Failed > 0 {
		msg += fmt.Sprintf(" (%d failed)", s.Failed)
	}
	if s.ReviewsPosted > 0 {
		msg += fmt.Sprintf(", %d sent for review", s.ReviewsPosted)
	}
	msg += "."
	if len(s.Errors) > 0 {
		msg += fmt.Sprintf("\nErrors:\n%s", strings.Join(s.Errors, "\n"))
	}
	return msg
}
