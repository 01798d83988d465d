package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/eis-1/electrical-supplier-website-sub003/internal/quotegate"
)

// Notifier tells sales about an accepted quote. Dispatch is
// fire-and-forget; a failed notification never blocks or reverses
// acceptance.
type Notifier interface {
	NotifyQuote(ctx context.Context, quoteID string, sub *quotegate.Submission) error
}

// NopNotifier drops notifications.
type NopNotifier struct{}

func (NopNotifier) NotifyQuote(context.Context, string, *quotegate.Submission) error { return nil }

// NotifyFailure is one failed dispatch, kept for operator retry.
type NotifyFailure struct {
	QuoteID string
	Email   string
	Err     error
	Time    time.Time
}

// RecordingNotifier wraps another notifier and captures failures on a
// bounded channel instead of losing them.
type RecordingNotifier struct {
	inner    Notifier
	logger   *slog.Logger
	failures chan NotifyFailure
}

func NewRecordingNotifier(inner Notifier, logger *slog.Logger, buffer int) *RecordingNotifier {
	if inner == nil {
		inner = NopNotifier{}
	}
	if buffer < 1 {
		buffer = 64
	}
	return &RecordingNotifier{
		inner:    inner,
		logger:   logger,
		failures: make(chan NotifyFailure, buffer),
	}
}

func (n *RecordingNotifier) NotifyQuote(ctx context.Context, quoteID string, sub *quotegate.Submission) error {
	err := n.inner.NotifyQuote(ctx, quoteID, sub)
	if err == nil {
		return nil
	}

	failure := NotifyFailure{QuoteID: quoteID, Email: sub.Email, Err: err, Time: time.Now().UTC()}
	select {
	case n.failures <- failure:
	default:
		if n.logger != nil {
			n.logger.Warn("notification failure dropped", "quote_id", quoteID, "err", err)
		}
	}
	return err
}

// Failures exposes the recorded failures for an operator drain loop.
func (n *RecordingNotifier) Failures() <-chan NotifyFailure {
	return n.failures
}
