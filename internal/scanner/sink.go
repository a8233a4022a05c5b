package scanner

import (
	"context"
	"errors"
	"fmt"

	"github.com/alanyoungcy/skinbot/internal/domain"
	"github.com/alanyoungcy/skinbot/internal/notify"
)

// Sink receives opportunities as they are detected. An Emit error fails
// the scan.
type Sink interface {
	Emit(ctx context.Context, opp domain.Opportunity) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, opp domain.Opportunity) error

func (f SinkFunc) Emit(ctx context.Context, opp domain.Opportunity) error { return f(ctx, opp) }

// FanOut emits to every sink, even after one fails.
type FanOut []Sink

func (f FanOut) Emit(ctx context.Context, opp domain.Opportunity) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, opp); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StoreSink persists opportunities.
type StoreSink struct {
	Store domain.OpportunityStore
}

func (s StoreSink) Emit(ctx context.Context, opp domain.Opportunity) error {
	if err := s.Store.Insert(ctx, opp); err != nil {
		return fmt.Errorf("store sink: %w", err)
	}
	return nil
}

// ChannelSink hands opportunities to an in-process consumer, which must
// keep draining C while scans run.
type ChannelSink struct {
	C chan<- domain.Opportunity
}

func (s ChannelSink) Emit(ctx context.Context, opp domain.Opportunity) error {
	select {
	case s.C <- opp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NotifySink pushes an alert per opportunity. Delivery failures are logged
// by the notifier and never fail the scan.
type NotifySink struct {
	Notifier *notify.Notifier
}

func (s NotifySink) Emit(ctx context.Context, opp domain.Opportunity) error {
	if !s.Notifier.Enabled(notify.EventOpportunity) {
		return nil
	}
	title, message := notify.FormatOpportunity(opp)
	_ = s.Notifier.Notify(ctx, notify.EventOpportunity, title, message)
	return nil
}
