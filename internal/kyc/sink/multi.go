package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"kyc-intake/internal/kyc/models"
	"kyc-intake/pkg/platform/sentinel"
)

// MultiSink delivers to every sink concurrently. A member that reports
// ErrConflict already holds the submission from an earlier attempt and counts
// as delivered, so a retry after a partial failure only has to reach the
// members that failed. The delivery fails if any member fails outright, and
// reports ErrConflict only when every member already had the submission.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Name() string {
	names := make([]string, 0, len(m.sinks))
	for _, s := range m.sinks {
		names = append(names, s.Name())
	}
	return "multi(" + strings.Join(names, ",") + ")"
}

func (m *MultiSink) Deliver(ctx context.Context, sub *models.Submission) error {
	// Members are not cancelled when a sibling fails; each one that can take
	// the submission should, or the next retry has more work to redo.
	results := make([]error, len(m.sinks))
	var g errgroup.Group
	for i, s := range m.sinks {
		g.Go(func() error {
			if err := s.Deliver(ctx, sub); err != nil {
				results[i] = fmt.Errorf("%s sink: %w", s.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	var failed []error
	conflicts := 0
	for _, err := range results {
		switch {
		case err == nil:
		case errors.Is(err, sentinel.ErrConflict):
			conflicts++
		default:
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		return errors.Join(failed...)
	}
	if conflicts > 0 && conflicts == len(m.sinks) {
		return fmt.Errorf("every sink already holds the submission: %w", sentinel.ErrConflict)
	}
	return nil
}
