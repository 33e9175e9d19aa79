package reporting

import (
	"context"
	"errors"
	"time"

	"voicegate/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting. Both the in-memory and
// the Postgres call stores satisfy it directly.
type Repository interface {
	ListCalls(ctx context.Context, from, to time.Time) ([]calls.Call, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCalls(ctx, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{Range: req.Range}
	answered := 0
	for _, c := range rows {
		out.TotalCalls++
		switch c.Direction {
		case calls.DirectionInbound:
			out.InboundCalls++
		case calls.DirectionOutbound:
			out.OutboundCalls++
		}
		switch c.Mode {
		case calls.CallModeNotify:
			out.NotifyCalls++
		case calls.CallModeInteractive:
			out.InteractiveCalls++
		}
		switch c.Status {
		case calls.CallStatusAnswered:
			out.AnsweredCalls++
			answered++
		case calls.CallStatusCompleted:
			out.CompletedCalls++
			answered++
		case calls.CallStatusFailed:
			out.FailedCalls++
		}
		if !c.Status.Terminal() {
			out.ActiveCalls++
		}
	}
	if out.TotalCalls > 0 {
		out.AnswerRate = float64(answered) / float64(out.TotalCalls)
	}
	return out, nil
}
