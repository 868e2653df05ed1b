package report

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"go.uber.org/zap"

	"haper/internal/model"
	"haper/internal/poller"
	"haper/pkg/logger"
	"haper/pkg/otel"
)

func (s *Service) StartBatchAction(ctx context.Context, token, reportID string) (*model.BatchActionStatus, error) {
	return s.backend.StartBatchAction(ctx, token, reportID)
}

// WatchBatchAction forwards every batch-action snapshot to emit. When the stream ends the report is
// fetched once and returned as the final state; the stream's last snapshot is only advisory.
func (s *Service) WatchBatchAction(ctx context.Context, token, reportID string, emit func(model.BatchActionStatus)) (*model.Report, error) {
	ctx, span := otel.StartSpan(ctx, "report.WatchBatchAction")
	defer span.End()

	open := func(ctx context.Context) (io.ReadCloser, error) {
		return s.backend.OpenBatchActionStatus(ctx, token, reportID)
	}

	var last model.BatchActionStatus
	var seen bool
	for snap, err := range poller.Stream[model.BatchActionStatus](ctx, open, s.streamOptions("batch_action")) {
		if err != nil {
			return nil, fmt.Errorf("batch action status: %w", err)
		}
		last, seen = snap, true
		if emit != nil {
			emit(snap)
		}
	}

	r, err := s.fetchFinal(ctx, token, reportID)
	if err != nil {
		return nil, err
	}
	if seen {
		s.events.BatchActionCompleted(ctx, reportID, last)
	}
	return r, nil
}

// fetchFinal collapses concurrent terminal refetches of the same report by the same user into
// one backend call. The call is detached from ctx so one caller leaving does not fail the others.
func (s *Service) fetchFinal(ctx context.Context, token, reportID string) (*model.Report, error) {
	detached := context.WithoutCancel(ctx)
	v, err, shared := s.refetch.Do(refetchKey(token, reportID), func() (any, error) {
		return s.backend.GetReport(detached, token, reportID)
	})
	if err != nil {
		return nil, fmt.Errorf("refetch report: %w", err)
	}
	if shared {
		logger.WithTrace(ctx, s.logger).Debug("Shared terminal report fetch", zap.String("report_id", reportID))
	}
	return v.(*model.Report), nil
}

// refetchKey scopes a refetch to the caller's token without keeping the token itself as a map key.
func refetchKey(token, reportID string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:]) + "/" + reportID
}

// WatchMessageProcessing forwards the remaining-messages counter and returns the last value seen.
func (s *Service) WatchMessageProcessing(ctx context.Context, token, reportID string, emit func(model.MessageProcessingStatus)) (model.MessageProcessingStatus, error) {
	open := func(ctx context.Context) (io.ReadCloser, error) {
		return s.backend.OpenMessageProcessingStatus(ctx, token, reportID)
	}

	var last model.MessageProcessingStatus
	for snap, err := range poller.Stream[model.MessageProcessingStatus](ctx, open, s.streamOptions("message_processing")) {
		if err != nil {
			return last, fmt.Errorf("message processing status: %w", err)
		}
		last = snap
		if emit != nil {
			emit(snap)
		}
	}
	return last, nil
}

// WaitFinalized polls the report at a fixed interval until the backend finalizes it.
func (s *Service) WaitFinalized(ctx context.Context, token, reportID string) (*model.Report, error) {
	log := logger.WithTrace(ctx, s.logger).With(zap.String("report_id", reportID))
	get := func(ctx context.Context) (*model.Report, error) {
		return s.backend.GetReport(ctx, token, reportID)
	}

	return poller.PollReport(ctx, get, s.opts.Poll, poller.ReportHandlers{
		OnFinalized: func(r *model.Report) {
			log.Info("Report finalized")
		},
		OnTimeout: func() {
			log.Warn("Gave up waiting for report to finalize")
		},
		OnError: func(err error) {
			log.Warn("Report poll failed", zap.Error(err))
		},
	})
}

func (s *Service) streamOptions(name string) poller.StreamOptions {
	o := s.opts.Stream
	o.Name = name
	return o
}
