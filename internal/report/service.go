// Package report orchestrates report loading, generation, item edits and the job status streams.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"haper/internal/backend"
	"haper/internal/model"
	"haper/internal/poller"
	"haper/pkg/logger"
	"haper/pkg/otel"
)

var (
	ErrItemImmutable = errors.New("item action already applied")
	ErrItemNotFound  = errors.New("item not found in report")
	ErrInvalidUpdate = errors.New("invalid item update")
)

const (
	defaultPageSize = 10
	maxPageSize     = 50
)

// Backend is the part of *backend.Client the service calls.
type Backend interface {
	UserInfo(ctx context.Context, token string) (*model.UserInfo, error)
	TrackingStatus(ctx context.Context, token string) ([]model.TrackingStatus, error)
	NewestReport(ctx context.Context, token string) (*model.Report, error)
	GenerateReport(ctx context.Context, token string) (*model.Report, error)
	ReportHistory(ctx context.Context, token string, page, pageSize int) (*model.HistoryPage, error)
	GetReport(ctx context.Context, token, reportID string) (*model.Report, error)
	UpdateReport(ctx context.Context, token, reportID string, items []model.ItemUpdate) (*model.Report, error)
	StartBatchAction(ctx context.Context, token, reportID string) (*model.BatchActionStatus, error)
	MessageContent(ctx context.Context, token, reportID, emailID string) (*model.MessageContent, error)
	OpenBatchActionStatus(ctx context.Context, token, reportID string) (io.ReadCloser, error)
	OpenMessageProcessingStatus(ctx context.Context, token, reportID string) (io.ReadCloser, error)
}

type Events interface {
	ReportGenerated(ctx context.Context, userEmail string, r *model.Report)
	BatchActionCompleted(ctx context.Context, reportID string, last model.BatchActionStatus)
}

type Options struct {
	Stream poller.StreamOptions
	Poll   poller.IntervalOptions
}

type Service struct {
	backend Backend
	events  Events
	opts    Options
	logger  *zap.Logger
	refetch singleflight.Group
}

func NewService(b Backend, events Events, opts Options, logger *zap.Logger) *Service {
	opts.Stream.Logger = logger
	return &Service{backend: b, events: events, opts: opts, logger: logger}
}

// Dashboard is everything the dashboard page shows on load.
type Dashboard struct {
	User     *model.UserInfo        `json:"user"`
	Tracking []model.TrackingStatus `json:"tracking"`
	Report   *model.Report          `json:"report"`
	Stats    model.ReportStats      `json:"stats"`
}

// Dashboard loads user, tracking and newest report concurrently. A user without reports gets a nil Report.
func (s *Service) Dashboard(ctx context.Context, token string) (*Dashboard, error) {
	ctx, span := otel.StartSpan(ctx, "report.Dashboard")
	defer span.End()

	var d Dashboard
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		u, err := s.backend.UserInfo(gctx, token)
		if err != nil {
			return fmt.Errorf("load user info: %w", err)
		}
		d.User = u
		return nil
	})
	g.Go(func() error {
		t, err := s.backend.TrackingStatus(gctx, token)
		if err != nil {
			return fmt.Errorf("load tracking status: %w", err)
		}
		d.Tracking = t
		return nil
	})
	g.Go(func() error {
		r, err := s.backend.NewestReport(gctx, token)
		if noReport(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load newest report: %w", err)
		}
		d.Report = r
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	d.Stats = model.ComputeStats(d.Report)
	return &d, nil
}

func noReport(err error) bool {
	if errors.Is(err, backend.ErrEmptyEnvelope) {
		return true
	}
	apiErr, ok := backend.AsAPIError(err)
	return ok && apiErr.HTTPStatus == http.StatusNotFound && !apiErr.Severe()
}

func (s *Service) Newest(ctx context.Context, token string) (*model.Report, error) {
	return s.backend.NewestReport(ctx, token)
}

// Generate starts a new report. backend.ErrNoNewMessages is passed through unchanged.
func (s *Service) Generate(ctx context.Context, token, userEmail string) (*model.Report, error) {
	r, err := s.backend.GenerateReport(ctx, token)
	if err != nil {
		return nil, err
	}
	s.events.ReportGenerated(ctx, userEmail, r)
	return r, nil
}

func (s *Service) History(ctx context.Context, token string, page, pageSize int) (*model.HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return s.backend.ReportHistory(ctx, token, page, pageSize)
}

func (s *Service) Get(ctx context.Context, token, reportID string) (*model.Report, error) {
	return s.backend.GetReport(ctx, token, reportID)
}

func (s *Service) MessageContent(ctx context.Context, token, reportID, emailID string) (*model.MessageContent, error) {
	return s.backend.MessageContent(ctx, token, reportID, emailID)
}

// UpdateItems validates item edits against the current report and sends them to the backend.
// Items whose action already succeeded cannot change. The returned report is the backend's copy.
func (s *Service) UpdateItems(ctx context.Context, token, reportID string, updates []model.ItemUpdate) (*model.Report, error) {
	if len(updates) == 0 {
		return nil, fmt.Errorf("%w: no items", ErrInvalidUpdate)
	}

	current, err := s.backend.GetReport(ctx, token, reportID)
	if err != nil {
		return nil, err
	}
	for _, u := range updates {
		if err := validate(current, u); err != nil {
			return nil, err
		}
	}

	updated, err := s.backend.UpdateReport(ctx, token, reportID, updates)
	if err != nil {
		logger.WithTrace(ctx, s.logger).Warn("Report update rejected",
			zap.String("report_id", reportID),
			zap.Int("items", len(updates)),
			zap.Error(err),
		)
		return nil, err
	}
	return updated, nil
}

func validate(r *model.Report, u model.ItemUpdate) error {
	item, ok := r.FindItem(u.EmailID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrItemNotFound, u.EmailID)
	}
	if item.Immutable() {
		return fmt.Errorf("%w: %s", ErrItemImmutable, u.EmailID)
	}
	if u.Category != nil && !u.Category.Valid() {
		return fmt.Errorf("%w: category %q", ErrInvalidUpdate, *u.Category)
	}
	if u.Action != nil && !u.Action.Valid() {
		return fmt.Errorf("%w: action %q", ErrInvalidUpdate, *u.Action)
	}
	if u.Category == nil && u.Action == nil && u.ReplyMessage == nil {
		return fmt.Errorf("%w: nothing to change for %s", ErrInvalidUpdate, u.EmailID)
	}
	return nil
}
