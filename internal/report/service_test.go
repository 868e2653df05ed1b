package report

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"haper/internal/backend"
	"haper/internal/model"
	"haper/internal/poller"
)

type fakeBackend struct {
	newest    *model.Report
	newestErr error
	report    *model.Report
	stream    string
	getCalls  atomic.Int32
	get       func(ctx context.Context, token, reportID string) (*model.Report, error)

	mu      sync.Mutex
	updates []model.ItemUpdate
	history [2]int
}

func (f *fakeBackend) UserInfo(context.Context, string) (*model.UserInfo, error) {
	return &model.UserInfo{Email: "a@b.com"}, nil
}

func (f *fakeBackend) TrackingStatus(context.Context, string) ([]model.TrackingStatus, error) {
	return []model.TrackingStatus{{Provider: "google", Email: "a@gmail.com", Status: model.TrackingOngoing}}, nil
}

func (f *fakeBackend) NewestReport(context.Context, string) (*model.Report, error) {
	return f.newest, f.newestErr
}

func (f *fakeBackend) GenerateReport(context.Context, string) (*model.Report, error) {
	return nil, backend.ErrNoNewMessages
}

func (f *fakeBackend) ReportHistory(_ context.Context, _ string, page, pageSize int) (*model.HistoryPage, error) {
	f.history = [2]int{page, pageSize}
	return &model.HistoryPage{Page: page, PageSize: pageSize}, nil
}

func (f *fakeBackend) GetReport(ctx context.Context, token, reportID string) (*model.Report, error) {
	f.getCalls.Add(1)
	if f.get != nil {
		return f.get(ctx, token, reportID)
	}
	return f.report, nil
}

func (f *fakeBackend) UpdateReport(_ context.Context, _, _ string, items []model.ItemUpdate) (*model.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, items...)
	return f.report, nil
}

func (f *fakeBackend) StartBatchAction(context.Context, string, string) (*model.BatchActionStatus, error) {
	return &model.BatchActionStatus{Status: model.BatchWaiting}, nil
}

func (f *fakeBackend) MessageContent(context.Context, string, string, string) (*model.MessageContent, error) {
	return &model.MessageContent{}, nil
}

func (f *fakeBackend) OpenBatchActionStatus(context.Context, string, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.stream)), nil
}

func (f *fakeBackend) OpenMessageProcessingStatus(context.Context, string, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.stream)), nil
}

type fakeEvents struct {
	generated int
	completed []model.BatchActionStatus
}

func (f *fakeEvents) ReportGenerated(context.Context, string, *model.Report) { f.generated++ }

func (f *fakeEvents) BatchActionCompleted(_ context.Context, _ string, last model.BatchActionStatus) {
	f.completed = append(f.completed, last)
}

func sampleReport() *model.Report {
	return &model.Report{
		ID:     "r-1",
		Status: model.ReportFinalized,
		Content: model.ReportContent{Content: model.MailboxContent{
			Gmail: []model.Account{{Email: "a@gmail.com", Items: []model.MailReportItem{
				{EmailID: "m-1", Category: model.CategoryEssential, Action: model.ActionReply},
				{EmailID: "m-2", Category: model.CategoryNonEssential, Action: model.ActionDelete, ActionResult: model.ActionResultSuccess},
			}}},
		}},
	}
}

func newService(be *fakeBackend, ev *fakeEvents) *Service {
	return NewService(be, ev, Options{
		Stream: poller.StreamOptions{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
		Poll:   poller.IntervalOptions{Interval: time.Millisecond, MaxAttempts: 3},
	}, zap.NewNop())
}

func TestDashboard(t *testing.T) {
	be := &fakeBackend{newest: sampleReport()}
	d, err := newService(be, &fakeEvents{}).Dashboard(context.Background(), "tok")
	require.NoError(t, err)

	assert.Equal(t, "a@b.com", d.User.Email)
	assert.Len(t, d.Tracking, 1)
	assert.Equal(t, "r-1", d.Report.ID)
	assert.Equal(t, 2, d.Stats.Total)
	assert.Equal(t, 50.0, d.Stats.EssentialPercent)
}

func TestDashboard_NoReportYet(t *testing.T) {
	for _, err := range []error{
		backend.ErrEmptyEnvelope,
		&backend.APIError{HTTPStatus: http.StatusNotFound, Message: "no report"},
	} {
		be := &fakeBackend{newestErr: err}
		d, derr := newService(be, &fakeEvents{}).Dashboard(context.Background(), "tok")
		require.NoError(t, derr)
		assert.Nil(t, d.Report)
		assert.Zero(t, d.Stats.EssentialPercent)
	}
}

func TestDashboard_SevereErrorFails(t *testing.T) {
	be := &fakeBackend{newestErr: &backend.APIError{HTTPStatus: 500, Status: backend.StatusSevere}}
	_, err := newService(be, &fakeEvents{}).Dashboard(context.Background(), "tok")
	apiErr, ok := backend.AsAPIError(err)
	require.True(t, ok)
	assert.True(t, apiErr.Severe())
}

func TestGenerate_NoNewMessages(t *testing.T) {
	ev := &fakeEvents{}
	_, err := newService(&fakeBackend{}, ev).Generate(context.Background(), "tok", "a@b.com")
	assert.ErrorIs(t, err, backend.ErrNoNewMessages)
	assert.Zero(t, ev.generated)
}

func TestHistory_PageDefaults(t *testing.T) {
	be := &fakeBackend{}
	svc := newService(be, &fakeEvents{})

	_, err := svc.History(context.Background(), "tok", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, [2]int{1, 10}, be.history)

	_, err = svc.History(context.Background(), "tok", 3, 500)
	require.NoError(t, err)
	assert.Equal(t, [2]int{3, 50}, be.history)
}

func TestUpdateItems(t *testing.T) {
	be := &fakeBackend{report: sampleReport()}
	svc := newService(be, &fakeEvents{})
	ctx := context.Background()

	ignore := model.ActionIgnore
	_, err := svc.UpdateItems(ctx, "tok", "r-1", []model.ItemUpdate{{EmailID: "m-1", Action: &ignore}})
	require.NoError(t, err)
	require.Len(t, be.updates, 1)

	_, err = svc.UpdateItems(ctx, "tok", "r-1", []model.ItemUpdate{{EmailID: "m-2", Action: &ignore}})
	assert.ErrorIs(t, err, ErrItemImmutable)

	_, err = svc.UpdateItems(ctx, "tok", "r-1", []model.ItemUpdate{{EmailID: "m-404", Action: &ignore}})
	assert.ErrorIs(t, err, ErrItemNotFound)

	bogus := model.Category("Spam")
	_, err = svc.UpdateItems(ctx, "tok", "r-1", []model.ItemUpdate{{EmailID: "m-1", Category: &bogus}})
	assert.ErrorIs(t, err, ErrInvalidUpdate)

	assert.Len(t, be.updates, 1)
}

func TestWatchBatchAction_RefetchesOnce(t *testing.T) {
	be := &fakeBackend{
		report: sampleReport(),
		stream: `{"total":2,"succeed":0,"failed":0,"status":"Waiting"}` +
			`{"total":2,"succeed":1,"failed":0,"status":"Ongoing"}` +
			`{"total":2,"succeed":1,"failed":1,"status":"Done"}`,
	}
	ev := &fakeEvents{}
	svc := newService(be, ev)

	var seen []model.BatchStatus
	r, err := svc.WatchBatchAction(context.Background(), "tok", "r-1", func(s model.BatchActionStatus) {
		seen = append(seen, s.Status)
	})
	require.NoError(t, err)

	assert.Equal(t, []model.BatchStatus{model.BatchWaiting, model.BatchOngoing, model.BatchDone}, seen)
	assert.Equal(t, "r-1", r.ID)
	assert.Equal(t, int32(1), be.getCalls.Load())
	require.Len(t, ev.completed, 1)
	assert.Equal(t, 1, ev.completed[0].Failed)
}

func TestWatchBatchAction_DecodeErrorSurfaces(t *testing.T) {
	be := &fakeBackend{report: sampleReport(), stream: `{"total":1}<html>`}
	ev := &fakeEvents{}

	_, err := newService(be, ev).WatchBatchAction(context.Background(), "tok", "r-1", nil)
	var decErr *poller.DecodeError
	assert.True(t, errors.As(err, &decErr))
	assert.Zero(t, be.getCalls.Load())
	assert.Empty(t, ev.completed)
}

func TestWatchMessageProcessing(t *testing.T) {
	be := &fakeBackend{stream: `{"remaining":3,"total":3}{"remaining":1,"total":3}{"remaining":0,"total":3}`}

	var remaining []int
	last, err := newService(be, &fakeEvents{}).WatchMessageProcessing(context.Background(), "tok", "r-1",
		func(s model.MessageProcessingStatus) { remaining = append(remaining, s.Remaining) })
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1, 0}, remaining)
	assert.Equal(t, 0, last.Remaining)
}

func TestWaitFinalized(t *testing.T) {
	be := &fakeBackend{report: sampleReport()}
	r, err := newService(be, &fakeEvents{}).WaitFinalized(context.Background(), "tok", "r-1")
	require.NoError(t, err)
	assert.True(t, r.Finalized())

	be.report = &model.Report{ID: "r-1", Status: model.ReportAppending}
	_, err = newService(be, &fakeEvents{}).WaitFinalized(context.Background(), "tok", "r-1")
	assert.ErrorIs(t, err, poller.ErrPollTimeout)
}

func TestSaveReply(t *testing.T) {
	be := &fakeBackend{report: sampleReport()}
	svc := newService(be, &fakeEvents{})

	err := svc.SaveReply(context.Background(), ReplyKey("sess-a", "r-1", "m-1"), ReplyEdit{Token: "tok", ReportID: "r-1", EmailID: "m-1", Message: "See you"})
	require.NoError(t, err)
	require.Len(t, be.updates, 1)
	assert.Equal(t, "See you", *be.updates[0].ReplyMessage)

	err = svc.SaveReply(context.Background(), ReplyKey("sess-a", "r-1", "m-2"), ReplyEdit{Token: "tok", ReportID: "r-1", EmailID: "m-2", Message: "late"})
	assert.ErrorIs(t, err, ErrItemImmutable)
}

func TestFetchFinal_ScopedPerToken(t *testing.T) {
	var entered atomic.Int32
	be := &fakeBackend{get: func(_ context.Context, token, _ string) (*model.Report, error) {
		entered.Add(1)
		// hold until both users are in flight; a shared call would never see the second one
		deadline := time.Now().Add(time.Second)
		for entered.Load() < 2 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		return &model.Report{ID: "owned-by-" + token}, nil
	}}
	svc := newService(be, &fakeEvents{})

	var wg sync.WaitGroup
	got := make([]*model.Report, 2)
	errs := make([]error, 2)
	for i, tok := range []string{"tok-a", "tok-b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i], errs[i] = svc.fetchFinal(context.Background(), tok, "r-1")
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, "owned-by-tok-a", got[0].ID)
	assert.Equal(t, "owned-by-tok-b", got[1].ID)
	assert.Equal(t, int32(2), be.getCalls.Load())
}

func TestFetchFinal_SurvivesCallerCancel(t *testing.T) {
	be := &fakeBackend{get: func(ctx context.Context, _, _ string) (*model.Report, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return sampleReport(), nil
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, err := newService(be, &fakeEvents{}).fetchFinal(ctx, "tok", "r-1")
	require.NoError(t, err)
	assert.Equal(t, "r-1", r.ID)
}
