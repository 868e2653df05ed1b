package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePublisher struct {
	failKeys  map[string]bool
	published []string
}

func (f *fakePublisher) PublishRaw(_ context.Context, routingKey string, _ []byte) error {
	if f.failKeys[routingKey] {
		return errors.New("channel closed")
	}
	f.published = append(f.published, routingKey)
	return nil
}

var eventColumns = []string{
	"id", "aggregate_type", "aggregate_id", "routing_key", "payload", "status",
	"retry_count", "next_retry_at", "created_at", "updated_at",
}

func TestRepository_Insert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	mock.ExpectQuery("INSERT INTO outbox_events").
		WithArgs("report", "r-1", "report.generated", []byte(`{"report_id":"r-1"}`), StatusPending).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(7), now, now))

	repo := NewRepository(mock)
	event := &Event{
		AggregateType: "report",
		AggregateID:   "r-1",
		RoutingKey:    "report.generated",
		Payload:       []byte(`{"report_id":"r-1"}`),
	}
	require.NoError(t, repo.Insert(context.Background(), event))

	assert.Equal(t, int64(7), event.ID)
	assert.Equal(t, StatusPending, event.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatcher_ProcessPending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	rows := pgxmock.NewRows(eventColumns).
		AddRow(int64(1), "account", "a@b.c", "account.connected", []byte(`{}`), StatusPending, 0, nil, now, now).
		AddRow(int64(2), "report", "r-1", "report.generated", []byte(`{}`), StatusPending, 1, nil, now, now)

	mock.ExpectQuery("FROM outbox_events").WithArgs(100).WillReturnRows(rows)
	mock.ExpectExec("SET retry_count = retry_count \\+ 1").
		WithArgs(int64(1), 5).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("SET status = 'sent'").
		WithArgs(int64(2)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	pub := &fakePublisher{failKeys: map[string]bool{"account.connected": true}}
	d := NewDispatcher(NewRepository(mock), pub, zap.NewNop())

	sent := d.ProcessPending(context.Background())

	assert.Equal(t, 1, sent)
	assert.Equal(t, []string{"report.generated"}, pub.published)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatcher_ProcessPending_QueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM outbox_events").WithArgs(10).WillReturnError(errors.New("db down"))

	d := NewDispatcher(NewRepository(mock), &fakePublisher{}, zap.NewNop()).WithBatchSize(10)
	assert.Equal(t, 0, d.ProcessPending(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
