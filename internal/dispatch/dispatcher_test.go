package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hiregate/internal/db"
	"hiregate/internal/dispatch"
	"hiregate/internal/domain"
	"hiregate/internal/logger"
	"hiregate/internal/migrate"
	"hiregate/internal/repo"
)

type MockSNSService struct {
	PublishFunc func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

func (m *MockSNSService) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	return m.PublishFunc(ctx, params, optFns...)
}

type MockSESService struct {
	SendEmailFunc func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

func (m *MockSESService) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	return m.SendEmailFunc(ctx, params, optFns...)
}

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newDispatcher(t *testing.T) (*dispatch.Dispatcher, *time.Time) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	clock := t0
	d := dispatch.New(repo.Repo{DB: conn}, logger.NewTestLogger(t))
	d.Now = func() time.Time { return clock }
	d.Backoff = func(int) time.Duration { return time.Minute }
	d.MaxAttempts = 3
	return d, &clock
}

var tr = domain.Transition{ID: "tr-1", ApplicationID: "app-1", ToStatus: domain.StatusActive}

func TestDispatchIsIdempotentPerTransitionAndKind(t *testing.T) {
	d, _ := newDispatcher(t)
	var calls int32
	d.Route(domain.ActionNotifyCandidate, dispatch.SinkFunc(func(context.Context, domain.ActionRecord) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))
	ctx := context.Background()
	require.NoError(t, d.Dispatch(ctx, tr, domain.ActionNotifyCandidate, map[string]any{"to_status": "ACTIVE"}, time.Time{}))
	require.NoError(t, d.Dispatch(ctx, tr, domain.ActionNotifyCandidate, map[string]any{"to_status": "ACTIVE"}, time.Time{}))

	n, err := d.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = d.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	list, err := d.Repo.ListActions(ctx, repo.ActionFilter{ApplicationID: "app-1"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.ActionDone, list[0].Status)
}

func TestFailedDeliveryRetriesThenGoesDead(t *testing.T) {
	d, clock := newDispatcher(t)
	d.Route(domain.ActionNotifyCandidate, dispatch.SinkFunc(func(context.Context, domain.ActionRecord) error {
		return errors.New("smtp down")
	}))
	ctx := context.Background()
	require.NoError(t, d.Dispatch(ctx, tr, domain.ActionNotifyCandidate, nil, time.Time{}))

	for attempt := 1; attempt <= 3; attempt++ {
		n, err := d.ProcessDue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "attempt %d", attempt)
		n, err = d.ProcessDue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n, "not due again before backoff")
		*clock = clock.Add(time.Minute)
	}
	list, err := d.Repo.ListActions(ctx, repo.ActionFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.ActionDead, list[0].Status)
	assert.Equal(t, 3, list[0].Attempts)
	assert.Contains(t, list[0].LastError, "smtp down")
}

func TestCancelledDeliveryIsRecordedAndRetried(t *testing.T) {
	d, clock := newDispatcher(t)
	var calls int32
	ctx, cancel := context.WithCancel(context.Background())
	d.Route(domain.ActionNotifyCandidate, dispatch.SinkFunc(func(c context.Context, _ domain.ActionRecord) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			cancel()
			return c.Err()
		}
		return nil
	}))
	require.NoError(t, d.Dispatch(ctx, tr, domain.ActionNotifyCandidate, nil, time.Time{}))

	n, err := d.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	bg := context.Background()
	list, err := d.Repo.ListActions(bg, repo.ActionFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.ActionFailed, list[0].Status, "shutdown must not strand the action in flight")
	assert.Equal(t, 1, list[0].Attempts)
	assert.Contains(t, list[0].LastError, context.Canceled.Error())

	_, err = d.ProcessDue(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	*clock = clock.Add(time.Minute)
	n, err = d.ProcessDue(bg)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	list, err = d.Repo.ListActions(bg, repo.ActionFilter{})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionDone, list[0].Status)
	assert.Equal(t, 2, list[0].Attempts)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestAbandonedClaimIsRetriedAfterLease(t *testing.T) {
	d, clock := newDispatcher(t)
	d.Lease = 30 * time.Second
	var calls int32
	d.Route(domain.ActionNotifyCandidate, dispatch.SinkFunc(func(context.Context, domain.ActionRecord) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))
	ctx := context.Background()
	require.NoError(t, d.Dispatch(ctx, tr, domain.ActionNotifyCandidate, nil, time.Time{}))
	list, err := d.Repo.ListActions(ctx, repo.ActionFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)

	// A worker claims the action and dies before recording an outcome.
	ok, err := d.Repo.ClaimAction(ctx, nil, list[0].ID, t0, t0.Add(d.Lease))
	require.NoError(t, err)
	require.True(t, ok)

	n, err := d.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "live lease is left alone")

	*clock = t0.Add(d.Lease)
	n, err = d.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	got, err := d.Repo.GetAction(ctx, nil, list[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionDone, got.Status)
	assert.Equal(t, 2, got.Attempts)
}

func TestScheduledActionWaitsUntilDue(t *testing.T) {
	d, clock := newDispatcher(t)
	var calls int32
	d.Route(domain.ActionScheduleFollowup, dispatch.SinkFunc(func(context.Context, domain.ActionRecord) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))
	ctx := context.Background()
	require.NoError(t, d.Dispatch(ctx, tr, domain.ActionScheduleFollowup, nil, t0.Add(48*time.Hour)))

	n, err := d.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	*clock = t0.Add(48 * time.Hour)
	n, err = d.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRunDeliversOnWake(t *testing.T) {
	d, _ := newDispatcher(t)
	d.Interval = time.Hour
	delivered := make(chan string, 1)
	d.Route(domain.ActionNotifyCandidate, dispatch.SinkFunc(func(_ context.Context, a domain.ActionRecord) error {
		delivered <- a.TransitionID
		return nil
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	require.NoError(t, d.Dispatch(ctx, tr, domain.ActionNotifyCandidate, nil, time.Time{}))
	select {
	case got := <-delivered:
		assert.Equal(t, "tr-1", got)
	case <-time.After(2 * time.Second):
		t.Fatal("action not delivered")
	}
}

func TestWebhookSink(t *testing.T) {
	var got map[string]any
	var delivery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivery = r.Header.Get("X-Hiregate-Delivery")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := dispatch.WebhookSink{URL: srv.URL}
	err := sink.Deliver(context.Background(), domain.ActionRecord{
		ID: "act-1", ApplicationID: "app-1", TransitionID: "tr-1", Kind: domain.ActionNotifyCandidate,
		PayloadJSON: `{"to_status":"HOLD"}`, DueAt: t0,
	})
	require.NoError(t, err)
	assert.Equal(t, "act-1", delivery)
	assert.Equal(t, "notify_candidate", got["kind"])
	assert.Equal(t, map[string]any{"to_status": "HOLD"}, got["payload"])

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer failing.Close()
	err = dispatch.WebhookSink{URL: failing.URL}.Deliver(context.Background(), domain.ActionRecord{ID: "act-2"})
	assert.ErrorContains(t, err, "status 502")
}

func TestSNSSinkPublishesToTopic(t *testing.T) {
	var input *sns.PublishInput
	sink := &dispatch.SNSSink{
		TopicARN: "arn:aws:sns:eu-west-1:123:hiregate",
		Client: &MockSNSService{PublishFunc: func(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
			input = params
			return &sns.PublishOutput{}, nil
		}},
	}
	require.NoError(t, sink.Deliver(context.Background(), domain.ActionRecord{ID: "act-1", ApplicationID: "app-1", Kind: domain.ActionInstantiateEvaluations, PayloadJSON: `{"stage_id":"onsite"}`}))
	require.NotNil(t, input)
	assert.Equal(t, "arn:aws:sns:eu-west-1:123:hiregate", *input.TopicArn)
	assert.Equal(t, `{"stage_id":"onsite"}`, *input.Message)
	assert.Equal(t, "app-1", *input.MessageAttributes["application_id"].StringValue)
}

func TestSESSinkSurfacesErrors(t *testing.T) {
	sink := &dispatch.SESSink{
		From: "hiregate@example.test", To: "recruiting@example.test",
		Client: &MockSESService{SendEmailFunc: func(_ context.Context, params *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
			assert.Equal(t, []string{"recruiting@example.test"}, params.Destination.ToAddresses)
			return nil, errors.New("throttled")
		}},
	}
	err := sink.Deliver(context.Background(), domain.ActionRecord{ID: "act-1", Kind: domain.ActionScheduleFollowup})
	assert.ErrorContains(t, err, "throttled")
}
