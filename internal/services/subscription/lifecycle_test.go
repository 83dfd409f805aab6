package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/billinglab/billing-backend/internal/domain"
	"github.com/billinglab/billing-backend/internal/domain/models"
	"github.com/billinglab/billing-backend/internal/domain/ports"
	"github.com/billinglab/billing-backend/internal/queue"
)

// fakeDB runs the callback without a real transaction; the mocks below
// ignore the tx argument.
type fakeDB struct{}

func (fakeDB) GetDB() *pgxpool.Pool { return nil }

func (fakeDB) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, nil)
}

func (fakeDB) WithReadOnlyTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, nil)
}

type fakePlanRepo struct {
	plans map[int64]*models.Plan
}

func (f *fakePlanRepo) Create(ctx context.Context, tx ports.DBTX, plan *models.Plan) error {
	f.plans[plan.ID] = plan
	return nil
}

func (f *fakePlanRepo) GetByID(ctx context.Context, tx ports.DBTX, id int64) (*models.Plan, error) {
	p, ok := f.plans[id]
	if !ok {
		return nil, domain.ErrPlanNotFound
	}
	return p, nil
}

func (f *fakePlanRepo) ListActive(ctx context.Context, tx ports.DBTX) ([]*models.Plan, error) {
	out := make([]*models.Plan, 0, len(f.plans))
	for _, p := range f.plans {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeSubRepo struct {
	subs   map[uuid.UUID]*models.Subscription
	events []*models.SubscriptionEvent
}

func newFakeSubRepo(subs ...*models.Subscription) *fakeSubRepo {
	m := make(map[uuid.UUID]*models.Subscription)
	for _, s := range subs {
		m[s.ID] = s
	}
	return &fakeSubRepo{subs: m}
}

func (f *fakeSubRepo) Create(ctx context.Context, tx ports.DBTX, sub *models.Subscription) error {
	f.subs[sub.ID] = sub
	return nil
}

func (f *fakeSubRepo) GetByID(ctx context.Context, tx ports.DBTX, id uuid.UUID) (*models.Subscription, error) {
	s, ok := f.subs[id]
	if !ok {
		return nil, domain.ErrSubscriptionNotFound
	}
	copied := *s
	return &copied, nil
}

func (f *fakeSubRepo) ListByUser(ctx context.Context, tx ports.DBTX, userID int64) ([]*models.Subscription, error) {
	var out []*models.Subscription
	for _, s := range f.subs {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSubRepo) GetActiveByUser(ctx context.Context, tx ports.DBTX, userID int64) (*models.Subscription, error) {
	return nil, nil
}

func (f *fakeSubRepo) GetPendingByUser(ctx context.Context, tx ports.DBTX, userID int64) (*models.Subscription, error) {
	return nil, nil
}

func (f *fakeSubRepo) ListDueForRenewal(ctx context.Context, tx ports.DBTX, cutoff time.Time, limit int32) ([]*models.Subscription, error) {
	return nil, nil
}

func (f *fakeSubRepo) UpdateStatus(ctx context.Context, tx ports.DBTX, id uuid.UUID, status models.SubscriptionStatus) error {
	f.subs[id].Status = status
	return nil
}

func (f *fakeSubRepo) UpdatePlan(ctx context.Context, tx ports.DBTX, id uuid.UUID, planID int64) error {
	f.subs[id].PlanID = planID
	return nil
}

func (f *fakeSubRepo) UpdateEndDate(ctx context.Context, tx ports.DBTX, id uuid.UUID, endDate time.Time) error {
	f.subs[id].EndDate = endDate
	return nil
}

func (f *fakeSubRepo) MarkCancelled(ctx context.Context, tx ports.DBTX, id uuid.UUID, at time.Time) error {
	f.subs[id].Status = models.SubStatusCancelled
	f.subs[id].CanceledAt = &at
	return nil
}

func (f *fakeSubRepo) AppendEvent(ctx context.Context, tx ports.DBTX, event *models.SubscriptionEvent) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeSubRepo) ListEvents(ctx context.Context, tx ports.DBTX, subscriptionID uuid.UUID) ([]*models.SubscriptionEvent, error) {
	return f.events, nil
}

type inboxRecord struct {
	payload   map[string]interface{}
	processed bool
	failures  []string
}

type fakeInbox struct {
	records map[string]*inboxRecord
}

func newFakeInbox() *fakeInbox {
	return &fakeInbox{records: make(map[string]*inboxRecord)}
}

func (f *fakeInbox) Create(ctx context.Context, tx ports.DBTX, eventID string, payload map[string]interface{}) error {
	if _, ok := f.records[eventID]; ok {
		return domain.ErrDuplicateEvent
	}
	f.records[eventID] = &inboxRecord{payload: payload}
	return nil
}

func (f *fakeInbox) GetByEventID(ctx context.Context, tx ports.DBTX, eventID string) (*models.WebhookInbox, error) {
	r, ok := f.records[eventID]
	if !ok {
		return nil, nil
	}
	return &models.WebhookInbox{EventID: eventID, Processed: r.processed}, nil
}

func (f *fakeInbox) UpdatePayload(ctx context.Context, tx ports.DBTX, eventID string, payload map[string]interface{}) error {
	f.records[eventID].payload = payload
	return nil
}

func (f *fakeInbox) MarkProcessed(ctx context.Context, tx ports.DBTX, eventID string, at time.Time) error {
	f.records[eventID].processed = true
	return nil
}

func (f *fakeInbox) RecordFailure(ctx context.Context, tx ports.DBTX, eventID string, errorMessage string) error {
	if r, ok := f.records[eventID]; ok {
		r.failures = append(r.failures, errorMessage)
	}
	return nil
}

type fakePublisher struct {
	published []struct {
		queue string
		env   *queue.Envelope
	}
}

func (f *fakePublisher) Publish(ctx context.Context, q string, env *queue.Envelope) error {
	f.published = append(f.published, struct {
		queue string
		env   *queue.Envelope
	}{q, env})
	return nil
}

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func monthlyPlan(id int64) *models.Plan {
	return &models.Plan{
		ID:           id,
		Name:         "Pro",
		Price:        decimal.RequireFromString("29.99"),
		Currency:     "USD",
		BillingCycle: models.CycleMonthly,
		Features:     models.PlanFeatures{"limits": map[string]interface{}{"api_calls": float64(10000)}},
		IsActive:     true,
	}
}

func trialPlan(id, renewalID int64) *models.Plan {
	features := models.PlanFeatures{
		"trial":       true,
		"period_days": float64(14),
	}
	if renewalID != 0 {
		features["renewal_plan"] = float64(renewalID)
	}
	return &models.Plan{
		ID:           id,
		Name:         "Trial",
		Price:        decimal.RequireFromString("1.00"),
		Currency:     "USD",
		BillingCycle: models.CycleMonthly,
		Features:     features,
		IsActive:     true,
	}
}

func subscriptionIn(status models.SubscriptionStatus, planID int64) *models.Subscription {
	return &models.Subscription{
		ID:        uuid.New(),
		UserID:    1,
		PlanID:    planID,
		Status:    status,
		StartDate: testNow.AddDate(0, -1, 0),
		EndDate:   testNow.AddDate(0, 0, 1),
	}
}

type lifecycleFixture struct {
	service *Service
	subs    *fakeSubRepo
	inbox   *fakeInbox
	pub     *fakePublisher
}

func newLifecycleFixture(plans []*models.Plan, subs ...*models.Subscription) *lifecycleFixture {
	planRepo := &fakePlanRepo{plans: make(map[int64]*models.Plan)}
	for _, p := range plans {
		planRepo.plans[p.ID] = p
	}
	subRepo := newFakeSubRepo(subs...)
	inbox := newFakeInbox()
	pub := &fakePublisher{}

	svc := NewService(fakeDB{}, planRepo, subRepo, inbox, pub, zap.NewNop())
	svc.now = func() time.Time { return testNow }

	return &lifecycleFixture{service: svc, subs: subRepo, inbox: inbox, pub: pub}
}

func outcomePayload(sub *models.Subscription, status string, renewal bool) map[string]interface{} {
	return map[string]interface{}{
		"subscription_id": sub.ID.String(),
		"transaction_id":  uuid.NewString(),
		"status":          status,
		"renewal":         renewal,
	}
}

func TestProcessPaymentEvent_PendingSuccessActivates(t *testing.T) {
	plan := monthlyPlan(2)
	sub := subscriptionIn(models.SubStatusPending, plan.ID)
	fx := newLifecycleFixture([]*models.Plan{plan}, sub)

	err := fx.service.ProcessPaymentEvent(context.Background(), "evt-1", outcomePayload(sub, "success", false))
	require.NoError(t, err)

	got := fx.subs.subs[sub.ID]
	assert.Equal(t, models.SubStatusActive, got.Status)
	assert.Equal(t, testNow.Add(models.CycleMonthly.PeriodDuration()), got.EndDate)
	require.Len(t, fx.subs.events, 1)
	assert.Equal(t, models.EventPaymentSuccess, fx.subs.events[0].EventType)
	assert.True(t, fx.inbox.records["evt-1"].processed)
}

func TestProcessPaymentEvent_PendingSuccessTrialPlanStartsTrial(t *testing.T) {
	plan := trialPlan(4, 2)
	sub := subscriptionIn(models.SubStatusPending, plan.ID)
	fx := newLifecycleFixture([]*models.Plan{plan, monthlyPlan(2)}, sub)

	err := fx.service.ProcessPaymentEvent(context.Background(), "evt-1", outcomePayload(sub, "success", false))
	require.NoError(t, err)

	got := fx.subs.subs[sub.ID]
	assert.Equal(t, models.SubStatusTrial, got.Status)
	assert.Equal(t, testNow.AddDate(0, 0, 14), got.EndDate)
	require.Len(t, fx.subs.events, 1)
	assert.Equal(t, models.EventTrialStarted, fx.subs.events[0].EventType)
}

func TestProcessPaymentEvent_ActiveSuccessExtendsPeriod(t *testing.T) {
	plan := monthlyPlan(2)
	sub := subscriptionIn(models.SubStatusActive, plan.ID)
	endBefore := sub.EndDate
	fx := newLifecycleFixture([]*models.Plan{plan}, sub)

	err := fx.service.ProcessPaymentEvent(context.Background(), "evt-1", outcomePayload(sub, "success", false))
	require.NoError(t, err)

	got := fx.subs.subs[sub.ID]
	assert.Equal(t, models.SubStatusActive, got.Status)
	assert.Equal(t, endBefore.Add(models.CycleMonthly.PeriodDuration()), got.EndDate)
	require.Len(t, fx.subs.events, 1)
	assert.Equal(t, models.EventRenewed, fx.subs.events[0].EventType)
}

func TestProcessPaymentEvent_TrialRenewalConvertsToRenewalPlan(t *testing.T) {
	trial := trialPlan(4, 2)
	target := monthlyPlan(2)
	sub := subscriptionIn(models.SubStatusTrial, trial.ID)
	fx := newLifecycleFixture([]*models.Plan{trial, target}, sub)

	err := fx.service.ProcessPaymentEvent(context.Background(), "evt-1", outcomePayload(sub, "success", true))
	require.NoError(t, err)

	got := fx.subs.subs[sub.ID]
	assert.Equal(t, models.SubStatusActive, got.Status)
	assert.Equal(t, target.ID, got.PlanID)
	assert.Equal(t, testNow.Add(models.CycleMonthly.PeriodDuration()), got.EndDate)

	require.Len(t, fx.subs.events, 1)
	ev := fx.subs.events[0]
	assert.Equal(t, models.EventRenewed, ev.EventType)
	require.NotNil(t, ev.OldPlanID)
	require.NotNil(t, ev.NewPlanID)
	assert.Equal(t, trial.ID, *ev.OldPlanID)
	assert.Equal(t, target.ID, *ev.NewPlanID)
}

func TestProcessPaymentEvent_TrialRenewalWithoutTargetExtendsTrialPlan(t *testing.T) {
	trial := trialPlan(4, 0)
	sub := subscriptionIn(models.SubStatusTrial, trial.ID)
	fx := newLifecycleFixture([]*models.Plan{trial}, sub)

	err := fx.service.ProcessPaymentEvent(context.Background(), "evt-1", outcomePayload(sub, "success", true))
	require.NoError(t, err)

	got := fx.subs.subs[sub.ID]
	assert.Equal(t, models.SubStatusActive, got.Status)
	assert.Equal(t, trial.ID, got.PlanID)
}

func TestProcessPaymentEvent_PastDueTrialRenewalConverts(t *testing.T) {
	trial := trialPlan(4, 2)
	target := monthlyPlan(2)
	sub := subscriptionIn(models.SubStatusPastDue, trial.ID)
	fx := newLifecycleFixture([]*models.Plan{trial, target}, sub)

	err := fx.service.ProcessPaymentEvent(context.Background(), "evt-1", outcomePayload(sub, "success", true))
	require.NoError(t, err)

	got := fx.subs.subs[sub.ID]
	assert.Equal(t, models.SubStatusActive, got.Status)
	assert.Equal(t, target.ID, got.PlanID)
}

func TestProcessPaymentEvent_FailureRevokesAccess(t *testing.T) {
	plan := monthlyPlan(2)
	for _, status := range []models.SubscriptionStatus{
		models.SubStatusActive, models.SubStatusTrial, models.SubStatusPastDue,
	} {
		t.Run(string(status), func(t *testing.T) {
			sub := subscriptionIn(status, plan.ID)
			fx := newLifecycleFixture([]*models.Plan{plan}, sub)

			err := fx.service.ProcessPaymentEvent(context.Background(), "evt-1", outcomePayload(sub, "failed", false))
			require.NoError(t, err)

			assert.Equal(t, models.SubStatusRevoked, fx.subs.subs[sub.ID].Status)
			require.Len(t, fx.subs.events, 1)
			assert.Equal(t, models.EventPaymentFailed, fx.subs.events[0].EventType)
		})
	}
}

func TestProcessPaymentEvent_FailureOnPendingKeepsPending(t *testing.T) {
	plan := monthlyPlan(2)
	sub := subscriptionIn(models.SubStatusPending, plan.ID)
	fx := newLifecycleFixture([]*models.Plan{plan}, sub)

	err := fx.service.ProcessPaymentEvent(context.Background(), "evt-1", outcomePayload(sub, "failed", false))
	require.NoError(t, err)

	assert.Equal(t, models.SubStatusPending, fx.subs.subs[sub.ID].Status)
	require.Len(t, fx.subs.events, 1)
	assert.Equal(t, models.EventPaymentFailed, fx.subs.events[0].EventType)
}

func TestProcessPaymentEvent_TerminalStatusRecordsEventOnly(t *testing.T) {
	plan := monthlyPlan(2)
	sub := subscriptionIn(models.SubStatusCancelled, plan.ID)
	fx := newLifecycleFixture([]*models.Plan{plan}, sub)

	err := fx.service.ProcessPaymentEvent(context.Background(), "evt-1", outcomePayload(sub, "success", false))
	require.NoError(t, err)

	assert.Equal(t, models.SubStatusCancelled, fx.subs.subs[sub.ID].Status)
	require.Len(t, fx.subs.events, 1)
	assert.Equal(t, "cancelled", fx.subs.events[0].Metadata["terminal_status"])
}

func TestProcessPaymentEvent_DuplicateProcessedEventIsNoop(t *testing.T) {
	plan := monthlyPlan(2)
	sub := subscriptionIn(models.SubStatusPending, plan.ID)
	fx := newLifecycleFixture([]*models.Plan{plan}, sub)
	payload := outcomePayload(sub, "success", false)

	require.NoError(t, fx.service.ProcessPaymentEvent(context.Background(), "evt-1", payload))
	require.NoError(t, fx.service.ProcessPaymentEvent(context.Background(), "evt-1", payload))

	// Applied once: one event, one cycle extension.
	assert.Len(t, fx.subs.events, 1)
	assert.Equal(t, testNow.Add(models.CycleMonthly.PeriodDuration()), fx.subs.subs[sub.ID].EndDate)
}

func TestProcessPaymentEvent_StoredUnprocessedEventIsReapplied(t *testing.T) {
	plan := monthlyPlan(2)
	sub := subscriptionIn(models.SubStatusPending, plan.ID)
	fx := newLifecycleFixture([]*models.Plan{plan}, sub)
	payload := outcomePayload(sub, "success", false)

	// Simulate a prior attempt that stored the event but crashed before
	// applying it.
	require.NoError(t, fx.inbox.Create(context.Background(), nil, "evt-1", payload))

	require.NoError(t, fx.service.ProcessPaymentEvent(context.Background(), "evt-1", payload))
	assert.Equal(t, models.SubStatusActive, fx.subs.subs[sub.ID].Status)
	assert.True(t, fx.inbox.records["evt-1"].processed)
}

func TestProcessPaymentEvent_InvalidPayloadRecordsFailure(t *testing.T) {
	plan := monthlyPlan(2)
	sub := subscriptionIn(models.SubStatusPending, plan.ID)
	fx := newLifecycleFixture([]*models.Plan{plan}, sub)

	err := fx.service.ProcessPaymentEvent(context.Background(), "evt-1", map[string]interface{}{
		"status": "success",
	})
	require.Error(t, err)
	assert.True(t, domain.IsValidationError(err))
	assert.NotEmpty(t, fx.inbox.records["evt-1"].failures)
	assert.Empty(t, fx.subs.events)
}

func TestProcessPaymentEvent_MissingEventIDRejected(t *testing.T) {
	fx := newLifecycleFixture(nil)

	err := fx.service.ProcessPaymentEvent(context.Background(), "", map[string]interface{}{})
	require.Error(t, err)
	assert.True(t, domain.IsValidationError(err))
}

func TestProcessPaymentEvent_UnknownSubscriptionIsNotRetryable(t *testing.T) {
	fx := newLifecycleFixture(nil)

	err := fx.service.ProcessPaymentEvent(context.Background(), "evt-1", map[string]interface{}{
		"subscription_id": uuid.NewString(),
		"status":          "success",
	})
	require.Error(t, err)
	assert.True(t, domain.IsNotFoundError(err))
	assert.False(t, domain.IsRetryable(err))
}
