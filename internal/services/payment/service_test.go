package payment

import (
	"context"
	"errors"
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

type fakeDB struct{}

func (fakeDB) GetDB() *pgxpool.Pool { return nil }

func (fakeDB) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, nil)
}

func (fakeDB) WithReadOnlyTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, nil)
}

type fakeTxnRepo struct {
	txns     map[uuid.UUID]*models.Transaction
	statuses map[uuid.UUID][]models.TransactionStatus
}

func newFakeTxnRepo(txns ...*models.Transaction) *fakeTxnRepo {
	r := &fakeTxnRepo{
		txns:     make(map[uuid.UUID]*models.Transaction),
		statuses: make(map[uuid.UUID][]models.TransactionStatus),
	}
	for _, t := range txns {
		r.txns[t.ID] = t
	}
	return r
}

func (r *fakeTxnRepo) Create(ctx context.Context, tx ports.DBTX, txn *models.Transaction) error {
	r.txns[txn.ID] = txn
	r.statuses[txn.ID] = append(r.statuses[txn.ID], txn.Status)
	return nil
}

func (r *fakeTxnRepo) GetByID(ctx context.Context, tx ports.DBTX, id uuid.UUID) (*models.Transaction, error) {
	t, ok := r.txns[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	copied := *t
	return &copied, nil
}

func (r *fakeTxnRepo) ListBySubscription(ctx context.Context, tx ports.DBTX, subscriptionID uuid.UUID) ([]*models.Transaction, error) {
	return nil, nil
}

func (r *fakeTxnRepo) UpdateStatus(ctx context.Context, tx ports.DBTX, id uuid.UUID, status models.TransactionStatus, gatewayRef, errorMessage string) error {
	t, ok := r.txns[id]
	if !ok {
		return domain.ErrTransactionNotFound
	}
	t.Status = status
	if gatewayRef != "" {
		t.GatewayReference = gatewayRef
	}
	t.ErrorMessage = errorMessage
	r.statuses[id] = append(r.statuses[id], status)
	return nil
}

type fakeOutboundRepo struct {
	created   []*models.OutboundWebhook
	completed []string
	attempts  []string
}

func (r *fakeOutboundRepo) Create(ctx context.Context, tx ports.DBTX, record *models.OutboundWebhook) error {
	r.created = append(r.created, record)
	return nil
}

func (r *fakeOutboundRepo) MarkCompleted(ctx context.Context, tx ports.DBTX, eventID string, responseCode int, at time.Time) error {
	r.completed = append(r.completed, eventID)
	return nil
}

func (r *fakeOutboundRepo) RecordAttempt(ctx context.Context, tx ports.DBTX, eventID string, responseCode int, lastError string) error {
	r.attempts = append(r.attempts, eventID)
	return nil
}

type fakeGateway struct {
	chargeResp *ports.ChargeResponse
	chargeErr  error
	charges    []*ports.ChargeRequest

	refundResp *ports.RefundResponse
	refundErr  error
	refunds    int
}

func (g *fakeGateway) Charge(ctx context.Context, req *ports.ChargeRequest) (*ports.ChargeResponse, error) {
	g.charges = append(g.charges, req)
	return g.chargeResp, g.chargeErr
}

func (g *fakeGateway) Refund(ctx context.Context, transactionID uuid.UUID, amount decimal.Decimal, reason string) (*ports.RefundResponse, error) {
	g.refunds++
	return g.refundResp, g.refundErr
}

type published struct {
	queue string
	env   *queue.Envelope
}

type fakePublisher struct {
	messages []published
}

func (p *fakePublisher) Publish(ctx context.Context, q string, env *queue.Envelope) error {
	p.messages = append(p.messages, published{q, env})
	return nil
}

func (p *fakePublisher) byQueue(q string) []*queue.Envelope {
	var out []*queue.Envelope
	for _, m := range p.messages {
		if m.queue == q {
			out = append(out, m.env)
		}
	}
	return out
}

type fakeNotifier struct {
	err       error
	delivered []string
}

func (n *fakeNotifier) Deliver(ctx context.Context, url string, payload interface{}, eventID string) error {
	if n.err != nil {
		return n.err
	}
	n.delivered = append(n.delivered, eventID)
	return nil
}

type paymentFixture struct {
	service  *Service
	txns     *fakeTxnRepo
	outbound *fakeOutboundRepo
	gateway  *fakeGateway
	pub      *fakePublisher
	notifier *fakeNotifier
}

func newPaymentFixture(gw *fakeGateway) *paymentFixture {
	txns := newFakeTxnRepo()
	outbound := &fakeOutboundRepo{}
	pub := &fakePublisher{}
	notifier := &fakeNotifier{}

	svc := NewService(fakeDB{}, txns, outbound, gw, pub, notifier,
		"http://subscription:8080/v1/webhooks/payment", zap.NewNop())
	svc.now = func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) }

	return &paymentFixture{service: svc, txns: txns, outbound: outbound, gateway: gw, pub: pub, notifier: notifier}
}

func processRequest(trial bool) ProcessRequest {
	subID := uuid.New()
	return ProcessRequest{
		SubscriptionID: &subID,
		Amount:         decimal.RequireFromString("29.99"),
		Currency:       "USD",
		CardNumber:     "4242424242424242",
		CardExpiry:     "12/28",
		CardCVV:        "123",
		CardholderName: "Pat Doe",
		Trial:          trial,
	}
}

func TestProcess_SuccessfulCharge(t *testing.T) {
	gw := &fakeGateway{chargeResp: &ports.ChargeResponse{Status: "success", GatewayReference: "gw-123"}}
	fx := newPaymentFixture(gw)

	txn, err := fx.service.Process(context.Background(), processRequest(false))
	require.NoError(t, err)
	assert.Equal(t, models.TxnStatusSuccess, txn.Status)
	assert.Equal(t, "gw-123", txn.GatewayReference)
	assert.Equal(t, "4242", txn.Metadata["card_last4"])

	// pending -> processing -> success, one gateway call.
	assert.Equal(t, []models.TransactionStatus{
		models.TxnStatusPending, models.TxnStatusProcessing, models.TxnStatusSuccess,
	}, fx.txns.statuses[txn.ID])
	assert.Len(t, gw.charges, 1)

	// Outcome announced on the queue, recorded, and delivered directly.
	updates := fx.pub.byQueue(queue.QueueSubscriptionUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, "success", updates[0].Payload["status"])
	assert.NotEmpty(t, updates[0].IdempotencyKey)
	require.Len(t, fx.outbound.created, 1)
	assert.Equal(t, fx.outbound.created[0].EventID, updates[0].IdempotencyKey)
	assert.Equal(t, []string{updates[0].IdempotencyKey}, fx.notifier.delivered)
	assert.Equal(t, []string{updates[0].IdempotencyKey}, fx.outbound.completed)

	// Non-trial charges never enqueue a refund.
	assert.Empty(t, fx.pub.byQueue(queue.QueueRefundInitiation))
}

func TestProcess_DeclineSettlesFailed(t *testing.T) {
	gw := &fakeGateway{chargeResp: &ports.ChargeResponse{
		Status: "failed", ErrorCode: "card_declined", Message: "insufficient funds",
	}}
	fx := newPaymentFixture(gw)

	txn, err := fx.service.Process(context.Background(), processRequest(false))
	require.NoError(t, err)
	assert.Equal(t, models.TxnStatusFailed, txn.Status)
	assert.Equal(t, "card_declined", txn.ErrorMessage)

	updates := fx.pub.byQueue(queue.QueueSubscriptionUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, "failed", updates[0].Payload["status"])
	assert.Equal(t, "card_declined", updates[0].Payload["error"])
}

func TestProcess_GatewayErrorSettlesWithoutRetry(t *testing.T) {
	gw := &fakeGateway{chargeErr: domain.ErrGatewayTimedOut}
	fx := newPaymentFixture(gw)

	txn, err := fx.service.Process(context.Background(), processRequest(false))
	require.NoError(t, err)
	assert.Equal(t, models.TxnStatusFailed, txn.Status)
	// The charge is never reissued after a gateway failure.
	assert.Len(t, gw.charges, 1)

	updates := fx.pub.byQueue(queue.QueueSubscriptionUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, "failed", updates[0].Payload["status"])
}

func TestProcess_TrialSuccessEnqueuesRefund(t *testing.T) {
	gw := &fakeGateway{chargeResp: &ports.ChargeResponse{Status: "success", GatewayReference: "gw-9"}}
	fx := newPaymentFixture(gw)

	txn, err := fx.service.Process(context.Background(), processRequest(true))
	require.NoError(t, err)
	require.True(t, txn.IsSuccessful())

	refunds := fx.pub.byQueue(queue.QueueRefundInitiation)
	require.Len(t, refunds, 1)
	assert.Equal(t, txn.ID.String(), refunds[0].Payload["transaction_id"])
	assert.Equal(t, "trial_refund", refunds[0].Payload["reason"])
	assert.Equal(t, txn.Amount.String(), refunds[0].Payload["amount"])
}

func TestProcess_TrialDeclineDoesNotRefund(t *testing.T) {
	gw := &fakeGateway{chargeResp: &ports.ChargeResponse{Status: "failed", ErrorCode: "card_declined"}}
	fx := newPaymentFixture(gw)

	_, err := fx.service.Process(context.Background(), processRequest(true))
	require.NoError(t, err)
	assert.Empty(t, fx.pub.byQueue(queue.QueueRefundInitiation))
}

func TestProcess_RejectsNonPositiveAmount(t *testing.T) {
	fx := newPaymentFixture(&fakeGateway{})

	for _, amount := range []string{"0", "-1.00"} {
		req := processRequest(false)
		req.Amount = decimal.RequireFromString(amount)
		_, err := fx.service.Process(context.Background(), req)
		require.Error(t, err)
		assert.True(t, domain.IsValidationError(err))
	}
	assert.Empty(t, fx.gateway.charges)
}

func settledTxn(status models.TransactionStatus) *models.Transaction {
	return &models.Transaction{
		ID:     uuid.New(),
		Amount: decimal.RequireFromString("29.99"),
		Status: status,
	}
}

func TestRefund_CompletesLifecycle(t *testing.T) {
	gw := &fakeGateway{refundResp: &ports.RefundResponse{RefundReference: "rf-1", Status: "refund_complete"}}
	fx := newPaymentFixture(gw)
	txn := settledTxn(models.TxnStatusSuccess)
	fx.txns.txns[txn.ID] = txn

	err := fx.service.Refund(context.Background(), txn.ID, decimal.Zero, "trial_refund")
	require.NoError(t, err)
	assert.Equal(t, models.TxnStatusRefundComplete, txn.Status)
	assert.Equal(t, "rf-1", txn.GatewayReference)
	assert.Equal(t, []models.TransactionStatus{
		models.TxnStatusRefundInitiated, models.TxnStatusRefundComplete,
	}, fx.txns.statuses[txn.ID])
}

func TestRefund_ReplaySafeFromInitiated(t *testing.T) {
	gw := &fakeGateway{refundResp: &ports.RefundResponse{RefundReference: "rf-2", Status: "refund_complete"}}
	fx := newPaymentFixture(gw)
	txn := settledTxn(models.TxnStatusRefundInitiated)
	fx.txns.txns[txn.ID] = txn

	// A prior attempt crashed after marking refund_initiated; the retry
	// must still reach the gateway.
	err := fx.service.Refund(context.Background(), txn.ID, decimal.Zero, "trial_refund")
	require.NoError(t, err)
	assert.Equal(t, 1, gw.refunds)
	assert.Equal(t, models.TxnStatusRefundComplete, txn.Status)
}

func TestRefund_AlreadyCompleteIsDuplicate(t *testing.T) {
	fx := newPaymentFixture(&fakeGateway{})
	txn := settledTxn(models.TxnStatusRefundComplete)
	fx.txns.txns[txn.ID] = txn

	err := fx.service.Refund(context.Background(), txn.ID, decimal.Zero, "trial_refund")
	require.Error(t, err)
	assert.True(t, domain.IsDuplicateEvent(err))
	assert.Equal(t, 0, fx.gateway.refunds)
}

func TestRefund_UnrefundableStatusRejected(t *testing.T) {
	fx := newPaymentFixture(&fakeGateway{})
	txn := settledTxn(models.TxnStatusFailed)
	fx.txns.txns[txn.ID] = txn

	err := fx.service.Refund(context.Background(), txn.ID, decimal.Zero, "trial_refund")
	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeTxnTerminalState, domain.GetErrorCode(err))
}

func TestRefund_RetryableGatewayErrorLeavesStateForRetry(t *testing.T) {
	gw := &fakeGateway{refundErr: domain.Retryable(errors.New("gateway 503"))}
	fx := newPaymentFixture(gw)
	txn := settledTxn(models.TxnStatusSuccess)
	fx.txns.txns[txn.ID] = txn

	err := fx.service.Refund(context.Background(), txn.ID, decimal.Zero, "trial_refund")
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
	// Still refund_initiated so the worker's next attempt replays cleanly.
	assert.Equal(t, models.TxnStatusRefundInitiated, txn.Status)
}

func TestRefund_PermanentGatewayErrorSettlesRefundError(t *testing.T) {
	gw := &fakeGateway{refundErr: domain.ErrGatewayDeclined}
	fx := newPaymentFixture(gw)
	txn := settledTxn(models.TxnStatusSuccess)
	fx.txns.txns[txn.ID] = txn

	err := fx.service.Refund(context.Background(), txn.ID, decimal.Zero, "trial_refund")
	require.Error(t, err)
	assert.Equal(t, models.TxnStatusRefundError, txn.Status)
}

func TestDeliverOutcome(t *testing.T) {
	fx := newPaymentFixture(&fakeGateway{})

	payload := map[string]interface{}{"event_id": "evt-1", "status": "success"}
	require.NoError(t, fx.service.DeliverOutcome(context.Background(), "evt-1", payload))
	assert.Equal(t, []string{"evt-1"}, fx.outbound.completed)

	fx.notifier.err = domain.Retryable(errors.New("connect refused"))
	err := fx.service.DeliverOutcome(context.Background(), "evt-2", payload)
	require.Error(t, err)
	assert.Equal(t, []string{"evt-2"}, fx.outbound.attempts)
}
