package usecase

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"qpay-bridge/internal/domain"
	"qpay-bridge/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newWorkflow(t *testing.T, gateway *fakeGateway, repo repository.PaymentRepository, orders OrderUpdater) *InvoiceWorkflow {
	t.Helper()
	if orders == nil {
		orders = &stubOrderUpdater{}
	}
	return NewInvoiceWorkflow(repo, gateway.client(t), orders, testQPayConfig(), zap.NewNop())
}

func TestInvoiceWorkflow_CreateInvoice_SyntheticLineItem(t *testing.T) {
	gateway := newFakeGateway(t)
	repo := repository.NewMemoryPaymentRepository()
	workflow := newWorkflow(t, gateway, repo, nil)

	result, err := workflow.CreateInvoice(context.Background(), "order-1", 1000, "MNT", nil, nil)

	require.NoError(t, err)
	assert.Equal(t, "inv-1", result.InvoiceID)
	assert.Equal(t, domain.PaymentStatusPending, result.Status)
	assert.False(t, result.Existing)
	assert.Equal(t, "QR-inv-1", result.QRText)

	// No line items supplied: a single synthetic line covers the amount.
	gateway.lastInvoice.Lock()
	var wire struct {
		Amount int64 `json:"amount"`
		Lines  []struct {
			LineQuantity  int64 `json:"line_quantity"`
			LineUnitPrice int64 `json:"line_unit_price"`
		} `json:"lines"`
	}
	require.NoError(t, json.Unmarshal(gateway.lastInvoice.body, &wire))
	gateway.lastInvoice.Unlock()
	assert.Equal(t, int64(1000), wire.Amount)
	require.Len(t, wire.Lines, 1)
	assert.Equal(t, int64(1), wire.Lines[0].LineQuantity)
	assert.Equal(t, int64(1000), wire.Lines[0].LineUnitPrice)

	record, err := repo.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, record.Status)
	assert.Equal(t, int64(1000), record.Amount)
	assert.NotEmpty(t, record.PaymentRef)
}

func TestInvoiceWorkflow_CreateInvoice_IdempotentWhilePending(t *testing.T) {
	gateway := newFakeGateway(t)
	repo := repository.NewMemoryPaymentRepository()
	workflow := newWorkflow(t, gateway, repo, nil)

	first, err := workflow.CreateInvoice(context.Background(), "order-1", 1000, "MNT", nil, nil)
	require.NoError(t, err)

	second, err := workflow.CreateInvoice(context.Background(), "order-1", 1000, "MNT", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, first.InvoiceID, second.InvoiceID)
	assert.True(t, second.Existing)
	assert.Equal(t, int64(1), gateway.invoiceCalls.Load(), "no second gateway invoice may be created")
}

func TestInvoiceWorkflow_CreateInvoice_LineItemSumMustMatchAmount(t *testing.T) {
	gateway := newFakeGateway(t)
	repo := repository.NewMemoryPaymentRepository()
	workflow := newWorkflow(t, gateway, repo, nil)

	items := []domain.LineItem{{Description: "item", Quantity: 1, UnitPrice: 400}}
	_, err := workflow.CreateInvoice(context.Background(), "order-2", 500, "MNT", items, nil)

	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, int64(0), gateway.invoiceCalls.Load(), "validation failures must reject before I/O")

	_, err = repo.GetByOrderID(context.Background(), "order-2")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestInvoiceWorkflow_CreateInvoice_RejectsNonPositiveAmount(t *testing.T) {
	gateway := newFakeGateway(t)
	repo := repository.NewMemoryPaymentRepository()
	workflow := newWorkflow(t, gateway, repo, nil)

	for _, amount := range []int64{0, -1000} {
		_, err := workflow.CreateInvoice(context.Background(), "order-3", amount, "MNT", nil, nil)
		var validationErr *domain.ValidationError
		require.ErrorAs(t, err, &validationErr)
	}
	assert.Equal(t, int64(0), gateway.invoiceCalls.Load())
}

func TestInvoiceWorkflow_CreateInvoice_MatchingLineItemsAccepted(t *testing.T) {
	gateway := newFakeGateway(t)
	repo := repository.NewMemoryPaymentRepository()
	workflow := newWorkflow(t, gateway, repo, nil)

	items := []domain.LineItem{
		{Description: "hat", Quantity: 2, UnitPrice: 300},
		{Description: "scarf", Quantity: 1, UnitPrice: 400},
	}
	result, err := workflow.CreateInvoice(context.Background(), "order-4", 1000, "MNT", items, nil)

	require.NoError(t, err)
	assert.Equal(t, int64(1000), result.Amount)
}

func TestInvoiceWorkflow_CreateInvoice_GatewayRejectionPersistsNothing(t *testing.T) {
	gateway := newFakeGateway(t)
	gateway.invoiceStatus = 422
	repo := repository.NewMemoryPaymentRepository()
	workflow := newWorkflow(t, gateway, repo, nil)

	_, err := workflow.CreateInvoice(context.Background(), "order-5", 1000, "MNT", nil, nil)

	var gwErr *domain.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, 422, gwErr.Status)

	_, err = repo.GetByOrderID(context.Background(), "order-5")
	assert.ErrorIs(t, err, repository.ErrNotFound, "no record may exist for a failed creation")
}

func TestInvoiceWorkflow_CreateInvoice_FailedRecordAllowsRetry(t *testing.T) {
	gateway := newFakeGateway(t)
	repo := repository.NewMemoryPaymentRepository()
	workflow := newWorkflow(t, gateway, repo, nil)

	seedRecord(t, repo, "order-6", "inv-old", domain.PaymentStatusFailed)

	gateway.nextInvoiceID = "inv-new"
	result, err := workflow.CreateInvoice(context.Background(), "order-6", 1000, "MNT", nil, nil)

	require.NoError(t, err)
	assert.Equal(t, "inv-new", result.InvoiceID)
	assert.False(t, result.Existing)
	assert.Equal(t, int64(1), gateway.invoiceCalls.Load())
}

func TestInvoiceWorkflow_CreateInvoice_RetryAfterFailureStaysIdempotent(t *testing.T) {
	gateway := newFakeGateway(t)
	repo := repository.NewMemoryPaymentRepository()
	workflow := newWorkflow(t, gateway, repo, nil)

	seedRecord(t, repo, "order-6", "inv-old", domain.PaymentStatusFailed)

	gateway.nextInvoiceID = "inv-new"
	_, err := workflow.CreateInvoice(context.Background(), "order-6", 1000, "MNT", nil, nil)
	require.NoError(t, err)

	// The failed row and the live pending row now coexist for the order.
	// Another create call must find the live one, not the stale failure.
	result, err := workflow.CreateInvoice(context.Background(), "order-6", 1000, "MNT", nil, nil)

	require.NoError(t, err)
	assert.Equal(t, "inv-new", result.InvoiceID)
	assert.True(t, result.Existing)
	assert.Equal(t, int64(1), gateway.invoiceCalls.Load(), "the live invoice answers without gateway traffic")

	record, err := workflow.CheckStatus(context.Background(), "order-6")
	require.NoError(t, err)
	assert.Equal(t, "inv-new", record.InvoiceID)
	assert.NotEqual(t, domain.PaymentStatusFailed, record.Status)
}

// raceLosingRepo simulates losing the create race: the pre-flight read sees
// nothing, then the insert collides with a concurrently created record.
type raceLosingRepo struct {
	*repository.MemoryPaymentRepository
	firstRead bool
}

func (r *raceLosingRepo) GetByOrderID(ctx context.Context, orderID string) (*domain.PaymentRecord, error) {
	if !r.firstRead {
		r.firstRead = true
		return nil, repository.ErrNotFound
	}
	return r.MemoryPaymentRepository.GetByOrderID(ctx, orderID)
}

func TestInvoiceWorkflow_CreateInvoice_ConcurrentLoserReturnsWinner(t *testing.T) {
	gateway := newFakeGateway(t)
	inner := repository.NewMemoryPaymentRepository()
	seedRecord(t, inner, "order-7", "inv-winner", domain.PaymentStatusPending)
	repo := &raceLosingRepo{MemoryPaymentRepository: inner}
	workflow := newWorkflow(t, gateway, repo, nil)

	gateway.nextInvoiceID = "inv-loser"
	result, err := workflow.CreateInvoice(context.Background(), "order-7", 1000, "MNT", nil, nil)

	require.NoError(t, err)
	assert.Equal(t, "inv-winner", result.InvoiceID)
	assert.True(t, result.Existing)
	assert.Equal(t, int64(1), gateway.cancelCalls.Load(), "the losing invoice must be voided")
}

func TestInvoiceWorkflow_CheckStatus_TerminalIsCacheFirst(t *testing.T) {
	gateway := newFakeGateway(t)
	repo := repository.NewMemoryPaymentRepository()
	workflow := newWorkflow(t, gateway, repo, nil)

	seedRecord(t, repo, "order-8", "inv-8", domain.PaymentStatusPending)
	_, err := repo.TransitionStatus(context.Background(), "inv-8", domain.PaymentStatusPaid, timePtr(time.Now()), strPtr("tx-8"))
	require.NoError(t, err)

	record, err := workflow.CheckStatus(context.Background(), "order-8")

	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, record.Status)
	assert.Equal(t, int64(0), gateway.checkCalls.Load(), "terminal records answer without a gateway call")
}

func TestInvoiceWorkflow_CheckStatus_PendingPollsAndSettles(t *testing.T) {
	gateway := newFakeGateway(t)
	gateway.checkRowsJSON = `[{"payment_id":"tx-9","payment_status":"PAID","payment_amount":1000,"payment_currency":"MNT"}]`
	repo := repository.NewMemoryPaymentRepository()
	orders := &stubOrderUpdater{}
	workflow := newWorkflow(t, gateway, repo, orders)

	seedRecord(t, repo, "order-9", "inv-9", domain.PaymentStatusPending)

	record, err := workflow.CheckStatus(context.Background(), "order-9")

	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, record.Status)
	require.NotNil(t, record.PaidAt)
	require.NotNil(t, record.GatewayTxID)
	assert.Equal(t, "tx-9", *record.GatewayTxID)

	require.Equal(t, 1, orders.paidCount())
	assert.Equal(t, int64(1000), orders.paidOrders[0].amount)

	// A second check is answered from the store.
	_, err = workflow.CheckStatus(context.Background(), "order-9")
	require.NoError(t, err)
	assert.Equal(t, int64(1), gateway.checkCalls.Load())
	assert.Equal(t, 1, orders.paidCount())
}

func TestInvoiceWorkflow_CheckStatus_PendingStaysPending(t *testing.T) {
	gateway := newFakeGateway(t)
	gateway.checkRowsJSON = `[]`
	repo := repository.NewMemoryPaymentRepository()
	workflow := newWorkflow(t, gateway, repo, nil)

	seedRecord(t, repo, "order-10", "inv-10", domain.PaymentStatusPending)

	record, err := workflow.CheckStatus(context.Background(), "order-10")

	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, record.Status)
}

func TestInvoiceWorkflow_CheckStatus_ResolvesByInvoiceID(t *testing.T) {
	gateway := newFakeGateway(t)
	repo := repository.NewMemoryPaymentRepository()
	workflow := newWorkflow(t, gateway, repo, nil)

	seedRecord(t, repo, "order-11", "inv-11", domain.PaymentStatusPending)

	record, err := workflow.CheckStatus(context.Background(), "inv-11")

	require.NoError(t, err)
	assert.Equal(t, "order-11", record.OrderID)
}

func TestInvoiceWorkflow_CheckStatus_UnknownRef(t *testing.T) {
	gateway := newFakeGateway(t)
	repo := repository.NewMemoryPaymentRepository()
	workflow := newWorkflow(t, gateway, repo, nil)

	_, err := workflow.CheckStatus(context.Background(), "no-such-ref")

	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func seedRecord(t *testing.T, repo repository.PaymentRepository, orderID, invoiceID string, status domain.PaymentStatus) {
	t.Helper()
	record := &domain.PaymentRecord{
		PaymentRef: "QPTEST" + invoiceID,
		OrderID:    orderID,
		InvoiceID:  invoiceID,
		Amount:     1000,
		Currency:   "MNT",
		QRText:     "QR-" + invoiceID,
	}
	require.NoError(t, repo.CreatePending(context.Background(), record))
	if status == domain.PaymentStatusFailed {
		_, err := repo.TransitionStatus(context.Background(), invoiceID, domain.PaymentStatusFailed, nil, nil)
		require.NoError(t, err)
	}
}

func timePtr(t time.Time) *time.Time { return &t }
func strPtr(s string) *string        { return &s }
