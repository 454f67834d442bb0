package usecase

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"qpay-bridge/config"
	"qpay-bridge/internal/provider/qpay"

	"go.uber.org/zap"
)

// stubOrderUpdater records order-update side effects so tests can assert
// they fire exactly once per transition.
type stubOrderUpdater struct {
	mu          sync.Mutex
	paidOrders  []paidCall
	failedCalls []failedCall
	err         error
}

type paidCall struct {
	orderID     string
	amount      int64
	currency    string
	gatewayTxID string
}

type failedCall struct {
	orderID string
	reason  string
}

func (s *stubOrderUpdater) MarkPaid(ctx context.Context, orderID string, amount int64, currency, gatewayTxID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.paidOrders = append(s.paidOrders, paidCall{orderID, amount, currency, gatewayTxID})
	return nil
}

func (s *stubOrderUpdater) MarkFailed(ctx context.Context, orderID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.failedCalls = append(s.failedCalls, failedCall{orderID, reason})
	return nil
}

func (s *stubOrderUpdater) paidCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.paidOrders)
}

func (s *stubOrderUpdater) failedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.failedCalls)
}

// fakeGateway scripts the QPay endpoints the workflow touches.
type fakeGateway struct {
	server        *httptest.Server
	invoiceCalls  atomic.Int64
	checkCalls    atomic.Int64
	cancelCalls   atomic.Int64
	invoiceStatus int
	nextInvoiceID string
	checkRowsJSON string
	lastInvoice   struct {
		sync.Mutex
		body []byte
	}
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	g := &fakeGateway{
		invoiceStatus: http.StatusOK,
		nextInvoiceID: "inv-1",
		checkRowsJSON: `[]`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token_type":"Bearer","access_token":"tok-1","expires_in":3600}`))
	})
	mux.HandleFunc("/invoice", func(w http.ResponseWriter, r *http.Request) {
		g.invoiceCalls.Add(1)
		if g.invoiceStatus != http.StatusOK {
			w.WriteHeader(g.invoiceStatus)
			w.Write([]byte(`{"error":"INVOICE_REJECTED"}`))
			return
		}
		body, _ := io.ReadAll(r.Body)
		g.lastInvoice.Lock()
		g.lastInvoice.body = body
		g.lastInvoice.Unlock()
		fmt.Fprintf(w, `{"invoice_id":%q,"qr_text":"QR-%s","qr_image":"IMG","deeplinks":[]}`,
			g.nextInvoiceID, g.nextInvoiceID)
	})
	mux.HandleFunc("/invoice/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			g.cancelCalls.Add(1)
		}
		w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/payment/check", func(w http.ResponseWriter, r *http.Request) {
		g.checkCalls.Add(1)
		fmt.Fprintf(w, `{"count":1,"paid_amount":0,"rows":%s}`, g.checkRowsJSON)
	})
	g.server = httptest.NewServer(mux)
	t.Cleanup(g.server.Close)
	return g
}

func (g *fakeGateway) client(t *testing.T) *qpay.Client {
	t.Helper()
	return qpay.NewClientWithBaseURL(testQPayConfig(), g.server.URL, zap.NewNop())
}

func testQPayConfig() config.QPayConfig {
	return config.QPayConfig{
		Username:    "merchant",
		Password:    "secret",
		InvoiceCode: "MERCHANT_INVOICE",
		CallbackURL: "https://bridge.example.com/api/v1/webhooks/qpay",
	}
}

// sign computes the hex HMAC-SHA256 the gateway would send for a body.
func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
