package vnpay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	if cfg.HashSecret == "" {
		cfg.HashSecret = testSecret
	}
	if cfg.TmnCode == "" {
		cfg.TmnCode = "DEMOV210"
	}
	client, err := NewClient(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	client.now = func() time.Time {
		return time.Date(2026, 8, 31, 10, 30, 0, 0, time.UTC)
	}
	return client
}

func testRequest() PaymentRequest {
	return PaymentRequest{
		OrderID:     "17254000000001a2b3c4",
		OrderInfo:   "Course payment: Intro to Go",
		AmountMinor: 199000,
		ClientIP:    "203.0.113.7",
		ExpiresAt:   time.Date(2026, 8, 31, 10, 45, 0, 0, time.UTC),
	}
}

func TestClient_New(t *testing.T) {
	t.Run("Given no hash secret Then construction fails", func(t *testing.T) {
		if _, err := NewClient(Config{TmnCode: "DEMOV210"}, nil); err == nil {
			t.Fatal("expected error for missing secret")
		}
	})
	t.Run("Given no merchant code Then construction fails", func(t *testing.T) {
		if _, err := NewClient(Config{HashSecret: testSecret}, nil); err == nil {
			t.Fatal("expected error for missing merchant code")
		}
	})
}

func TestClient_BuildPaymentURL(t *testing.T) {
	client := newTestClient(t, Config{
		PayURL:    "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		ReturnURL: "https://example.com/payments/vnpay/return",
	})

	t.Run("Then the URL carries a signature valid over its own query", func(t *testing.T) {
		raw, err := client.BuildPaymentURL(testRequest())
		if err != nil {
			t.Fatalf("BuildPaymentURL: %v", err)
		}
		parsed, err := url.Parse(raw)
		if err != nil {
			t.Fatalf("parse built URL: %v", err)
		}
		params := flatten(parsed.Query())
		if !client.signer.Verify(params, params[FieldSecureHash]) {
			t.Fatal("built URL does not verify against its own signature")
		}
	})

	t.Run("Then the amount is multiplied by one hundred", func(t *testing.T) {
		raw, err := client.BuildPaymentURL(testRequest())
		if err != nil {
			t.Fatalf("BuildPaymentURL: %v", err)
		}
		parsed, _ := url.Parse(raw)
		if got := parsed.Query().Get("vnp_Amount"); got != "19900000" {
			t.Fatalf("vnp_Amount = %q, want 19900000", got)
		}
	})

	t.Run("Then create and expire dates use the gateway layout", func(t *testing.T) {
		raw, _ := client.BuildPaymentURL(testRequest())
		parsed, _ := url.Parse(raw)
		if got := parsed.Query().Get("vnp_CreateDate"); got != "20260831103000" {
			t.Fatalf("vnp_CreateDate = %q", got)
		}
		if got := parsed.Query().Get("vnp_ExpireDate"); got != "20260831104500" {
			t.Fatalf("vnp_ExpireDate = %q", got)
		}
	})

	t.Run("Given a non-positive amount Then building fails", func(t *testing.T) {
		req := testRequest()
		req.AmountMinor = 0
		if _, err := client.BuildPaymentURL(req); err == nil {
			t.Fatal("expected error for zero amount")
		}
	})

	t.Run("Given no order id Then building fails", func(t *testing.T) {
		req := testRequest()
		req.OrderID = ""
		if _, err := client.BuildPaymentURL(req); err == nil {
			t.Fatal("expected error for missing order id")
		}
	})
}

func TestClient_BuildQRPayload(t *testing.T) {
	client := newTestClient(t, Config{
		QRURL:     "https://sandbox.vnpayment.vn/qr/create",
		ReturnURL: "https://example.com/payments/vnpay/return",
	})

	t.Run("Then the payload params include a verifiable signature", func(t *testing.T) {
		qr, err := client.BuildQRPayload(testRequest())
		if err != nil {
			t.Fatalf("BuildQRPayload: %v", err)
		}
		if !client.signer.Verify(qr.Params, qr.Params[FieldSecureHash]) {
			t.Fatal("QR params do not verify")
		}
		if !strings.HasPrefix(qr.QRContent, "https://sandbox.vnpayment.vn/qr/create?") {
			t.Fatalf("unexpected QR content %q", qr.QRContent)
		}
	})
}

func TestClient_ParseCallback(t *testing.T) {
	client := newTestClient(t, Config{})

	signedValues := func(mutate func(map[string]string)) url.Values {
		params := map[string]string{
			"vnp_TxnRef":        "17254000000001a2b3c4",
			"vnp_ResponseCode":  "00",
			"vnp_TransactionNo": "14422574",
			"vnp_PayDate":       "20260831103212",
			"vnp_Amount":        "19900000",
		}
		params[FieldSecureHash] = client.signer.Sign(params)
		if mutate != nil {
			mutate(params)
		}
		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}
		return values
	}

	t.Run("Given a correctly signed payload Then it parses verified", func(t *testing.T) {
		cb, err := client.ParseCallback(signedValues(nil))
		if err != nil {
			t.Fatalf("ParseCallback: %v", err)
		}
		if !cb.Verified {
			t.Fatal("expected Verified")
		}
		if !cb.Approved() {
			t.Fatal("expected Approved for code 00")
		}
		if cb.OrderID != "17254000000001a2b3c4" || cb.TransactionID != "14422574" {
			t.Fatalf("unexpected callback %+v", cb)
		}
	})

	t.Run("Given a tampered amount Then the payload is unverified", func(t *testing.T) {
		cb, err := client.ParseCallback(signedValues(func(p map[string]string) {
			p["vnp_Amount"] = "100"
		}))
		if err != nil {
			t.Fatalf("ParseCallback: %v", err)
		}
		if cb.Verified {
			t.Fatal("tampered payload verified")
		}
	})

	t.Run("Given a payload missing the transaction reference Then parsing fails", func(t *testing.T) {
		_, err := client.ParseCallback(url.Values{"vnp_ResponseCode": {"00"}})
		if !errors.Is(err, ErrMalformedCallback) {
			t.Fatalf("expected ErrMalformedCallback, got %v", err)
		}
	})
}

func TestClient_QueryStatus(t *testing.T) {
	reply := func(t *testing.T, client *Client, fields map[string]string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if err := r.ParseForm(); err != nil {
				t.Errorf("parse query form: %v", err)
			}
			sent := flatten(r.PostForm)
			if !client.signer.Verify(sent, sent[FieldSecureHash]) {
				t.Error("outbound query is not signed correctly")
			}
			fields[FieldSecureHash] = client.signer.Sign(fields)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(fields)
		}
	}

	t.Run("Given a signed gateway response Then its outcome is returned", func(t *testing.T) {
		client := newTestClient(t, Config{})
		srv := httptest.NewServer(reply(t, client, map[string]string{
			"vnp_TxnRef":        "17254000000001a2b3c4",
			"vnp_ResponseCode":  "00",
			"vnp_TransactionNo": "14422574",
		}))
		defer srv.Close()
		client.cfg.QueryURL = srv.URL

		cb, err := client.QueryStatus(context.Background(), "17254000000001a2b3c4", "20260831103000")
		if err != nil {
			t.Fatalf("QueryStatus: %v", err)
		}
		if !cb.Verified || !cb.Approved() {
			t.Fatalf("unexpected callback %+v", cb)
		}
	})

	t.Run("Given a response with a bad signature Then no information is reported", func(t *testing.T) {
		client := newTestClient(t, Config{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{
				"vnp_TxnRef":       "17254000000001a2b3c4",
				"vnp_ResponseCode": "00",
				FieldSecureHash:    strings.Repeat("0", 128),
			})
		}))
		defer srv.Close()
		client.cfg.QueryURL = srv.URL

		if _, err := client.QueryStatus(context.Background(), "17254000000001a2b3c4", ""); !errors.Is(err, ErrNoInformation) {
			t.Fatalf("expected ErrNoInformation, got %v", err)
		}
	})

	t.Run("Given a gateway server error Then no information is reported", func(t *testing.T) {
		client := newTestClient(t, Config{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()
		client.cfg.QueryURL = srv.URL

		if _, err := client.QueryStatus(context.Background(), "17254000000001a2b3c4", ""); !errors.Is(err, ErrNoInformation) {
			t.Fatalf("expected ErrNoInformation, got %v", err)
		}
	})

	t.Run("Given a gateway that never answers Then no information is reported", func(t *testing.T) {
		client := newTestClient(t, Config{QueryTimeout: 50 * time.Millisecond})
		block := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-block
		}))
		defer func() {
			close(block)
			srv.Close()
		}()
		client.cfg.QueryURL = srv.URL

		if _, err := client.QueryStatus(context.Background(), "17254000000001a2b3c4", ""); !errors.Is(err, ErrNoInformation) {
			t.Fatalf("expected ErrNoInformation, got %v", err)
		}
	})

	t.Run("Given no order id Then the query is rejected locally", func(t *testing.T) {
		client := newTestClient(t, Config{})
		if _, err := client.QueryStatus(context.Background(), "", ""); !errors.Is(err, ErrMalformedCallback) {
			t.Fatalf("expected ErrMalformedCallback, got %v", err)
		}
	})
}
