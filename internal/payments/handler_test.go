package payments

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xuanthe1908/E-Learning-Full/internal/models"
	"github.com/xuanthe1908/E-Learning-Full/internal/vnpay"
)

const webhookSecret = "QWERTYUIOPASDFGHJKLZXCVBNM123456"

func newWebhookHandler(t *testing.T, r *rig) *Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	client, err := vnpay.NewClient(vnpay.Config{
		TmnCode:    "DEMOV210",
		HashSecret: webhookSecret,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return NewHandler(nil, nil, client, r.rec, nil, time.Minute, zap.NewNop())
}

func signedWebhookForm(t *testing.T, orderID, code string, mutate func(map[string]string)) url.Values {
	t.Helper()
	signer, err := vnpay.NewSigner(webhookSecret)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	params := map[string]string{
		"vnp_TxnRef":        orderID,
		"vnp_ResponseCode":  code,
		"vnp_TransactionNo": "14422574",
		"vnp_PayDate":       "20260831103212",
		"vnp_Amount":        "19900000",
	}
	params[vnpay.FieldSecureHash] = signer.Sign(params)
	if mutate != nil {
		mutate(params)
	}
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	return form
}

func postWebhook(h *Handler, form url.Values) (int, map[string]string) {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/payments/vnpay/webhook", strings.NewReader(form.Encode()))
	c.Request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	h.HandleWebhook(c)

	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	return rec.Code, body
}

func TestHandler_HandleWebhook(t *testing.T) {
	t.Run("Given an approved notification Then it confirms and enrolls", func(t *testing.T) {
		r := newRig(pendingIntent("order-1"))
		h := newWebhookHandler(t, r)

		code, body := postWebhook(h, signedWebhookForm(t, "order-1", "00", nil))
		if code != http.StatusOK {
			t.Fatalf("http status = %d, want 200", code)
		}
		if body["RspCode"] != ipnSuccess {
			t.Fatalf("RspCode = %q, want %q", body["RspCode"], ipnSuccess)
		}
		if got := r.store.status("order-1"); got != models.PaymentStatusCompleted {
			t.Fatalf("status = %q, want completed", got)
		}
		if r.enroller.count() != 1 {
			t.Fatalf("enroll count = %d, want 1", r.enroller.count())
		}
	})

	t.Run("Given a redelivered notification Then it acknowledges already confirmed", func(t *testing.T) {
		r := newRig(pendingIntent("order-1"))
		h := newWebhookHandler(t, r)

		form := signedWebhookForm(t, "order-1", "00", nil)
		postWebhook(h, form)
		code, body := postWebhook(h, form)
		if code != http.StatusOK {
			t.Fatalf("http status = %d, want 200", code)
		}
		if body["RspCode"] != ipnAlreadyConfirmed {
			t.Fatalf("RspCode = %q, want %q", body["RspCode"], ipnAlreadyConfirmed)
		}
		if r.enroller.count() != 1 {
			t.Fatalf("enroll count = %d, want 1", r.enroller.count())
		}
	})

	t.Run("Given a notification for an unknown order Then it answers not found", func(t *testing.T) {
		h := newWebhookHandler(t, newRig())
		code, body := postWebhook(h, signedWebhookForm(t, "never-issued", "00", nil))
		if code != http.StatusOK {
			t.Fatalf("http status = %d, want 200", code)
		}
		if body["RspCode"] != ipnOrderNotFound {
			t.Fatalf("RspCode = %q, want %q", body["RspCode"], ipnOrderNotFound)
		}
	})

	t.Run("Given a tampered notification Then it answers invalid signature and keeps pending", func(t *testing.T) {
		r := newRig(pendingIntent("order-1"))
		h := newWebhookHandler(t, r)

		form := signedWebhookForm(t, "order-1", "00", func(p map[string]string) {
			p["vnp_Amount"] = "100"
		})
		code, body := postWebhook(h, form)
		if code != http.StatusOK {
			t.Fatalf("http status = %d, want 200", code)
		}
		if body["RspCode"] != ipnInvalidSignature {
			t.Fatalf("RspCode = %q, want %q", body["RspCode"], ipnInvalidSignature)
		}
		if got := r.store.status("order-1"); got != models.PaymentStatusPending {
			t.Fatalf("status = %q, want pending", got)
		}
		if r.enroller.count() != 0 {
			t.Fatal("tampered notification triggered enrollment")
		}
	})

	t.Run("Given a declined notification Then it confirms receipt and fails the intent", func(t *testing.T) {
		r := newRig(pendingIntent("order-1"))
		h := newWebhookHandler(t, r)

		code, body := postWebhook(h, signedWebhookForm(t, "order-1", "24", nil))
		if code != http.StatusOK {
			t.Fatalf("http status = %d, want 200", code)
		}
		if body["RspCode"] != ipnSuccess {
			t.Fatalf("RspCode = %q, want %q", body["RspCode"], ipnSuccess)
		}
		if got := r.store.status("order-1"); got != models.PaymentStatusFailed {
			t.Fatalf("status = %q, want failed", got)
		}
		if r.enroller.count() != 0 {
			t.Fatal("declined notification triggered enrollment")
		}
	})

	t.Run("Given a payload with no transaction reference Then it answers unknown error", func(t *testing.T) {
		h := newWebhookHandler(t, newRig())
		form := url.Values{}
		form.Set("vnp_ResponseCode", "00")
		code, body := postWebhook(h, form)
		if code != http.StatusOK {
			t.Fatalf("http status = %d, want 200", code)
		}
		if body["RspCode"] != ipnUnknownError {
			t.Fatalf("RspCode = %q, want %q", body["RspCode"], ipnUnknownError)
		}
	})
}
