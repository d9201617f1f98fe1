package vnpay

import (
	"strings"
	"testing"
)

const testSecret = "QWERTYUIOPASDFGHJKLZXCVBNM123456"

func sampleParams() map[string]string {
	return map[string]string{
		"vnp_Version":   "2.1.0",
		"vnp_Command":   "pay",
		"vnp_TmnCode":   "DEMOV210",
		"vnp_TxnRef":    "17254000000001a2b3c",
		"vnp_Amount":    "10000000",
		"vnp_OrderInfo": "Course payment: Intro to Go",
		"vnp_IpAddr":    "203.0.113.7",
	}
}

func TestSigner_New(t *testing.T) {
	t.Run("Given an empty secret Then construction fails", func(t *testing.T) {
		if _, err := NewSigner(""); err != ErrMissingSecret {
			t.Fatalf("expected ErrMissingSecret, got %v", err)
		}
	})
}

func TestSigner_RoundTrip(t *testing.T) {
	signer, err := NewSigner(testSecret)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	t.Run("Given any valid parameter set Then its own signature verifies", func(t *testing.T) {
		params := sampleParams()
		mac := signer.Sign(params)
		if !signer.Verify(params, mac) {
			t.Fatal("signature did not verify against the params it was computed over")
		}
	})

	t.Run("When the provided signature is uppercase hex Then it still verifies", func(t *testing.T) {
		params := sampleParams()
		mac := strings.ToUpper(signer.Sign(params))
		if !signer.Verify(params, mac) {
			t.Fatal("uppercase signature rejected")
		}
	})

	t.Run("When any value is mutated by one byte Then verification fails", func(t *testing.T) {
		params := sampleParams()
		mac := signer.Sign(params)
		for key, original := range params {
			mutated := []byte(original)
			mutated[0] ^= 0x01
			params[key] = string(mutated)
			if signer.Verify(params, mac) {
				t.Fatalf("mutation of %q still verified", key)
			}
			params[key] = original
		}
	})

	t.Run("When the signature itself is mutated Then verification fails", func(t *testing.T) {
		params := sampleParams()
		mac := signer.Sign(params)
		bad := "0" + mac[1:]
		if bad == mac {
			bad = "1" + mac[1:]
		}
		if signer.Verify(params, bad) {
			t.Fatal("mutated signature verified")
		}
	})

	t.Run("Given an empty provided signature Then verification fails", func(t *testing.T) {
		if signer.Verify(sampleParams(), "") {
			t.Fatal("empty signature verified")
		}
	})

	t.Run("Given a different secret Then the signature does not verify", func(t *testing.T) {
		other, err := NewSigner("another-secret-entirely-00000000")
		if err != nil {
			t.Fatalf("NewSigner: %v", err)
		}
		params := sampleParams()
		if other.Verify(params, signer.Sign(params)) {
			t.Fatal("signature verified under the wrong secret")
		}
	})
}

func TestCanonicalize(t *testing.T) {
	t.Run("Then keys are sorted and values query-escaped", func(t *testing.T) {
		got := Canonicalize(map[string]string{
			"vnp_TxnRef":    "abc123",
			"vnp_Amount":    "100",
			"vnp_OrderInfo": "Course payment: Intro to Go",
		})
		want := "vnp_Amount=100&vnp_OrderInfo=Course+payment%3A+Intro+to+Go&vnp_TxnRef=abc123"
		if got != want {
			t.Fatalf("canonical string mismatch:\n got %q\nwant %q", got, want)
		}
	})

	t.Run("Then signature fields and empty values are excluded", func(t *testing.T) {
		got := Canonicalize(map[string]string{
			"vnp_TxnRef":        "abc123",
			"vnp_Bank":          "",
			FieldSecureHash:     "deadbeef",
			FieldSecureHashType: "HmacSHA512",
		})
		if got != "vnp_TxnRef=abc123" {
			t.Fatalf("unexpected canonical string %q", got)
		}
	})

	t.Run("Then the result is deterministic across map iteration orders", func(t *testing.T) {
		params := sampleParams()
		first := Canonicalize(params)
		for i := 0; i < 50; i++ {
			if got := Canonicalize(params); got != first {
				t.Fatalf("canonicalization not deterministic: %q vs %q", got, first)
			}
		}
	})
}
