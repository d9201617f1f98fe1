package payments

import (
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestGenerateOrderID(t *testing.T) {
	t.Run("Then every id is exactly the gateway length", func(t *testing.T) {
		for i := 0; i < 100; i++ {
			id, err := GenerateOrderID()
			if err != nil {
				t.Fatalf("GenerateOrderID: %v", err)
			}
			if len(id) != orderIDLength {
				t.Fatalf("len(%q) = %d, want %d", id, len(id), orderIDLength)
			}
		}
	})

	t.Run("Then every id is lowercase hex ASCII", func(t *testing.T) {
		id, err := GenerateOrderID()
		if err != nil {
			t.Fatalf("GenerateOrderID: %v", err)
		}
		for _, c := range id {
			if !strings.ContainsRune("0123456789abcdef", c) {
				t.Fatalf("id %q contains %q", id, c)
			}
		}
	})

	t.Run("Then the timestamp prefix survives truncation", func(t *testing.T) {
		before := time.Now().UnixMilli()
		id, err := GenerateOrderID()
		if err != nil {
			t.Fatalf("GenerateOrderID: %v", err)
		}
		after := time.Now().UnixMilli()

		prefixLen := len(strconv.FormatInt(before, 10))
		ms, err := strconv.ParseInt(id[:prefixLen], 10, 64)
		if err != nil {
			t.Fatalf("id %q has no millisecond prefix: %v", id, err)
		}
		if ms < before || ms > after {
			t.Fatalf("prefix %d outside [%d, %d]", ms, before, after)
		}
	})

	t.Run("Then ids do not collide under rapid generation", func(t *testing.T) {
		seen := make(map[string]struct{}, 1000)
		for i := 0; i < 1000; i++ {
			id, err := GenerateOrderID()
			if err != nil {
				t.Fatalf("GenerateOrderID: %v", err)
			}
			if _, dup := seen[id]; dup {
				t.Fatalf("duplicate id %q", id)
			}
			seen[id] = struct{}{}
		}
	})
}
