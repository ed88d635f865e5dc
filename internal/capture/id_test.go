package capture

import (
	"testing"
	"time"
)

func TestNewID_SortableWithinMillisecond(t *testing.T) {
	now := time.Now()
	prev := ""
	for i := 0; i < 100; i++ {
		id, err := NewID(now)
		if err != nil {
			t.Fatalf("NewID() error = %v", err)
		}
		if len(id) != 26 {
			t.Fatalf("len(id) = %d, want 26", len(id))
		}
		if !ValidID(id) {
			t.Fatalf("generated id %q is not valid", id)
		}
		if id <= prev {
			t.Fatalf("id %q not greater than previous %q", id, prev)
		}
		prev = id
	}
}

func TestValidID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"01ARZ3", true},
		{"01ARZ3NDEKTSV4RRFFQ69G5FAV", true},
		{"", false},
		{"01ARZ3NDEKTSV4RRFFQ69G5FAVX", false},
		{"../etc", false},
		{"01arz3", false},
		{"01ARZ3.md", false},
		{"01ILOU", false},
	}
	for _, tt := range tests {
		if got := ValidID(tt.id); got != tt.want {
			t.Errorf("ValidID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestNormalizeID(t *testing.T) {
	if got := NormalizeID("  01arz3 "); got != "01ARZ3" {
		t.Errorf("NormalizeID() = %q, want 01ARZ3", got)
	}
}
