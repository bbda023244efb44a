package hipaa

import (
	"testing"
	"time"
)

func TestRetentionDate(t *testing.T) {
	tests := []struct {
		name string
		ts   time.Time
		want time.Time
	}{
		{
			"ordinary day",
			time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC),
			time.Date(2030, 3, 15, 10, 30, 0, 0, time.UTC),
		},
		{
			"leap day rolls to March 1",
			time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
			time.Date(2030, 3, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RetentionDate(tt.ts); !got.Equal(tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

