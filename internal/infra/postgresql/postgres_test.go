package postgresql

import (
	"testing"
	"time"
)

func TestPoolNormalized(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   Pool
		want Pool
	}{
		{
			name: "defaults",
			in:   Pool{},
			want: Pool{MaxOpenConns: 25, MaxIdleConns: 5, ConnMaxLifetime: time.Hour},
		},
		{
			name: "idle capped by open",
			in:   Pool{MaxOpenConns: 3, MaxIdleConns: 10, ConnMaxLifetime: time.Minute},
			want: Pool{MaxOpenConns: 3, MaxIdleConns: 3, ConnMaxLifetime: time.Minute},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := tt.in.normalized(); got != tt.want {
				t.Fatalf("normalized() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
