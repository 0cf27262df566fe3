package config

import (
	"testing"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/google/go-cmp/cmp"
	"github.com/zalando/dup/circuit"
)

func Test_breakerFlags_String(t *testing.T) {
	tests := []struct {
		name string
		b    *breakerFlags
		want string
	}{
		{
			name: "test consecutive breaker",
			b: &breakerFlags{
				Failures:         5,
				Timeout:          3 * time.Second,
				HalfOpenRequests: 3,
			},
			want: "failures=5,timeout=3s,half-open-requests=3",
		},
		{
			name: "test failures only",
			b:    &breakerFlags{Failures: 2},
			want: "failures=2",
		},
		{
			name: "test disabled breaker",
			b:    &breakerFlags{},
			want: "disabled",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.b.String(); got != tt.want {
				t.Errorf("breakerFlags.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_breakerFlags_Set(t *testing.T) {
	tests := []struct {
		name      string
		args      string
		wantErr   bool
		errString string
		want      circuit.BreakerSettings
	}{
		{
			name: "test breaker settings",
			args: "failures=5,timeout=3s,half-open-requests=3",
			want: circuit.BreakerSettings{
				Failures:         5,
				Timeout:          3 * time.Second,
				HalfOpenRequests: 3,
			},
		},
		{
			name: "test timeout in milliseconds",
			args: "failures=1,timeout=1500",
			want: circuit.BreakerSettings{
				Failures: 1,
				Timeout:  1500 * time.Millisecond,
			},
		},
		{
			name:      "test breaker settings with wrong failures",
			args:      "failures=4s,timeout=3s",
			wantErr:   true,
			errString: `strconv.Atoi: parsing "4s": invalid syntax`,
		},
		{
			name:      "test breaker settings with wrong timeout",
			args:      "failures=4,timeout=3x",
			wantErr:   true,
			errString: `time: unknown unit "x" in duration "3x"`,
		},
		{
			name:      "test breaker settings unknown key",
			args:      "failures=4,window=10",
			wantErr:   true,
			errString: errInvalidBreakerConfig.Error(),
		},
		{
			name:      "test breaker settings without value",
			args:      "failures",
			wantErr:   true,
			errString: errInvalidBreakerConfig.Error(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &breakerFlags{}
			err := b.Set(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("breakerFlags.Set() error = %v, wantErr %v", err, tt.wantErr)
			}

			if tt.wantErr {
				if err.Error() != tt.errString {
					t.Errorf("breakerFlags.Set() error = %v, want %v", err, tt.errString)
				}
				return
			}

			if d := cmp.Diff(tt.want, circuit.BreakerSettings(*b)); d != "" {
				t.Errorf("breakerFlags.Set() diff:\n%s", d)
			}
		})
	}
}

func Test_breakerFlags_UnmarshalYAML(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		want    circuit.BreakerSettings
		wantErr bool
	}{
		{
			name: "test breaker settings",
			yaml: `failures: 3
timeout: 2s
half-open-requests: 2`,
			want: circuit.BreakerSettings{
				Failures:         3,
				Timeout:          2 * time.Second,
				HalfOpenRequests: 2,
			},
		},
		{
			name:    "test invalid yaml",
			yaml:    `failures: three`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &breakerFlags{}
			err := yaml.Unmarshal([]byte(tt.yaml), b)
			if (err != nil) != tt.wantErr {
				t.Fatalf("breakerFlags.UnmarshalYAML() error = %v, wantErr %v", err, tt.wantErr)
			}

			if !tt.wantErr {
				if d := cmp.Diff(tt.want, circuit.BreakerSettings(*b)); d != "" {
					t.Errorf("breakerFlags.UnmarshalYAML() diff:\n%s", d)
				}
			}
		})
	}
}
