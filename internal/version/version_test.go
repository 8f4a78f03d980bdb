package version

import (
	"runtime"
	"testing"
)

func TestGet(t *testing.T) {
	info := Get()
	if info.Version != Version || info.GoVersion != runtime.Version() {
		t.Errorf("Get() = %+v", info)
	}
	if info.Platform != runtime.GOOS+"/"+runtime.GOARCH {
		t.Errorf("platform = %q", info.Platform)
	}
}

func TestSummary(t *testing.T) {
	tests := []struct {
		name string
		info Info
		want string
	}{
		{
			name: "release build",
			info: Info{Version: "1.2.0", GitCommit: "abc1234def", BuildDate: "2025-01-27", Platform: "linux/amd64"},
			want: "gpuenc 1.2.0 (abc1234, built 2025-01-27, linux/amd64)",
		},
		{
			name: "dev build",
			info: Info{Version: "dev", GitCommit: "unknown", BuildDate: "unknown", Platform: "linux/arm64"},
			want: "gpuenc dev (linux/arm64)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.Summary(); got != tt.want {
				t.Errorf("Summary() = %q, want %q", got, tt.want)
			}
		})
	}
}
