package archive

import (
	"strings"
	"testing"
)

func TestTruncateCommand(t *testing.T) {
	tests := []struct {
		name    string
		command string
		maxLen  int
		want    string
	}{
		{name: "short passes through", command: "ls -la", maxLen: 500, want: "ls -la"},
		{name: "exact length passes through", command: "abcde", maxLen: 5, want: "abcde"},
		{name: "long truncated", command: strings.Repeat("x", 600), maxLen: 500, want: strings.Repeat("x", 500)},
		{name: "multibyte not split", command: "日本語テキスト", maxLen: 3, want: "日本語"},
		{name: "empty", command: "", maxLen: 500, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateCommand(tt.command, tt.maxLen); got != tt.want {
				t.Errorf("TruncateCommand(%q, %d) = %q, want %q", tt.command, tt.maxLen, got, tt.want)
			}
		})
	}
}
