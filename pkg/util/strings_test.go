package util

import "testing"

func TestSplitCommaSeparated(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"10.0.0.2", 1},
		{"10.0.0.2,10.0.0.3", 2},
		{"20, 30, 40", 3},
	}

	for _, tt := range tests {
		got := SplitCommaSeparated(tt.input)
		if len(got) != tt.want {
			t.Errorf("SplitCommaSeparated(%q) = %v (len %d), want len %d", tt.input, got, len(got), tt.want)
		}
	}
}

func TestNormalizeMAC(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"cc4e.2438.7a80", "cc:4e:24:38:7a:80"},
		{"CC:4E:24:38:7A:80", "cc:4e:24:38:7a:80"},
		{"cc-4e-24-38-7a-80", "cc:4e:24:38:7a:80"},
		{"cc:4e:24:38:7a:80", "cc:4e:24:38:7a:80"},
		{"not-a-mac", "not-a-mac"},
		{"cc4e.2438", "cc4e.2438"},
	}

	for _, tt := range tests {
		if got := NormalizeMAC(tt.input); got != tt.want {
			t.Errorf("NormalizeMAC(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestTruncateID(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"abc", "abc"},
		{"0c6a9f3e-5a71-4a43-9a34-1c7d1f2e3b4c", "0c6a9f3e"},
	}

	for _, tt := range tests {
		if got := TruncateID(tt.input); got != tt.want {
			t.Errorf("TruncateID(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
