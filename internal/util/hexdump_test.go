package util

import (
	"strings"
	"testing"
)

func TestHexDump(t *testing.T) {
	got := HexDump([]byte("hello\x00world"))
	if !strings.Contains(got, "68 65 6c 6c 6f 00 77 6f") {
		t.Errorf("missing hex bytes in dump:\n%s", got)
	}
	if !strings.Contains(got, "|hello.world|") {
		t.Errorf("missing ascii gutter in dump:\n%s", got)
	}
	if !strings.HasPrefix(got, "0000  ") {
		t.Errorf("missing address column in dump:\n%s", got)
	}
	if HexDump(nil) != "" {
		t.Errorf("empty input should produce empty dump")
	}
}
