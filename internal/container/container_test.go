package container

import (
	"testing"

	logx "hivebot/pkg/logx"
)

func TestNewManagerRequiresImage(t *testing.T) {
	t.Parallel()
	if _, err := NewManager(Config{}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing image")
	}
}

func TestContainerName(t *testing.T) {
	t.Parallel()
	if got := containerName("family"); got != "hivebot-family" {
		t.Fatalf("containerName = %q", got)
	}
}

func TestShortID(t *testing.T) {
	t.Parallel()
	if got := shortID("abcdef0123456789"); got != "abcdef012345" {
		t.Fatalf("shortID = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Fatalf("shortID = %q", got)
	}
}
