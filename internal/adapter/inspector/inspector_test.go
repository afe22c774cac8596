package inspector

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/thushan/oxide/internal/core/domain"
)

func TestSimpleWritesEntryWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	s := NewSimple(true, dir, nil)

	conn := &domain.Connection{
		ClientKey: domain.NewClientKey(net.IPv4(10, 0, 0, 1), net.IPv4(10, 0, 0, 2), 1234, 443),
	}

	if err := s.Inspect(conn, []byte("hello")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one dated directory, got %v err=%v", entries, err)
	}
}

func TestSimpleNoopWhenDisabled(t *testing.T) {
	dir := t.TempDir()
	s := NewSimple(false, dir, nil)

	conn := &domain.Connection{}
	if err := s.Inspect(conn, []byte("hello")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Error("expected no files written when disabled")
	}
}

func TestSanitiseKeyRejectsEscape(t *testing.T) {
	dir := t.TempDir()
	safe, err := sanitiseKey("10.0.0.1:1234->10.0.0.2:443", dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.IsAbs(safe) || strings.Contains(safe, "/") {
		t.Errorf("sanitised key %q contains path separators", safe)
	}
}
