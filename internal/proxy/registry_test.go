package proxy

import (
	"errors"
	"slices"
	"testing"
)

func noopPass(name string) Pass {
	return Pass{Name: name, Run: func(*Context) bool { return false }}
}

func TestPassListBefore(t *testing.T) {
	l := defaultWebPasses()
	if err := l.Before("stream", noopPass("custom")); err != nil {
		t.Fatalf("Before() error = %v", err)
	}

	want := []string{"deleteLength", "timeout", "xHeaders", "custom", "stream"}
	if got := l.Names(); !slices.Equal(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestPassListAfter(t *testing.T) {
	l := defaultWebPasses()
	if err := l.After("deleteLength", noopPass("custom")); err != nil {
		t.Fatalf("After() error = %v", err)
	}

	// Strictly after the anchor, not at the anchor's slot.
	want := []string{"deleteLength", "custom", "timeout", "xHeaders", "stream"}
	if got := l.Names(); !slices.Equal(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestPassListAfterLast(t *testing.T) {
	l := defaultWebPasses()
	if err := l.After("stream", noopPass("tail")); err != nil {
		t.Fatalf("After() error = %v", err)
	}
	names := l.Names()
	if names[len(names)-1] != "tail" {
		t.Errorf("last pass = %q, want %q", names[len(names)-1], "tail")
	}
}

func TestPassListUnknownAnchor(t *testing.T) {
	l := defaultWebPasses()
	if err := l.Before("nope", noopPass("x")); !errors.Is(err, ErrNoSuchPass) {
		t.Errorf("Before(unknown) error = %v, want ErrNoSuchPass", err)
	}
	if err := l.After("nope", noopPass("x")); !errors.Is(err, ErrNoSuchPass) {
		t.Errorf("After(unknown) error = %v, want ErrNoSuchPass", err)
	}
}

func TestPassListDuplicateName(t *testing.T) {
	l := defaultWebPasses()
	if err := l.Before("stream", noopPass("xHeaders")); !errors.Is(err, ErrDuplicatePass) {
		t.Errorf("Before(duplicate) error = %v, want ErrDuplicatePass", err)
	}
}

func TestPassListAnonymousPass(t *testing.T) {
	l := defaultWebPasses()
	if err := l.Before("stream", Pass{Run: func(*Context) bool { return false }}); err != nil {
		t.Fatalf("Before(anonymous) error = %v", err)
	}
	if err := l.Before("", noopPass("x")); !errors.Is(err, ErrNoSuchPass) {
		t.Errorf("anonymous passes must not anchor, got %v", err)
	}
}

func TestServerInvalidKind(t *testing.T) {
	s := mustServer(t, &Options{Target: "http://u"})
	if err := s.Before("bogus", "stream", noopPass("x")); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("Before(bogus kind) error = %v, want ErrInvalidKind", err)
	}
	if err := s.After("bogus", "stream", noopPass("x")); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("After(bogus kind) error = %v, want ErrInvalidKind", err)
	}
}

func TestWSPassOrder(t *testing.T) {
	want := []string{"checkMethodAndHeader", "xHeaders", "stream"}
	if got := defaultWSPasses().Names(); !slices.Equal(got, want) {
		t.Errorf("ws pass order = %v, want %v", got, want)
	}
}
