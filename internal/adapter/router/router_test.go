package router

import (
	"context"
	"testing"

	"github.com/portero-gateway/portero/internal/adapter/registry"
	"github.com/portero-gateway/portero/internal/apperr"
	"github.com/portero-gateway/portero/internal/domain/anonymize"
	"github.com/portero-gateway/portero/internal/domain/tool"
)

type stubBackend struct {
	name        string
	calledWith  string
	lastArgs    anonymize.Value
	readWithURI string
}

func (s *stubBackend) Name() string { return s.name }
func (s *stubBackend) ListTools(context.Context) ([]tool.Tool, error) {
	return nil, nil
}
func (s *stubBackend) Call(_ context.Context, localName string, args anonymize.Value) (anonymize.Value, error) {
	s.calledWith = localName
	s.lastArgs = args
	return anonymize.String("ok"), nil
}
func (s *stubBackend) ReadResource(_ context.Context, uri string) (anonymize.Value, error) {
	s.readWithURI = uri
	return anonymize.String("resource"), nil
}

func TestRouter_Resolve_SplitsOnFirstSlash(t *testing.T) {
	reg := registry.New()
	b := &stubBackend{name: "gmail"}
	reg.Register(b, nil)
	r := New(reg)

	backendName, localName, err := r.Resolve("gmail/labels/list")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if backendName != "gmail" || localName != "labels/list" {
		t.Fatalf("got backend=%q local=%q", backendName, localName)
	}
}

func TestRouter_Resolve_UnknownBackend(t *testing.T) {
	reg := registry.New()
	r := New(reg)
	if _, _, err := r.Resolve("ghost/do_thing"); err != apperr.ErrUnknownBackend {
		t.Fatalf("expected ErrUnknownBackend, got %v", err)
	}
}

func TestRouter_Resolve_Malformed(t *testing.T) {
	reg := registry.New()
	r := New(reg)
	if _, _, err := r.Resolve("no-separator"); err != apperr.ErrMalformedName {
		t.Fatalf("expected ErrMalformedName, got %v", err)
	}
}

func TestRouter_Call_DispatchesLocalName(t *testing.T) {
	reg := registry.New()
	b := &stubBackend{name: "gmail"}
	reg.Register(b, nil)
	r := New(reg)

	_, err := r.Call(context.Background(), "gmail/send_email", anonymize.String("payload"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if b.calledWith != "send_email" {
		t.Fatalf("expected local name send_email, got %q", b.calledWith)
	}
}

func TestRouter_Call_MarksToolUsed(t *testing.T) {
	reg := registry.New()
	b := &stubBackend{name: "gmail"}
	reg.Register(b, nil)
	r := New(reg)

	if _, err := r.Call(context.Background(), "gmail/send_email", anonymize.Null()); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !reg.RecentlyUsed("gmail/send_email") {
		t.Fatalf("expected gmail/send_email to be marked recently used")
	}
	if reg.RecentlyUsed("gmail/list_labels") {
		t.Fatalf("did not expect an unrelated tool to be marked recently used")
	}
}

func TestRouter_ReadResource_PeelsScheme(t *testing.T) {
	reg := registry.New()
	b := &stubBackend{name: "gmail"}
	reg.Register(b, nil)
	r := New(reg)

	_, err := r.ReadResource(context.Background(), "gmail://inbox/thread-1")
	if err != nil {
		t.Fatalf("ReadResource: %v", err)
	}
	if b.readWithURI != "inbox/thread-1" {
		t.Fatalf("expected scheme peeled off, got %q", b.readWithURI)
	}
}
