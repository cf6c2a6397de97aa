package dispatch

import (
	"context"
	"testing"
)

type stubTransport struct {
	name string
	sent []string
}

func (f *stubTransport) Name() string                    { return f.name }
func (f *stubTransport) Start(ctx context.Context) error { return nil }
func (f *stubTransport) Stop(ctx context.Context) error  { return nil }
func (f *stubTransport) SendResponse(sourceID, text string) error {
	f.sent = append(f.sent, text)
	return nil
}

func TestRouter_RegisterGetRoute(t *testing.T) {
	r := NewRouter()
	ft := &stubTransport{name: "telegram"}
	r.Register(ft)

	if got, ok := r.Get("telegram"); !ok || got.Name() != "telegram" {
		t.Fatalf("expected registered transport, got %v ok=%v", got, ok)
	}

	r.Route("telegram", "chat1", "hello")
	if len(ft.sent) != 1 || ft.sent[0] != "hello" {
		t.Fatalf("expected message routed to transport, got %v", ft.sent)
	}
}

func TestRouter_RouteUnknownSourceDrops(t *testing.T) {
	r := NewRouter()
	r.Route("unknown", "chat1", "hello") // must not panic
}

func TestRouter_Unregister(t *testing.T) {
	r := NewRouter()
	r.Register(&stubTransport{name: "discord"})
	r.Unregister("discord")
	if _, ok := r.Get("discord"); ok {
		t.Fatal("expected transport unregistered")
	}
}

func TestValidateDeliverTo(t *testing.T) {
	r := NewRouter()
	r.Register(&stubTransport{name: "telegram"})

	if err := ValidateDeliverTo(r, "last"); err != nil {
		t.Errorf("expected \"last\" to validate, got %v", err)
	}
	if err := ValidateDeliverTo(r, "telegram"); err != nil {
		t.Errorf("expected registered transport name to validate, got %v", err)
	}
	if err := ValidateDeliverTo(r, "discord"); err == nil {
		t.Error("expected unregistered transport name to fail validation")
	}
}
