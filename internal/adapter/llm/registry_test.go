package llm

import (
	"errors"
	"testing"

	"falcon-core/internal/domain"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	p := &stubProvider{name: "openai"}

	if err := reg.Register(p); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := reg.Get("openai")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != domain.StreamProvider(p) {
		t.Error("Get returned a different provider")
	}
}

func TestRegistryDuplicate(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&stubProvider{name: "openai"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(&stubProvider{name: "openai"}); err == nil {
		t.Error("expected error on duplicate registration")
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get("nope")
	if !errors.Is(err, domain.ErrProviderNotFound) {
		t.Errorf("err = %v, want %v", err, domain.ErrProviderNotFound)
	}
}

func TestRegistryList(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(&stubProvider{name: "a"})
	_ = reg.Register(&stubProvider{name: "b"})

	names := reg.List()
	if len(names) != 2 {
		t.Fatalf("List returned %d names, want 2", len(names))
	}
}
