package settings

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestGetReturnsDefaultsWhenUnset(t *testing.T) {
	r := miniredis.RunT(t)
	s, err := NewStore(r.Addr(), "")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	cfg, err := s.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cfg.Theme != "dark" || cfg.SimLeakedAPIKey || len(cfg.Integrations) != 4 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestPutRoundTrip(t *testing.T) {
	r := miniredis.RunT(t)
	s, err := NewStore(r.Addr(), "")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	in := Defaults()
	in.Theme = "light"
	in.SimMassDownload = true
	in.Integrations["zoho"] = true
	if err := s.Put(ctx, in); err != nil {
		t.Fatalf("put: %v", err)
	}
	out, err := s.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if out.Theme != "light" || !out.SimMassDownload || !out.Integrations["zoho"] {
		t.Fatalf("round trip lost data: %+v", out)
	}
}

func TestNewStoreRequiresAddr(t *testing.T) {
	if _, err := NewStore("  ", ""); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}
