package cache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestKey(t *testing.T) {
	a := Key("analysis", []byte("<ClinicalDocument/>"))
	b := Key("analysis", []byte("<ClinicalDocument/>"))
	c := Key("analysis", []byte("<ClinicalDocument></ClinicalDocument>"))

	if a != b {
		t.Errorf("same input produced different keys: %q vs %q", a, b)
	}
	if a == c {
		t.Error("different input produced the same key")
	}
	if !strings.HasPrefix(a, "analysis:") || len(a) != len("analysis:")+64 {
		t.Errorf("unexpected key format: %q", a)
	}
}

func TestNoop(t *testing.T) {
	ctx := context.Background()
	var c Cache = Noop{}

	if err := c.Set(ctx, "k", map[string]int{"a": 1}, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	var dst map[string]int
	if err := c.Get(ctx, "k", &dst); !errors.Is(err, ErrMiss) {
		t.Errorf("expected ErrMiss, got %v", err)
	}
	if err := c.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestNewRedis_InvalidURL(t *testing.T) {
	_, err := NewRedis(context.Background(), "not-a-redis-url")
	if err == nil {
		t.Fatal("expected error for invalid url")
	}
	if !strings.Contains(err.Error(), "parse redis url") {
		t.Errorf("unexpected error: %v", err)
	}
}
