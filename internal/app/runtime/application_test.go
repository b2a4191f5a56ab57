package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/starkillerOG/HA-motion-blinds/internal/config"
)

func TestApplicationRunAndShutdown(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Logging.Output = "stderr"

	application, err := NewApplication(cfg)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancel")
	}

	if err := application.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestBuildStoresMemoryFallback(t *testing.T) {
	stores, db, err := buildStores(config.DatabaseConfig{})
	if err != nil {
		t.Fatalf("build stores: %v", err)
	}
	if db != nil {
		t.Fatal("expected no database connection without a DSN")
	}
	if stores.Entries != nil || stores.Devices != nil {
		t.Fatal("empty stores expected; the container defaults to memory")
	}
}
