package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/gitjhb/luna-sub003/internal/config"
	"github.com/gitjhb/luna-sub003/internal/domain"
)

func TestOpen_Drivers(t *testing.T) {
	for _, driver := range []string{config.LocalStoreMemory, config.LocalStoreSQLite} {
		t.Run(driver, func(t *testing.T) {
			cfg := &config.Config{LocalStoreDriver: driver, LocalStorePath: filepath.Join(t.TempDir(), "open.db")}
			stores, err := Open(context.Background(), cfg)
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			defer stores.Close()

			if err := stores.Messages.Create(context.Background(), domain.Message{ID: "m1", SessionID: "s1", Role: domain.RoleUser, Content: "hola"}); err != nil {
				t.Fatalf("create: %v", err)
			}
			if err := stores.Sessions.Upsert(context.Background(), domain.Session{ID: "s1", ParticipantID: "c1"}); err != nil {
				t.Fatalf("upsert: %v", err)
			}
		})
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), &config.Config{LocalStoreDriver: "bolt"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
