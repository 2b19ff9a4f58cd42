package main

import (
	"context"
	"testing"

	"github.com/goodtune/chronos/internal/config"
	"github.com/goodtune/chronos/internal/permission"
	"github.com/rs/zerolog"
)

func TestCheckGrants(t *testing.T) {
	tests := []struct {
		name    string
		grants  map[string][]string
		wantErr bool
	}{
		{name: "empty"},
		{name: "wildcard", grants: map[string][]string{"parent": {"*"}}},
		{name: "known", grants: map[string][]string{"sitter": {"pause_timer", "resume_timer"}}},
		{name: "unknown", grants: map[string][]string{"sitter": {"pause_everything"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkGrants(tt.grants)
			if (err != nil) != tt.wantErr {
				t.Fatalf("checkGrants() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOpenStorage(t *testing.T) {
	dir := t.TempDir()

	for _, typ := range []string{config.StorageFile, config.StorageBolt} {
		t.Run(typ, func(t *testing.T) {
			path := dir
			if typ == config.StorageBolt {
				path = dir + "/chronos.bolt"
			}
			store, err := openStorage(config.StorageConfig{Type: typ, Path: path})
			if err != nil {
				t.Fatalf("openStorage: %v", err)
			}
			if err := store.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}
		})
	}

	if _, err := openStorage(config.StorageConfig{Type: "sqlite"}); err == nil {
		t.Fatal("expected unsupported storage type to fail")
	}
}

func TestStaticAuthorizationReload(t *testing.T) {
	cfg := config.Defaults().Permissions
	cfg.Engine = config.PermissionsStatic
	cfg.Grants = map[string][]string{"sitter": {"pause_timer"}}

	authz, err := newAuthorization(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("newAuthorization: %v", err)
	}

	sitter := permission.Contractor{ID: "sitter"}
	ctx := context.Background()
	if ok, _ := authz.Allowed(ctx, sitter, permission.PauseTimer); !ok {
		t.Fatal("sitter should hold pause_timer")
	}

	if err := authz.reload(map[string][]string{"sitter": {"replenish"}}); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if ok, _ := authz.Allowed(ctx, sitter, permission.PauseTimer); ok {
		t.Fatal("pause_timer should be revoked after reload")
	}
	if ok, _ := authz.Allowed(ctx, sitter, permission.Replenish); !ok {
		t.Fatal("sitter should hold replenish after reload")
	}
}
