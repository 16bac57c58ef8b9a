package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"voicedraft/internal/config"
	"voicedraft/internal/domain"
)

func TestBuildSuccess(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("VOICEDRAFT_CONFIG", filepath.Join(home, "missing.yaml"))
	t.Setenv("OPENROUTER_API_KEY", "test-key")
	t.Setenv("DEEPGRAM_API_KEY", "test-key")
	t.Setenv("VOICEDRAFT_DB_PATH", filepath.Join(home, "voicedraft.sqlite"))

	services, err := Build(nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	t.Cleanup(func() { _ = services.Close() })

	if services.Store == nil || services.Capture == nil || services.Gen == nil {
		t.Fatalf("incomplete graph: %+v", services)
	}
	if services.Conversation() == nil {
		t.Fatalf("expected conversation orchestrator")
	}
	if services.Lecture() == nil {
		t.Fatalf("expected lecture orchestrator")
	}
}

func TestBuildFailsWithoutGenerationKey(t *testing.T) {
	cfg, err := config.LoadFrom("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Generation.APIKey = ""
	cfg.Storage.Path = filepath.Join(t.TempDir(), "voicedraft.sqlite")

	if _, err := BuildWith(cfg, nil); err == nil {
		t.Fatalf("expected build error without generation api key")
	}
}

func TestBuiltGraphServesStoreOperations(t *testing.T) {
	cfg, err := config.LoadFrom("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Generation.APIKey = "test-key"
	cfg.Storage.Path = filepath.Join(t.TempDir(), "voicedraft.sqlite")

	services, err := BuildWith(cfg, nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	t.Cleanup(func() { _ = services.Close() })

	ctx := context.Background()
	project, err := services.Store.CreateProject(ctx, "wired", "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if project.ID == 0 {
		t.Fatalf("expected assigned project id")
	}
	if state, _ := services.Capture.State(); state != domain.CaptureStateUninitialized {
		t.Fatalf("unexpected capture state: %s", state)
	}
}
