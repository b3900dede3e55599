package cli

import (
	"testing"
	"time"

	"quizroom/internal/app"
	"quizroom/internal/config"
)

func TestRootRegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"start", "migrate", "sweep", "grant-admin"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("subcommand %s not registered: %v", name, err)
		}
	}
}

func TestEngineConfigDefaults(t *testing.T) {
	var cfg config.Config
	got := engineConfig(cfg)
	if got.SpamWindow != app.DefaultSpamWindow {
		t.Fatalf("expected default spam window, got %s", got.SpamWindow)
	}
	if got.Sweeper.Interval != 24*time.Hour || got.Sweeper.MaxAge != 24*time.Hour {
		t.Fatalf("unexpected sweeper defaults: %+v", got.Sweeper)
	}

	cfg.Engine.SpamWindow = "10s"
	cfg.Retention.Cutoff = "1h"
	cfg.Retention.BatchSize = 50
	got = engineConfig(cfg)
	if got.SpamWindow != 10*time.Second || got.Sweeper.MaxAge != time.Hour || got.Sweeper.BatchSize != 50 {
		t.Fatalf("config not applied: %+v", got)
	}
}
