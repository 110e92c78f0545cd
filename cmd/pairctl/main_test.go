package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func writeBots(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bots.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write bots file: %v", err)
	}
	return path
}

const botsFixture = `[
  {"id": "a", "name": "alpha", "bot_type": "chat", "status": "online"},
  {"id": "b", "name": "bravo", "bot_type": "search"},
  {"id": "c", "name": "charlie", "bot_type": "chat", "status": "offline"},
  {"id": "d", "name": "delta", "bot_type": "search", "status": "paired"},
  {"id": "e", "name": "echo", "bot_type": "chat", "status": "online"},
  {"id": "f", "name": "foxtrot", "bot_type": "search", "status": "online", "capabilities": "nlp,search"}
]`

func TestReadBotsKeepsOnlineAndUnset(t *testing.T) {
	bots, err := readBots(strings.NewReader(botsFixture), "-")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var ids []string
	for _, b := range bots {
		ids = append(ids, b.ID)
	}
	if got := strings.Join(ids, ","); got != "a,b,e,f" {
		t.Errorf("expected a,b,e,f, got %s", got)
	}
	if key := bots[3].Capabilities.Key(); key != "nlp,search" {
		t.Errorf("expected capabilities nlp,search, got %s", key)
	}
}

func TestReadBotsErrors(t *testing.T) {
	if _, err := readBots(nil, filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for a missing file")
	}
	if _, err := readBots(strings.NewReader(`{"not": "a list"}`), "-"); err == nil {
		t.Error("expected error for a non-list document")
	}
}

func TestMatchCommand(t *testing.T) {
	path := writeBots(t, botsFixture)

	out, err := execute(t, "match", "--file", path, "--strategy", "type_based", "--seed", "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "2 pair(s)") {
		t.Errorf("expected 2 pairs, got:\n%s", out)
	}
	for _, excluded := range []string{"charlie", "delta"} {
		if strings.Contains(out, excluded) {
			t.Errorf("expected %s to be excluded, got:\n%s", excluded, out)
		}
	}
}

func TestMatchCommandRejectsUnknownStrategy(t *testing.T) {
	path := writeBots(t, botsFixture)

	_, err := execute(t, "match", "--file", path, "--strategy", "astrology", "--seed", "0")
	if err == nil {
		t.Fatal("expected error for unknown strategy")
	}
	if !strings.Contains(err.Error(), `unknown strategy "astrology"`) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestStrategiesCommand(t *testing.T) {
	out, err := execute(t, "strategies")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.Fields(out); strings.Join(got, " ") != "capability_based default type_based" {
		t.Errorf("unexpected strategies: %q", out)
	}
}

func TestPurgeRequiresRetentionWindow(t *testing.T) {
	t.Setenv("PAIRING_CONFIG", "")
	t.Setenv("PAIRING_STORE", "memory")
	t.Setenv("PAIRING_DATA_DIR", "")
	t.Setenv("PAIRING_PAIR_RETENTION", "0")

	_, err := execute(t, "purge", "--older-than", "0s")
	if err == nil {
		t.Fatal("expected error without a retention window")
	}
	if !strings.Contains(err.Error(), "no retention window") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestPurgeRunsOneCycle(t *testing.T) {
	t.Setenv("PAIRING_CONFIG", "")
	t.Setenv("PAIRING_STORE", "memory")
	t.Setenv("PAIRING_DATA_DIR", t.TempDir())
	t.Setenv("PAIRING_ARCHIVE_DIR", "")

	out, err := execute(t, "purge", "--older-than", "1h")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "archived 0, purged 0") {
		t.Errorf("unexpected output: %q", out)
	}
}
