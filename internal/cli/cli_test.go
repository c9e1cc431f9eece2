package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestVersionSkipsConfig(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version", "--config", "/does/not/exist.yaml"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("version should not load config: %v", err)
	}
	if !strings.HasPrefix(out.String(), "streakwatch dev") {
		t.Fatalf("unexpected version output %q", out.String())
	}
	if appHandle != nil {
		t.Fatal("version should not build the app")
	}
}

func TestSubcommandsRegistered(t *testing.T) {
	want := []string{"run", "status", "trade", "events", "show", "export", "version"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("subcommand %s not registered: %v", name, err)
		}
	}
}
