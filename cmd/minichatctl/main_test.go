package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matheus3301/minichat/internal/api"
	"github.com/matheus3301/minichat/internal/chat"
	"github.com/matheus3301/minichat/internal/config"
	"github.com/matheus3301/minichat/internal/conversation"
	"github.com/matheus3301/minichat/internal/session"
	"github.com/matheus3301/minichat/internal/status"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestArgumentValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"send without message", []string{"send"}},
		{"delete without id", []string{"delete"}},
		{"switch with two ids", []string{"switch", "a", "b"}},
		{"status with extra arg", []string{"status", "x"}},
		{"unknown export format", []string{"export", "--format", "pdf"}},
		{"invalid session name", []string{"--session", "Bad Name", "status"}},
	}
	t.Setenv(session.EnvHome, t.TempDir())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := execute(t, tt.args...); err == nil {
				t.Errorf("expected an error for %v", tt.args)
			}
		})
	}
}

func TestHelpListsCommands(t *testing.T) {
	out, err := execute(t, "--help")
	if err != nil {
		t.Fatalf("help: %v", err)
	}
	for _, name := range []string{"status", "send", "cancel", "list", "show", "new", "delete", "switch", "watch", "export", "config"} {
		if !strings.Contains(out, name) {
			t.Errorf("help output lacks %q", name)
		}
	}
}

func TestConfigInitAndShow(t *testing.T) {
	home := t.TempDir()
	t.Setenv(session.EnvHome, home)
	t.Setenv(config.EnvBackendURL, "")

	if _, err := execute(t, "config", "init"); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := os.Stat(filepath.Join(home, "config.toml")); err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if _, err := execute(t, "config", "init"); err == nil {
		t.Error("expected init to refuse to overwrite")
	}
	if _, err := execute(t, "config", "init", "--force"); err != nil {
		t.Errorf("forced init: %v", err)
	}

	out, err := execute(t, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "http://localhost:8080") {
		t.Errorf("expected default backend url in %q", out)
	}
}

func TestPrintOutcome(t *testing.T) {
	var buf bytes.Buffer
	reply := conversation.NewAssistantMessage("pong")
	if err := printOutcome(&buf, &chat.Outcome{Status: status.Success, AssistantMessage: &reply}); err != nil {
		t.Fatalf("printOutcome: %v", err)
	}
	if buf.String() != "pong\n" {
		t.Errorf("unexpected output %q", buf.String())
	}

	err := printOutcome(&buf, &chat.Outcome{Status: status.Timeout, Error: chat.MsgTimedOut})
	if err == nil || err.Error() != chat.MsgTimedOut {
		t.Errorf("expected timeout message, got %v", err)
	}
	if err := printOutcome(&buf, &chat.Outcome{Status: status.Cancelled}); err == nil {
		t.Error("expected an error for a cancelled outcome")
	}
}

func TestPrintConversations(t *testing.T) {
	var buf bytes.Buffer
	printConversations(&buf, &conversation.AppState{})
	if !strings.Contains(buf.String(), "No conversations") {
		t.Errorf("unexpected empty output %q", buf.String())
	}

	buf.Reset()
	printConversations(&buf, &conversation.AppState{
		Conversations: []conversation.Conversation{
			{ID: "c2", Title: "Conversation 2"},
			{ID: "c1", Title: "Conversation 1"},
		},
		ActiveConversationID: "c1",
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
	if !strings.HasPrefix(lines[1], "* c1") || strings.HasPrefix(lines[0], "*") {
		t.Errorf("active marker misplaced: %q", lines)
	}
}

func TestPrintConversationMarksUnsent(t *testing.T) {
	var buf bytes.Buffer
	failed := conversation.NewUserMessage("hi")
	failed.Status = conversation.StatusError
	printConversation(&buf, &conversation.Conversation{ID: "c1", Title: "Conversation 1", Messages: []conversation.Message{failed}})
	if !strings.Contains(buf.String(), "You (error)") {
		t.Errorf("expected error marker, got %q", buf.String())
	}
}

func TestPrintStatus(t *testing.T) {
	var buf bytes.Buffer
	printStatus(&buf, &api.Status{Session: "main", Status: "loading", RetryCount: 1, ProxyURL: "http://127.0.0.1:3000"})
	for _, want := range []string{"main", "loading", "Retries:       1", "127.0.0.1:3000"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("status output lacks %q", want)
		}
	}
}

func TestExportPath(t *testing.T) {
	dir := t.TempDir()
	if got := exportPath(dir, "c1", "md"); got != filepath.Join(dir, "c1.md") {
		t.Errorf("directory output: %s", got)
	}
	file := filepath.Join(dir, "out.json")
	if got := exportPath(file, "c1", "json"); got != file {
		t.Errorf("file output: %s", got)
	}
}
