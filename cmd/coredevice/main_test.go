package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/wippyai/coredevice/host"
	"github.com/wippyai/coredevice/payload"
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

func TestCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"run", "demo", "console"} {
		t.Run(name, func(t *testing.T) {
			cmd, _, err := root.Find([]string{name})
			if err != nil {
				t.Fatal(err)
			}
			if cmd.Name() != name {
				t.Errorf("found %q", cmd.Name())
			}
		})
	}
}

func TestDemoList(t *testing.T) {
	out, err := execute(t, "demo")
	if err != nil {
		t.Fatal(err)
	}
	got := strings.Fields(out)
	want := payload.DemoNames()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDemoWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hello.wasm")
	if _, err := execute(t, "demo", "hello", "-o", path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := payload.Demo("hello")
	if !bytes.Equal(data, want) {
		t.Error("written image differs from demo")
	}

	if _, err := execute(t, "demo", "nope"); err == nil {
		t.Error("unknown demo accepted")
	}
}

func TestRunDemo(t *testing.T) {
	report := filepath.Join(t.TempDir(), "hello.report")
	out, err := execute(t, "run", "--demo", "hello", "--report", report, "--repeat", "2")
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(out, "hello ["); n != 2 {
		t.Errorf("%d outcome lines:\n%s", n, out)
	}
	if !strings.Contains(out, "log:") {
		t.Errorf("no kernel log:\n%s", out)
	}

	f, err := os.Open(report)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	got, err := host.DecodeReport(f)
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != host.Finished {
		t.Errorf("report kind %s", got.Kind)
	}
}

func TestRunFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "echo.wasm")
	image, _ := payload.Demo("rpc")
	if err := os.WriteFile(path, image, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "run", path); err != nil {
		t.Fatal(err)
	}
}

func TestRunRaises(t *testing.T) {
	out, err := execute(t, "run", "--demo", "raise")
	if err == nil {
		t.Fatal("raising program reported success")
	}
	if !strings.Contains(out, "#0 0x") {
		t.Errorf("no backtrace:\n%s", out)
	}
}

func TestReadImage(t *testing.T) {
	tests := []struct {
		name string
		demo string
		args []string
	}{
		{name: "nothing"},
		{name: "both", demo: "hello", args: []string{"x.wasm"}},
		{name: "unknown demo", demo: "nope"},
		{name: "missing file", args: []string{filepath.Join(t.TempDir(), "missing.wasm")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := readImage(tt.args, tt.demo); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLogLevelFlag(t *testing.T) {
	if _, err := execute(t, "--log-level", "loud", "demo"); err == nil {
		t.Error("bad log level accepted")
	}
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestConsoleModel(t *testing.T) {
	var ran [][]byte
	progs := []program{
		{name: "one", source: "demo", load: func() ([]byte, error) { return []byte{1}, nil }},
		{name: "two", source: "demo", load: func() ([]byte, error) { return []byte{2}, nil }},
	}
	m := newConsoleModel(progs, func(image []byte) (*host.Outcome, error) {
		ran = append(ran, image)
		return &host.Outcome{Kind: host.Finished, Log: []string{"hi"}}, nil
	})

	m.Update(key("down"))
	_, cmd := m.Update(key("enter"))
	if m.state != stateRunning || cmd == nil {
		t.Fatalf("state %d after enter", m.state)
	}
	m.Update(cmd())
	if m.state != stateResult || m.runs != 1 {
		t.Fatalf("state %d runs %d", m.state, m.runs)
	}
	if len(ran) != 1 || ran[0][0] != 2 {
		t.Errorf("ran %v", ran)
	}
	view := m.View()
	if !strings.Contains(view, "finished") || !strings.Contains(view, "hi") {
		t.Errorf("view:\n%s", view)
	}

	m.Update(key("esc"))
	if m.state != stateSelect || m.outcome != nil {
		t.Errorf("state %d after esc", m.state)
	}
}

func TestConsoleOpenFile(t *testing.T) {
	m := newConsoleModel(nil, nil)
	m.Update(key("o"))
	if m.state != stateOpen {
		t.Fatalf("state %d", m.state)
	}
	for _, r := range "a.wasm" {
		m.Update(key(string(r)))
	}
	m.Update(key("enter"))
	if m.state != stateSelect || len(m.programs) != 1 || m.programs[0].name != "a.wasm" {
		t.Errorf("programs %+v", m.programs)
	}
}

func TestFilePrograms(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.wasm", "a.wasm", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	progs, err := filePrograms(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(progs) != 2 || progs[0].name != "a.wasm" || progs[1].name != "b.wasm" {
		t.Errorf("programs %+v", progs)
	}
}
