package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/urfave/cli/v2"

	"rankwatch/config"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

// resolve runs resolveTargets behind the real snapshot flag set.
func resolve(t *testing.T, defaultPath string, args ...string) (*config.Targets, error) {
	t.Helper()
	var (
		got    *config.Targets
		gotErr error
	)
	app := &cli.App{
		Commands: []*cli.Command{{
			Name:  "snapshot",
			Flags: snapshotCommand().Flags,
			Action: func(c *cli.Context) error {
				got, gotErr = resolveTargets(c, defaultPath)
				return nil
			},
		}},
	}
	if err := app.Run(append([]string{"rankwatch", "snapshot"}, args...)); err != nil {
		t.Fatalf("app.Run() error = %v", err)
	}
	return got, gotErr
}

func TestResolveTargetsFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "targets.yaml", "urls:\n  - https://a.com\nqueries:\n  - best plumber\nsite: a.com\n")

	got, err := resolve(t, "", "--targets", path, "--strategy", "desktop", "--notes", "hand run")
	if err != nil {
		t.Fatalf("resolveTargets() error = %v", err)
	}
	if len(got.URLs) != 1 || len(got.Queries) != 1 || got.Site != "a.com" {
		t.Errorf("targets = %+v", got)
	}
	if got.Strategy != "desktop" || got.Notes != "hand run" {
		t.Errorf("flag overrides not applied: %+v", got)
	}
}

func TestResolveTargetsFromLineFiles(t *testing.T) {
	dir := t.TempDir()
	urls := writeFile(t, dir, "urls.txt", "https://a.com\n\nhttps://b.com\n")
	queries := writeFile(t, dir, "queries.txt", "best plumber\n")

	got, err := resolve(t, filepath.Join(dir, "missing.yaml"), "--urls", urls, "--queries", queries, "--site", "a.com")
	if err != nil {
		t.Fatalf("resolveTargets() error = %v", err)
	}
	if len(got.URLs) != 2 || len(got.Queries) != 1 || got.Site != "a.com" {
		t.Errorf("targets = %+v", got)
	}
}

func TestResolveTargetsDefaultPath(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "targets.txt", "https://a.com\n")

	got, err := resolve(t, path)
	if err != nil {
		t.Fatalf("resolveTargets() error = %v", err)
	}
	if len(got.URLs) != 1 {
		t.Errorf("targets = %+v", got)
	}
}

func TestResolveTargetsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "targets.txt", "\n")
	if _, err := resolve(t, path); err == nil {
		t.Error("resolveTargets() on an empty file error = nil, want error")
	}
}

func TestAppCommands(t *testing.T) {
	want := map[string]bool{"serve": false, "snapshot": false, "rotate": false, "list": false, "show": false, "export": false, "gsc-normalize": false}
	for _, c := range newApp().Commands {
		if _, ok := want[c.Name]; ok {
			want[c.Name] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("command %q is not registered", name)
		}
	}
}

func TestGSCNormalizeCommand(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "raw.csv", "Search query,Clicks,Impressions\nplumber,4,90\n")
	out := filepath.Join(dir, "out", "gsc.csv")

	if err := newApp().Run([]string{"rankwatch", "gsc-normalize", "--in", in, "--out", out}); err != nil {
		t.Fatalf("gsc-normalize error = %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "query,clicks,impressions,ctr,position\nplumber,4,90,,\n" {
		t.Errorf("normalized = %q", data)
	}
}
