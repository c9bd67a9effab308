package skills

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSkillFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	skillDir := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(skillDir, 0o755))
	path := filepath.Join(skillDir, "SKILL.md")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const openTerminalSkill = `---
name: Open Terminal
description: Opens a new terminal window
category: system
version: "1.0"
command: "shell:open -a Terminal"
parameters: []
---

Opens the default terminal application.
`

const summarizeSkill = `---
name: Summarize Page
description: Summarizes the current page content
category: knowledge
command: "agent:summarize the page about ${topic}"
parameters:
  - name: topic
    description: the subject to focus on
    type: string
    required: true
---

When summarizing, prefer bullet points and keep it under five lines.
`

func TestParseFile_FrontMatterAndBody(t *testing.T) {
	sk, err := parseFile("SKILL.md", []byte(openTerminalSkill))
	require.NoError(t, err)
	assert.Equal(t, "Open Terminal", sk.Name)
	assert.Equal(t, "open_terminal", sk.ToolName())
	assert.True(t, sk.IsShell())
	assert.Equal(t, "open -a Terminal", sk.CommandBody())
	assert.Contains(t, sk.Body, "Opens the default terminal")
}

func TestParseFile_MissingDelimiter(t *testing.T) {
	_, err := parseFile("SKILL.md", []byte("name: no front matter\n"))
	assert.Error(t, err)
}

func TestParseFile_MissingRequiredFields(t *testing.T) {
	_, err := parseFile("SKILL.md", []byte("---\ndescription: x\n---\nbody\n"))
	assert.Error(t, err)
}

func TestToolName_SnakeCase(t *testing.T) {
	cases := map[string]string{
		"Open Terminal":  "open_terminal",
		"Summarize Page": "summarize_page",
		"already_snake":  "already_snake",
		"Mixed-Case Thing": "mixed_case_thing",
	}
	for in, want := range cases {
		sk := &Skill{Name: in}
		assert.Equal(t, want, sk.ToolName())
	}
}

type fakeShell struct {
	lastCmd string
	ok      bool
	out     string
}

func (f *fakeShell) ShellExec(ctx context.Context, cmd string, timeout time.Duration) (bool, string, int, string) {
	f.lastCmd = cmd
	return f.ok, f.out, 0, ""
}

type fakeStore struct {
	upserted []string
	touched  []string
}

func (f *fakeStore) UpsertSkill(ctx context.Context, s *Skill) error {
	f.upserted = append(f.upserted, s.Name)
	return nil
}

func (f *fakeStore) TouchSkillUsage(ctx context.Context, name string, at time.Time) error {
	f.touched = append(f.touched, name)
	return nil
}

func (f *fakeStore) SetSkillEmbedding(ctx context.Context, name string, embedding []float32) error {
	return nil
}

func (f *fakeStore) BestMatchSkills(ctx context.Context, queryEmbedding []float32, topK int) ([]SkillMatch, error) {
	return nil, nil
}

func TestRegistry_LoadAndSnapshot(t *testing.T) {
	dir := t.TempDir()
	writeSkillFile(t, dir, "open-terminal", openTerminalSkill)
	writeSkillFile(t, dir, "summarize", summarizeSkill)

	store := &fakeStore{}
	reg := New(dir, &fakeShell{ok: true}, store)
	require.NoError(t, reg.Load(context.Background()))

	snap := reg.Snapshot()
	require.Len(t, snap, 2)
	assert.ElementsMatch(t, store.upserted, []string{"Open Terminal", "Summarize Page"})
}

func TestRegistry_Execute_Shell(t *testing.T) {
	dir := t.TempDir()
	writeSkillFile(t, dir, "open-terminal", openTerminalSkill)

	shell := &fakeShell{ok: true, out: "launched"}
	store := &fakeStore{}
	reg := New(dir, shell, store)
	require.NoError(t, reg.Load(context.Background()))

	out, err := reg.Execute(context.Background(), "open_terminal", nil)
	require.NoError(t, err)
	assert.Equal(t, "launched", out)
	assert.Equal(t, "open -a Terminal", shell.lastCmd)
	assert.Equal(t, []string{"Open Terminal"}, store.touched)
}

func TestRegistry_Execute_AgentNoInjectorReturnsKnowledge(t *testing.T) {
	dir := t.TempDir()
	writeSkillFile(t, dir, "summarize", summarizeSkill)

	reg := New(dir, nil, nil)
	require.NoError(t, reg.Load(context.Background()))

	out, err := reg.Execute(context.Background(), "summarize_page", map[string]any{"topic": "pricing"})
	require.NoError(t, err)
	assert.Contains(t, out, "bullet points")
	assert.Contains(t, out, "topic: pricing")
}

func TestRegistry_Execute_AgentWithInjector(t *testing.T) {
	dir := t.TempDir()
	writeSkillFile(t, dir, "summarize", summarizeSkill)

	reg := New(dir, nil, nil)
	require.NoError(t, reg.Load(context.Background()))

	var gotGoal, gotKnowledge string
	reg.SetContextInjector(func(ctx context.Context, goal, knowledge string) (string, error) {
		gotGoal, gotKnowledge = goal, knowledge
		return "done", nil
	})

	out, err := reg.Execute(context.Background(), "summarize_page", map[string]any{"topic": "pricing"})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, "summarize the page about pricing", gotGoal)
	assert.Contains(t, gotKnowledge, "bullet points")
}

func TestRegistry_Execute_MissingRequiredParam(t *testing.T) {
	dir := t.TempDir()
	writeSkillFile(t, dir, "summarize", summarizeSkill)

	reg := New(dir, nil, nil)
	require.NoError(t, reg.Load(context.Background()))

	_, err := reg.Execute(context.Background(), "summarize_page", nil)
	require.Error(t, err)
	var skillErr *Error
	require.ErrorAs(t, err, &skillErr)
	assert.Equal(t, CategoryInvalidParams, skillErr.Category)
}

func TestRegistry_Execute_NotFound(t *testing.T) {
	reg := New(t.TempDir(), nil, nil)
	_, err := reg.Execute(context.Background(), "does_not_exist", nil)
	var skillErr *Error
	require.ErrorAs(t, err, &skillErr)
	assert.Equal(t, CategoryNotFound, skillErr.Category)
}

func TestRegistry_Load_PreservesUseCountAcrossReload(t *testing.T) {
	dir := t.TempDir()
	writeSkillFile(t, dir, "open-terminal", openTerminalSkill)

	reg := New(dir, &fakeShell{ok: true}, nil)
	require.NoError(t, reg.Load(context.Background()))
	_, err := reg.Execute(context.Background(), "open_terminal", nil)
	require.NoError(t, err)

	require.NoError(t, reg.Load(context.Background()))
	reg.mu.RLock()
	sk := reg.skills[skillKey("Open Terminal")]
	reg.mu.RUnlock()
	require.NotNil(t, sk)
	assert.Equal(t, 1, sk.UseCount)
}
