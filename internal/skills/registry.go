// Package skills implements SkillRegistry (spec §4.6): SKILL.md parsing,
// hot reload, tool-spec derivation, and shell:/agent: command execution.
package skills

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/leochame/lavis/internal/logging"
	"go.uber.org/zap"
)

// ShellExecutor is the subset of SystemActuator a shell: skill needs.
type ShellExecutor interface {
	ShellExec(ctx context.Context, cmd string, timeout time.Duration) (bool, string, int, string)
}

// ContextInjector performs the actual orchestrated/fast invocation for an
// agent: skill, augmenting the system prompt with the skill's knowledge body
// and resolved parameters. Supplied by UnifiedChatService; if nil, Execute
// falls back to returning the composed knowledge payload without running it
// (spec §4.6).
type ContextInjector func(ctx context.Context, goal, knowledge string) (string, error)

// SkillMatch is one best-match result from skill-embedding similarity search
// (spec §4.6 tool-spec derivation).
type SkillMatch struct {
	Name       string
	Similarity float64
}

// Store is the persistence surface SkillRegistry needs from PersistentStore.
type Store interface {
	UpsertSkill(ctx context.Context, s *Skill) error
	TouchSkillUsage(ctx context.Context, name string, at time.Time) error
	SetSkillEmbedding(ctx context.Context, name string, embedding []float32) error
	BestMatchSkills(ctx context.Context, queryEmbedding []float32, topK int) ([]SkillMatch, error)
}

// Embedder produces a text embedding for best-match skill lookup, backed by
// ModelGateway's configured embedding alias.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Observer receives an immutable tool-spec snapshot after every reload.
type Observer func(specs []ToolSpec)

const debounceWindow = 300 * time.Millisecond

// Registry is spec component C6.
type Registry struct {
	root string

	mu     sync.RWMutex
	skills map[string]*Skill // keyed by skillKey(Skill.Name), the lowercased name
	snap   []ToolSpec        // copy-on-write tool-spec snapshot

	observers []Observer
	injector  ContextInjector
	shell     ShellExecutor
	store     Store
	embedder  Embedder

	watcher    *fsnotify.Watcher
	debounce   map[string]time.Time
	debounceMu sync.Mutex
	stopCh     chan struct{}
	doneCh     chan struct{}

	log *zap.Logger
}

// New builds a Registry rooted at dir. Call Load to perform the initial
// parse and Watch to start hot reload.
func New(dir string, shell ShellExecutor, store Store) *Registry {
	return &Registry{
		root:     dir,
		skills:   make(map[string]*Skill),
		shell:    shell,
		store:    store,
		debounce: make(map[string]time.Time),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		log:      logging.Named("skills"),
	}
}

// SetContextInjector installs the callback used for agent: skills.
func (r *Registry) SetContextInjector(fn ContextInjector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.injector = fn
}

// SetEmbedder installs the embedding provider used to keep best-match skill
// lookup (spec §4.6) populated on every Load. Optional: if nil, Load skips
// embedding computation and Relevant always returns nil, falling back to the
// full tool-spec snapshot.
func (r *Registry) SetEmbedder(e Embedder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embedder = e
}

// Subscribe registers an observer that receives every future snapshot. It is
// not called with the current snapshot; callers should call Snapshot first.
func (r *Registry) Subscribe(obs Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, obs)
}

// Snapshot returns the current immutable tool-spec list.
func (r *Registry) Snapshot() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolSpec, len(r.snap))
	copy(out, r.snap)
	return out
}

// Load performs a full cold re-parse of the watched tree, replacing the
// skill set and republishing the tool-spec snapshot (spec §8: hot reload
// must be snapshot-equivalent to a cold reparse).
func (r *Registry) Load(ctx context.Context) error {
	if err := os.MkdirAll(r.root, 0o755); err != nil {
		return fmt.Errorf("skills: create root %s: %w", r.root, err)
	}

	var entries []string
	err := filepath.WalkDir(r.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && d.Name() == "SKILL.md" {
			entries = append(entries, path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	parsed := make(map[string]*Skill, len(entries))
	for _, path := range entries {
		raw, err := os.ReadFile(path)
		if err != nil {
			r.log.Warn("skills: failed to read", zap.String("path", path), zap.Error(err))
			continue
		}
		sk, err := parseFile(path, raw)
		if err != nil {
			r.log.Warn("skills: failed to parse", zap.String("path", path), zap.Error(err))
			continue
		}
		key := skillKey(sk.Name)
		if existing, dup := parsed[key]; dup {
			r.log.Warn("skills: dropping case-insensitive duplicate name",
				zap.String("kept", existing.Name), zap.String("dropped", sk.Name), zap.String("path", path))
			continue
		}
		parsed[key] = sk
	}

	r.mu.Lock()
	// preserve useCount/lastUsedAt across reload for unchanged skills
	for key, prev := range r.skills {
		if next, ok := parsed[key]; ok {
			next.UseCount = prev.UseCount
			next.LastUsedAt = prev.LastUsedAt
		}
	}
	r.skills = parsed
	r.rebuildSnapshotLocked()
	snap := r.snap
	observers := append([]Observer(nil), r.observers...)
	r.mu.Unlock()

	if r.store != nil {
		for _, sk := range parsed {
			if err := r.store.UpsertSkill(ctx, sk); err != nil {
				r.log.Warn("skills: store upsert failed", zap.String("name", sk.Name), zap.Error(err))
			}
		}
	}

	r.refreshEmbeddings(ctx, parsed)

	for _, obs := range observers {
		obs(snap)
	}
	return nil
}

// refreshEmbeddings recomputes and persists each skill's embedding
// (spec §4.6 best-match lookup). Best-effort: an embedder/store absence or a
// per-skill failure only logs a warning, since exact-name dispatch never
// depends on this.
func (r *Registry) refreshEmbeddings(ctx context.Context, parsed map[string]*Skill) {
	if r.embedder == nil || r.store == nil {
		return
	}
	for _, sk := range parsed {
		emb, err := r.embedder.Embed(ctx, sk.Name+": "+sk.Description)
		if err != nil {
			r.log.Warn("skills: embed failed", zap.String("name", sk.Name), zap.Error(err))
			continue
		}
		if err := r.store.SetSkillEmbedding(ctx, sk.Name, emb); err != nil {
			r.log.Warn("skills: store embedding failed", zap.String("name", sk.Name), zap.Error(err))
		}
	}
}

// Relevant returns the tool specs for the topK skills whose embedding best
// matches query (spec §4.6: tool-spec derivation used to narrow the dynamic
// tool set the executor hands the model). Returns nil if no embedder/store
// is configured, best-match lookup finds nothing, or the query fails to
// embed — callers should fall back to Snapshot in that case.
func (r *Registry) Relevant(ctx context.Context, query string, topK int) []ToolSpec {
	r.mu.RLock()
	embedder := r.embedder
	st := r.store
	r.mu.RUnlock()
	if embedder == nil || st == nil {
		return nil
	}

	emb, err := embedder.Embed(ctx, query)
	if err != nil {
		r.log.Warn("skills: relevance embed failed", zap.Error(err))
		return nil
	}
	matches, err := st.BestMatchSkills(ctx, emb, topK)
	if err != nil || len(matches) == 0 {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolSpec, 0, len(matches))
	for _, m := range matches {
		if sk, ok := r.skills[skillKey(m.Name)]; ok {
			out = append(out, sk.toSpec())
		}
	}
	return out
}

func (r *Registry) rebuildSnapshotLocked() {
	specs := make([]ToolSpec, 0, len(r.skills))
	for _, sk := range r.skills {
		specs = append(specs, sk.toSpec())
	}
	r.snap = specs
}

// Watch starts the fsnotify-based hot reload loop, registering the root and
// every existing subdirectory (spec §4.6: "per-subdirectory registration for
// new folders"). Non-blocking; stop with Close.
func (r *Registry) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	r.watcher = w

	if err := w.Add(r.root); err != nil {
		r.log.Warn("skills: initial watch failed", zap.Error(err))
	}
	_ = filepath.WalkDir(r.root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d == nil || !d.IsDir() || path == r.root {
			return nil
		}
		if addErr := w.Add(path); addErr == nil {
			r.log.Debug("skills: watching subdirectory", zap.String("path", path))
		}
		return nil
	})

	go r.run(ctx)
	return nil
}

func (r *Registry) run(ctx context.Context) {
	defer close(r.doneCh)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			r.handleEvent(ev)
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.log.Warn("skills: watcher error", zap.Error(err))
		case <-ticker.C:
			r.flushDebounced(ctx)
		}
	}
}

func (r *Registry) handleEvent(ev fsnotify.Event) {
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = r.watcher.Add(ev.Name)
		}
	}
	if !strings.HasSuffix(ev.Name, "SKILL.md") {
		return
	}
	r.debounceMu.Lock()
	r.debounce[ev.Name] = time.Now()
	r.debounceMu.Unlock()
}

func (r *Registry) flushDebounced(ctx context.Context) {
	r.debounceMu.Lock()
	now := time.Now()
	var due bool
	for _, t := range r.debounce {
		if now.Sub(t) >= debounceWindow {
			due = true
			break
		}
	}
	if due {
		r.debounce = make(map[string]time.Time)
	}
	r.debounceMu.Unlock()

	if due {
		if err := r.Load(ctx); err != nil {
			r.log.Warn("skills: reload failed", zap.Error(err))
		}
	}
}

// Close stops the watcher goroutine and releases its resources.
func (r *Registry) Close() {
	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
	if r.watcher != nil {
		<-r.doneCh
		_ = r.watcher.Close()
	}
}

// Execute runs a named skill with the given resolved parameters (spec
// §4.6). shell: skills substitute ${name} placeholders and run via
// ShellExecutor; agent: skills invoke the installed ContextInjector, or
// return the composed knowledge payload if none is installed.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (string, error) {
	r.mu.RLock()
	var sk *Skill
	for _, candidate := range r.skills {
		if candidate.ToolName() == name || candidate.Name == name {
			sk = candidate
			break
		}
	}
	injector := r.injector
	r.mu.RUnlock()

	if sk == nil {
		return "", newError(name, CategoryNotFound, nil)
	}

	if err := validateParams(sk, params); err != nil {
		return "", newError(sk.Name, CategoryInvalidParams, err)
	}

	defer r.touchUsage(ctx, sk.Name)

	switch {
	case sk.IsShell():
		if r.shell == nil {
			return "", newError(sk.Name, CategoryExecFailed, fmt.Errorf("no shell executor configured"))
		}
		cmd := substituteParams(sk.CommandBody(), params)
		ok, out, _, errStr := r.shell.ShellExec(ctx, cmd, 30*time.Second)
		if !ok {
			return out, newError(sk.Name, CategoryExecFailed, fmt.Errorf("%s", errStr))
		}
		return out, nil

	case sk.IsAgent():
		goal := substituteParams(sk.CommandBody(), params)
		knowledge := composeKnowledge(sk, params)
		if injector == nil {
			return knowledge, nil
		}
		result, err := injector(ctx, goal, knowledge)
		if err != nil {
			return "", newError(sk.Name, CategoryExecFailed, err)
		}
		return result, nil

	default:
		return "", newError(sk.Name, CategoryInvalidParams, fmt.Errorf("unrecognized command prefix %q", sk.Command))
	}
}

// skillKey normalizes a skill name the same way internal/store's name_lower
// column does, so the in-memory registry enforces the same case-insensitive
// uniqueness as the persisted table.
func skillKey(name string) string {
	return strings.ToLower(name)
}

func (r *Registry) touchUsage(ctx context.Context, name string) {
	now := time.Now()
	r.mu.Lock()
	if sk, ok := r.skills[skillKey(name)]; ok {
		sk.UseCount++
		sk.LastUsedAt = now
	}
	r.mu.Unlock()
	if r.store != nil {
		if err := r.store.TouchSkillUsage(ctx, name, now); err != nil {
			r.log.Warn("skills: touch usage failed", zap.String("name", name), zap.Error(err))
		}
	}
}

func validateParams(sk *Skill, params map[string]any) error {
	for _, p := range sk.Parameters {
		v, present := params[p.Name]
		if !present {
			if p.Required && p.Default == nil {
				return fmt.Errorf("missing required parameter %q", p.Name)
			}
			continue
		}
		if len(p.Enum) > 0 {
			s := fmt.Sprintf("%v", v)
			ok := false
			for _, e := range p.Enum {
				if e == s {
					ok = true
					break
				}
			}
			if !ok {
				return fmt.Errorf("parameter %q value %q not in enum %v", p.Name, s, p.Enum)
			}
		}
	}
	return nil
}

func substituteParams(template string, params map[string]any) string {
	out := template
	for k, v := range params {
		out = strings.ReplaceAll(out, "${"+k+"}", fmt.Sprintf("%v", v))
	}
	return out
}

func composeKnowledge(sk *Skill, params map[string]any) string {
	var b strings.Builder
	b.WriteString(sk.Body)
	if len(params) > 0 {
		b.WriteString("\n\nParameters:\n")
		for k, v := range params {
			fmt.Fprintf(&b, "- %s: %v\n", k, v)
		}
	}
	return b.String()
}
