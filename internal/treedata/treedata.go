// Package treedata holds the per-invocation mutable state a Tree threads
// through every decision turn: conversation history, the tasks-completed
// log, per-tool errors, the environment, cached collection metadata, and
// the atlas persona passed to the LM.
package treedata

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/elysia-go/elysiatree/internal/config"
	"github.com/elysia-go/elysiatree/internal/environment"
)

// HistoryEntry is one turn of conversation.
type HistoryEntry struct {
	Role    string // "user" | "assistant"
	Content string
}

// Atlas is the persona guidance triple presented to the LM at every decision.
type Atlas struct {
	Style            string
	AgentDescription string
	EndGoal          string
}

// TaskRecord is one entry in the tasks-completed log.
type TaskRecord struct {
	Task       string
	Iteration  int
	Reasoning  string
	Inputs     map[string]any
	ParsedInfo any
	Action     bool
	Error      string
}

// promptTasks groups TaskRecords under the prompt that produced them.
type promptTasks struct {
	prompt string
	tasks  []*TaskRecord
}

// TaskFields carries the optional kwargs UpdateTasksCompleted may merge
// into an existing record. A nil/unset field is left untouched; a set
// field is merged per-type (string: newline concat, map: key merge, bool:
// replace, and generically for ParsedInfo per mergeGeneric).
type TaskFields struct {
	Reasoning     *string
	Inputs        map[string]any
	ParsedInfo    any
	HasParsedInfo bool
	Action        *bool
	Error         *string
}

// CollectionMetadata is the cached shape of one collection's schema, as
// FetchMetadata reports it.
type CollectionMetadata struct {
	Fields          []string
	Summary         string
	Mappings        map[string]string
	NamedVectors    []string
	Vectorizer      string
	IndexProperties map[string]bool
}

// FetchOutcome classifies what FetchMetadata learned about a name.
type FetchOutcome int

const (
	FetchFound FetchOutcome = iota
	FetchUnpreprocessed
	FetchNonexistent
)

// MetadataFetcher is the external collaborator (§4.I) SetCollectionNames
// consults for names not already cached.
type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, name string) (CollectionMetadata, FetchOutcome, error)
}

// CollectionData caches collection metadata keyed by canonical (lowercased,
// trimmed) name, per the §9 Open Question resolution: collection names are
// normalised to one canonical casing at the SetCollectionNames boundary,
// rather than compared case-insensitively ad hoc.
type CollectionData struct {
	mu     sync.RWMutex
	cache  map[string]CollectionMetadata
	active []string
}

func newCollectionData() *CollectionData {
	return &CollectionData{cache: make(map[string]CollectionMetadata)}
}

// Get returns the cached metadata for a canonical collection name.
func (c *CollectionData) Get(canonicalName string) (CollectionMetadata, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.cache[canonicalName]
	return m, ok
}

// Active returns the currently active (found) collection names, in the
// order SetCollectionNames last established.
func (c *CollectionData) Active() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.active))
	copy(out, c.active)
	return out
}

func canonicalCollectionName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// SetCollectionNamesResult partitions the requested names per spec.md §4.C.
type SetCollectionNamesResult struct {
	Found          []string
	Unpreprocessed []string
	Nonexistent    []string
	Warnings       []string
}

// TreeData is the single source of truth for one Tree's prompt-level state.
type TreeData struct {
	mu sync.Mutex

	UserPrompt          string
	ConversationHistory []HistoryEntry
	Environment         *environment.Environment

	tasksCompleted []*promptTasks

	Errors map[string][]string

	Collections *CollectionData
	Atlas       Atlas

	NumTreesCompleted int
	RecursionLimit    int

	Settings config.Settings

	// PreviousReasoning and CurrentMessage are transient, cleared by
	// SoftReset between prompts; everything else on TreeData survives
	// across prompts for the lifetime of a Tree.
	PreviousReasoning string
	CurrentMessage    string
}

// New returns a TreeData seeded from settings, with its own Environment
// and an empty tasks-completed log.
func New(settings config.Settings) *TreeData {
	limit := settings.RecursionLimit
	if limit <= 0 {
		limit = config.DefaultRecursionLimit
	}
	return &TreeData{
		Environment:    environment.New(),
		Errors:         make(map[string][]string),
		Collections:    newCollectionData(),
		RecursionLimit: limit,
		Settings:       settings,
	}
}

// AppendHistory appends a conversation turn, concatenating into the
// previous entry (space-joined) when it shares the same role (P2).
func (td *TreeData) AppendHistory(role, content string) {
	td.mu.Lock()
	defer td.mu.Unlock()
	n := len(td.ConversationHistory)
	if n > 0 && td.ConversationHistory[n-1].Role == role {
		prev := &td.ConversationHistory[n-1]
		if prev.Content == "" {
			prev.Content = content
		} else if content != "" {
			prev.Content = prev.Content + " " + content
		}
		return
	}
	td.ConversationHistory = append(td.ConversationHistory, HistoryEntry{Role: role, Content: content})
}

// AppendError records an error string against a tool name, preserving
// emission order.
func (td *TreeData) AppendError(toolName, message string) {
	td.mu.Lock()
	defer td.mu.Unlock()
	td.Errors[toolName] = append(td.Errors[toolName], message)
}

// UpdateTasksCompleted appends a task record under prompt, or merges
// fields into the existing record sharing (prompt, task, iteration).
func (td *TreeData) UpdateTasksCompleted(prompt, task string, iteration int, fields TaskFields) {
	td.mu.Lock()
	defer td.mu.Unlock()

	var group *promptTasks
	for _, g := range td.tasksCompleted {
		if g.prompt == prompt {
			group = g
			break
		}
	}
	if group == nil {
		group = &promptTasks{prompt: prompt}
		td.tasksCompleted = append(td.tasksCompleted, group)
	}

	for _, rec := range group.tasks {
		if rec.Task == task && rec.Iteration == iteration {
			mergeTaskFields(rec, fields)
			return
		}
	}

	rec := &TaskRecord{Task: task, Iteration: iteration}
	mergeTaskFields(rec, fields)
	group.tasks = append(group.tasks, rec)
}

func mergeTaskFields(rec *TaskRecord, f TaskFields) {
	if f.Reasoning != nil {
		rec.Reasoning = mergeString(rec.Reasoning, *f.Reasoning)
	}
	if f.Inputs != nil {
		rec.Inputs = mergeStringAnyMap(rec.Inputs, f.Inputs)
	}
	if f.HasParsedInfo {
		rec.ParsedInfo = mergeGeneric(rec.ParsedInfo, f.ParsedInfo)
	}
	if f.Action != nil {
		rec.Action = *f.Action
	}
	if f.Error != nil {
		rec.Error = mergeString(rec.Error, *f.Error)
	}
}

func mergeString(old, new string) string {
	if old == "" {
		return new
	}
	if new == "" {
		return old
	}
	return old + "\n" + new
}

func mergeStringAnyMap(old, new map[string]any) map[string]any {
	out := make(map[string]any, len(old)+len(new))
	for k, v := range old {
		out[k] = v
	}
	for k, v := range new {
		out[k] = v
	}
	return out
}

// mergeGeneric implements the field-wise merge rule for an arbitrary
// ParsedInfo value: string concat with newline, numeric add, list extend,
// map merge, bool replace; anything else (or a type mismatch) replaces.
func mergeGeneric(old, new any) any {
	if old == nil {
		return new
	}
	switch n := new.(type) {
	case string:
		if o, ok := old.(string); ok {
			return mergeString(o, n)
		}
	case bool:
		return n
	case int:
		if o, ok := old.(int); ok {
			return o + n
		}
	case float64:
		if o, ok := old.(float64); ok {
			return o + n
		}
	case []any:
		if o, ok := old.([]any); ok {
			out := make([]any, 0, len(o)+len(n))
			out = append(out, o...)
			out = append(out, n...)
			return out
		}
	case map[string]any:
		if o, ok := old.(map[string]any); ok {
			return mergeStringAnyMap(o, n)
		}
	}
	return new
}

// TasksCompletedString renders the tasks-completed log deterministically,
// ordered by prompt (insertion order) then by task (insertion order).
func (td *TreeData) TasksCompletedString() string {
	td.mu.Lock()
	defer td.mu.Unlock()

	var b strings.Builder
	for _, group := range td.tasksCompleted {
		fmt.Fprintf(&b, "Prompt: %s\n", group.prompt)
		for _, rec := range group.tasks {
			fmt.Fprintf(&b, "  - %s (iteration %d)", rec.Task, rec.Iteration)
			if rec.Reasoning != "" {
				fmt.Fprintf(&b, ": %s", rec.Reasoning)
			}
			if rec.Error != "" {
				fmt.Fprintf(&b, " [error: %s]", rec.Error)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// TreeCountString renders the current iteration against the recursion
// limit, with warnings once the limit is nearly or fully exhausted.
func (td *TreeData) TreeCountString() string {
	td.mu.Lock()
	i, n := td.NumTreesCompleted, td.RecursionLimit
	td.mu.Unlock()

	s := fmt.Sprintf("%d/%d", i+1, n)
	switch {
	case i >= n:
		s += " (recursion limit exhausted; this attempt is forced to conclude)"
	case i >= n-1:
		s += " (warning: approaching the recursion limit)"
	}
	return s
}

// SoftReset clears only the transient per-turn fields, leaving
// ConversationHistory and Environment intact across prompts.
func (td *TreeData) SoftReset() {
	td.mu.Lock()
	defer td.mu.Unlock()
	td.PreviousReasoning = ""
	td.CurrentMessage = ""
}

// SetCollectionNames resolves metadata for names not already cached,
// normalising every name to its canonical casing first, and partitions
// the result into found/unpreprocessed/nonexistent. Only found names
// remain in CollectionData.Active after the call.
func (td *TreeData) SetCollectionNames(ctx context.Context, names []string, fetcher MetadataFetcher) SetCollectionNamesResult {
	var result SetCollectionNamesResult
	var active []string

	cd := td.Collections
	for _, raw := range names {
		name := canonicalCollectionName(raw)
		if name == "" {
			continue
		}
		if _, ok := cd.Get(name); ok {
			result.Found = append(result.Found, name)
			active = append(active, name)
			continue
		}

		meta, outcome, err := fetcher.FetchMetadata(ctx, name)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("fetching metadata for %q: %v", name, err))
			result.Nonexistent = append(result.Nonexistent, name)
			continue
		}
		switch outcome {
		case FetchFound:
			cd.mu.Lock()
			cd.cache[name] = meta
			cd.mu.Unlock()
			result.Found = append(result.Found, name)
			active = append(active, name)
		case FetchUnpreprocessed:
			result.Unpreprocessed = append(result.Unpreprocessed, name)
			result.Warnings = append(result.Warnings, fmt.Sprintf("collection %q exists but has not been preprocessed", name))
		default:
			result.Nonexistent = append(result.Nonexistent, name)
			result.Warnings = append(result.Warnings, fmt.Sprintf("collection %q does not exist", name))
		}
	}

	sort.Strings(active)
	cd.mu.Lock()
	cd.active = active
	cd.mu.Unlock()

	return result
}

// taskRecordSnapshot and promptTasksSnapshot give TaskRecord/promptTasks a
// JSON-facing shape without exporting the package-private grouping type.
type taskRecordSnapshot struct {
	Task       string         `json:"task"`
	Iteration  int            `json:"iteration"`
	Reasoning  string         `json:"reasoning,omitempty"`
	Inputs     map[string]any `json:"inputs,omitempty"`
	ParsedInfo any            `json:"parsedInfo,omitempty"`
	Action     bool           `json:"action,omitempty"`
	Error      string         `json:"error,omitempty"`
}

type promptTasksSnapshot struct {
	Prompt string               `json:"prompt"`
	Tasks  []taskRecordSnapshot `json:"tasks"`
}

// Snapshot is the opaque, fully round-trippable TreeData shape a Tree
// embeds verbatim in its persisted export (§4.F: "treeData" field).
type Snapshot struct {
	UserPrompt          string                `json:"userPrompt"`
	ConversationHistory []HistoryEntry        `json:"conversationHistory"`
	Environment         json.RawMessage       `json:"environment"`
	TasksCompleted      []promptTasksSnapshot `json:"tasksCompleted"`
	Errors              map[string][]string   `json:"errors"`
	Atlas               Atlas                 `json:"atlas"`
	NumTreesCompleted   int                   `json:"numTreesCompleted"`
	RecursionLimit      int                   `json:"recursionLimit"`
	ActiveCollections   []string              `json:"activeCollections"`
}

// Export captures td's full state as a Snapshot.
func (td *TreeData) Export() (Snapshot, error) {
	td.mu.Lock()
	defer td.mu.Unlock()

	envJSON, err := json.Marshal(td.Environment)
	if err != nil {
		return Snapshot{}, fmt.Errorf("treedata: marshal environment: %w", err)
	}

	tasks := make([]promptTasksSnapshot, len(td.tasksCompleted))
	for i, g := range td.tasksCompleted {
		recs := make([]taskRecordSnapshot, len(g.tasks))
		for j, r := range g.tasks {
			recs[j] = taskRecordSnapshot{
				Task: r.Task, Iteration: r.Iteration, Reasoning: r.Reasoning,
				Inputs: r.Inputs, ParsedInfo: r.ParsedInfo, Action: r.Action, Error: r.Error,
			}
		}
		tasks[i] = promptTasksSnapshot{Prompt: g.prompt, Tasks: recs}
	}

	return Snapshot{
		UserPrompt:          td.UserPrompt,
		ConversationHistory: append([]HistoryEntry{}, td.ConversationHistory...),
		Environment:         envJSON,
		TasksCompleted:      tasks,
		Errors:              td.Errors,
		Atlas:               td.Atlas,
		NumTreesCompleted:   td.NumTreesCompleted,
		RecursionLimit:      td.RecursionLimit,
		ActiveCollections:   td.Collections.Active(),
	}, nil
}

// Restore rebuilds a TreeData from a Snapshot previously produced by
// Export, re-seeding settings fresh (settings are persisted alongside the
// snapshot by the caller, not inside it — see tree.TreeExport).
func Restore(settings config.Settings, snap Snapshot) (*TreeData, error) {
	td := New(settings)
	td.UserPrompt = snap.UserPrompt
	td.ConversationHistory = append([]HistoryEntry{}, snap.ConversationHistory...)
	td.NumTreesCompleted = snap.NumTreesCompleted
	if snap.RecursionLimit > 0 {
		td.RecursionLimit = snap.RecursionLimit
	}
	td.Atlas = snap.Atlas
	if snap.Errors != nil {
		td.Errors = snap.Errors
	}

	if len(snap.Environment) > 0 {
		env := environment.New()
		if err := json.Unmarshal(snap.Environment, env); err != nil {
			return nil, fmt.Errorf("treedata: restore environment: %w", err)
		}
		td.Environment = env
	}

	for _, g := range snap.TasksCompleted {
		group := &promptTasks{prompt: g.Prompt}
		for _, r := range g.Tasks {
			group.tasks = append(group.tasks, &TaskRecord{
				Task: r.Task, Iteration: r.Iteration, Reasoning: r.Reasoning,
				Inputs: r.Inputs, ParsedInfo: r.ParsedInfo, Action: r.Action, Error: r.Error,
			})
		}
		td.tasksCompleted = append(td.tasksCompleted, group)
	}

	if len(snap.ActiveCollections) > 0 {
		td.Collections.mu.Lock()
		td.Collections.active = append([]string{}, snap.ActiveCollections...)
		td.Collections.mu.Unlock()
	}

	return td, nil
}
