// Package environment implements the cross-turn memory of tool outputs:
// an append-only accumulator keyed by (tool, result name) whose entries
// carry stable reference IDs tools and the LM can cite.
package environment

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
)

// Object is a single displayable record a tool produced.
type Object = map[string]any

const refIDKey = "_REF_ID"
const duplicateOfKey = "_DUPLICATE_OF"

// ResultBlock is one call's worth of output under a (tool, name) slot.
type ResultBlock struct {
	Metadata map[string]any `json:"metadata"`
	Objects  []Object       `json:"objects"`
}

type slotKey struct {
	tool string
	name string
}

// Environment is the per-tree accumulator described in spec §3/§4.B. Reads
// and writes are safe for concurrent use: the returner may be streaming a
// tool's prior output to the frontend while the main loop integrates the
// next event into the same structure.
type Environment struct {
	mu     sync.RWMutex
	blocks map[slotKey][]*ResultBlock
	order  []slotKey // first-seen order, for deterministic JSON export

	// hidden is opaque inter-tool handoff state never shown to the LM.
	hidden map[string]any

	// dedup indexes content hashes to the first object's ref ID, scoped per
	// (tool, name) slot, satisfying (P6) without full deep-equality scans.
	dedup map[slotKey]map[string]string
}

// selfInfoTool and selfInfoName name the reserved pre-populated slot.
const selfInfoTool = "SelfInfo"
const selfInfoName = "generic"

// New returns an Environment with the reserved SelfInfo/generic slot
// pre-populated with a static self-description, per spec §3.
func New() *Environment {
	e := &Environment{
		blocks: make(map[slotKey][]*ResultBlock),
		hidden: make(map[string]any),
		dedup:  make(map[slotKey]map[string]string),
	}
	e.add(selfInfoTool, selfInfoName, ResultBlock{
		Objects: []Object{{
			"description": "An agentic decision-tree orchestrator for retrieval-augmented generation.",
		}},
	})
	return e
}

// Add appends block's objects under (tool, name), assigning each a stable
// _REF_ID and replacing any object identical to one already stored for
// this slot with a duplicate-reference placeholder. A block with zero
// objects is a no-op (I3).
func (e *Environment) Add(tool, name string, block ResultBlock) {
	if len(block.Objects) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.add(tool, name, block)
}

func (e *Environment) add(tool, name string, block ResultBlock) {
	key := slotKey{tool: tool, name: name}
	if _, ok := e.blocks[key]; !ok {
		e.order = append(e.order, key)
	}
	blockIndex := len(e.blocks[key])
	index := e.dedup[key]
	if index == nil {
		index = make(map[string]string)
		e.dedup[key] = index
	}

	out := make([]Object, len(block.Objects))
	for i, obj := range block.Objects {
		refID := fmt.Sprintf("%s_%s_%d_%d", tool, name, blockIndex, i)
		hash := contentHash(obj)
		if priorRef, dup := index[hash]; dup {
			out[i] = Object{refIDKey: refID, duplicateOfKey: priorRef}
		} else {
			cp := cloneObject(obj)
			cp[refIDKey] = refID
			out[i] = cp
			index[hash] = refID
		}
	}

	e.blocks[key] = append(e.blocks[key], &ResultBlock{Metadata: cloneMeta(block.Metadata), Objects: out})
}

// Find returns the block at index (if index is non-nil) or the full
// ordered sequence of blocks for (tool, name).
func (e *Environment) Find(tool, name string, index *int) ([]*ResultBlock, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	blocks, ok := e.blocks[slotKey{tool: tool, name: name}]
	if !ok {
		return nil, false
	}
	if index == nil {
		return blocks, true
	}
	if *index < 0 || *index >= len(blocks) {
		return nil, false
	}
	return blocks[*index : *index+1], true
}

// Replace overwrites the object list at the given block index (or the
// final block, if index is nil), re-assigning _REF_IDs from that block's
// position and resetting dedup tracking for it.
func (e *Environment) Replace(tool, name string, objects []Object, index *int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := slotKey{tool: tool, name: name}
	blocks, ok := e.blocks[key]
	if !ok || len(blocks) == 0 {
		return fmt.Errorf("environment: no block at %s/%s", tool, name)
	}
	i := len(blocks) - 1
	if index != nil {
		i = *index
	}
	if i < 0 || i >= len(blocks) {
		return fmt.Errorf("environment: index %d out of range for %s/%s", i, tool, name)
	}

	idx := make(map[string]string)
	out := make([]Object, len(objects))
	for j, obj := range objects {
		refID := fmt.Sprintf("%s_%s_%d_%d", tool, name, i, j)
		hash := contentHash(obj)
		if priorRef, dup := idx[hash]; dup {
			out[j] = Object{refIDKey: refID, duplicateOfKey: priorRef}
		} else {
			cp := cloneObject(obj)
			cp[refIDKey] = refID
			out[j] = cp
			idx[hash] = refID
		}
	}
	blocks[i].Objects = out

	rebuilt := make(map[string]string)
	for _, b := range blocks {
		for _, obj := range b.Objects {
			if _, isDup := obj[duplicateOfKey]; isDup {
				continue
			}
			if h := contentHash(obj); rebuilt[h] == "" {
				rebuilt[h] = fmt.Sprint(obj[refIDKey])
			}
		}
	}
	e.dedup[key] = rebuilt
	return nil
}

// Remove deletes the block at index (or all blocks for the slot, if index
// is nil).
func (e *Environment) Remove(tool, name string, index *int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := slotKey{tool: tool, name: name}
	if index == nil {
		delete(e.blocks, key)
		delete(e.dedup, key)
		return
	}
	blocks, ok := e.blocks[key]
	if !ok || *index < 0 || *index >= len(blocks) {
		return
	}
	e.blocks[key] = append(blocks[:*index], blocks[*index+1:]...)
}

// IsEmpty reports whether no user-tool entries exist, ignoring the
// preloaded SelfInfo slot.
func (e *Environment) IsEmpty() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for key := range e.blocks {
		if key.tool == selfInfoTool && key.name == selfInfoName {
			continue
		}
		return false
	}
	return true
}

// SetHidden stores an opaque inter-tool handoff value never shown to the LM.
func (e *Environment) SetHidden(key string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hidden[key] = value
}

// Hidden retrieves a previously stored hidden value.
func (e *Environment) Hidden(key string) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.hidden[key]
	return v, ok
}

// exportSlot is the JSON-facing shape of one (tool, name) entry.
type exportSlot struct {
	Tool   string         `json:"tool"`
	Name   string         `json:"name"`
	Blocks []*ResultBlock `json:"blocks"`
}

type exportDoc struct {
	Slots  []exportSlot   `json:"slots"`
	Hidden map[string]any `json:"hidden"`
}

// MarshalJSON renders the environment deterministically in first-seen slot
// order, satisfying the round-trip requirement of (P7).
func (e *Environment) MarshalJSON() ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	doc := exportDoc{Hidden: e.hidden}
	for _, key := range e.order {
		doc.Slots = append(doc.Slots, exportSlot{Tool: key.tool, Name: key.name, Blocks: e.blocks[key]})
	}
	return json.Marshal(doc)
}

// UnmarshalJSON restores an environment previously produced by MarshalJSON,
// rebuilding dedup indexes from the stored objects.
func (e *Environment) UnmarshalJSON(data []byte) error {
	var doc exportDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.blocks = make(map[slotKey][]*ResultBlock)
	e.dedup = make(map[slotKey]map[string]string)
	e.order = nil
	e.hidden = doc.Hidden
	if e.hidden == nil {
		e.hidden = make(map[string]any)
	}
	for _, slot := range doc.Slots {
		key := slotKey{tool: slot.Tool, name: slot.Name}
		e.order = append(e.order, key)
		e.blocks[key] = slot.Blocks
		idx := make(map[string]string)
		for _, block := range slot.Blocks {
			for _, obj := range block.Objects {
				if _, isDup := obj[duplicateOfKey]; isDup {
					continue
				}
				withoutRef := cloneObject(obj)
				delete(withoutRef, refIDKey)
				idx[contentHash(withoutRef)] = fmt.Sprint(obj[refIDKey])
			}
		}
		e.dedup[key] = idx
	}
	return nil
}

func contentHash(obj Object) string {
	stripped := cloneObject(obj)
	delete(stripped, refIDKey)
	b, _ := json.Marshal(stripped) // encoding/json sorts map keys, giving a canonical encoding
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func cloneObject(obj Object) Object {
	cp := make(Object, len(obj))
	for k, v := range obj {
		cp[k] = v
	}
	return cp
}

func cloneMeta(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	cp := make(map[string]any, len(meta))
	for k, v := range meta {
		cp[k] = v
	}
	return cp
}
