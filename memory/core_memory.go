package memory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/groundmem/groundmem/core"
)

// CoreMemory is the self-editable bounded identity store: at most
// core.MaxCoreBlocks labeled blocks, each content-bounded. Edits land
// here only after the orchestrator's debounce, so one-off statements
// never corrupt long-lived identity.
type CoreMemory struct {
	blocks map[string]*core.CoreMemoryBlock // label -> block
	order  []string
}

// NewCore creates an empty identity store.
func NewCore() *CoreMemory {
	return &CoreMemory{blocks: make(map[string]*core.CoreMemoryBlock)}
}

// Update writes content into the block labeled label, creating the
// block if the store has room. Content exceeding the block bound, or a
// new label beyond the block limit, is rejected with a ValidationError
// and nothing is applied.
func (c *CoreMemory) Update(label, content string) error {
	if label == "" {
		return core.Validationf("label", "empty label")
	}
	if len(content) > core.MaxCoreBlockLen {
		return core.Validationf("content", "exceeds %d byte block bound", core.MaxCoreBlockLen)
	}
	b, ok := c.blocks[label]
	if !ok {
		if len(c.blocks) >= core.MaxCoreBlocks {
			return core.Validationf("label", "identity store full (%d blocks)", core.MaxCoreBlocks)
		}
		b = &core.CoreMemoryBlock{BlockID: uuid.New().String(), Label: label}
		c.blocks[label] = b
		c.order = append(c.order, label)
	}
	b.Content = content
	b.LastUpdated = time.Now()
	b.EditCount++
	return nil
}

// Merge appends addition to the block's existing content, separated by
// "; ". The merge is skipped (without error) when it would exceed the
// block bound; the block keeps its current content.
func (c *CoreMemory) Merge(label, addition string) error {
	existing := ""
	if b, ok := c.blocks[label]; ok {
		existing = b.Content
	}
	merged := addition
	if existing != "" {
		if strings.Contains(existing, addition) {
			return nil
		}
		merged = existing + "; " + addition
	}
	if len(merged) > core.MaxCoreBlockLen {
		return nil
	}
	return c.Update(label, merged)
}

// Get returns a copy of the block labeled label.
func (c *CoreMemory) Get(label string) (core.CoreMemoryBlock, bool) {
	b, ok := c.blocks[label]
	if !ok {
		return core.CoreMemoryBlock{}, false
	}
	return *b, true
}

// Render returns the identity store as prompt-ready text, blocks in
// creation order.
func (c *CoreMemory) Render() string {
	var parts []string
	for _, label := range c.order {
		b := c.blocks[label]
		if b.Content == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("[%s] %s", b.Label, b.Content))
	}
	return strings.Join(parts, "\n")
}

// Len returns the number of blocks.
func (c *CoreMemory) Len() int {
	return len(c.blocks)
}

type coreSnapshot struct {
	Blocks map[string]*core.CoreMemoryBlock `json:"blocks"`
	Order  []string                         `json:"order"`
}

// Snapshot serializes all blocks.
func (c *CoreMemory) Snapshot() ([]byte, error) {
	return json.Marshal(coreSnapshot{Blocks: c.blocks, Order: c.order})
}

// Restore replaces state from a snapshot.
func (c *CoreMemory) Restore(data []byte) error {
	var snap coreSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	c.blocks = snap.Blocks
	if c.blocks == nil {
		c.blocks = make(map[string]*core.CoreMemoryBlock)
	}
	c.order = snap.Order
	return nil
}
