package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/codelet-dev/codelet/internal/persist"
)

// CompactionState records that messages before an index have been folded
// into a summary by an external compactor.
type CompactionState struct {
	Summary              string    `json:"summary"`
	CompactedBeforeIndex int       `json:"compactedBeforeIndex"`
	CompactedAt          time.Time `json:"compactedAt"`
}

// Manifest is the ordered, append-only collection of a session's envelopes
// plus its aggregate token tracker. Envelope order is the canonical
// conversation order and is never rearranged; Append is the only mutation
// of history.
type Manifest struct {
	ID         uuid.UUID
	Name       string
	Project    string
	Provider   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Envelopes  []persist.MessageEnvelope
	Tokens     persist.TokenUsage
	Compaction *CompactionState
}

// NewManifest creates an empty session manifest.
func NewManifest(name, project, provider string) *Manifest {
	now := time.Now().UTC()
	return &Manifest{
		ID:        uuid.New(),
		Name:      name,
		Project:   project,
		Provider:  provider,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds env to the log and folds its usage into the aggregate
// tracker. It fails, leaving the manifest unchanged, when env's UUID is
// already present or its parent does not reference an earlier envelope.
func (m *Manifest) Append(env persist.MessageEnvelope) error {
	if env.UUID == uuid.Nil {
		return fmt.Errorf("append to session %s: envelope has no uuid", m.ID)
	}
	parentSeen := env.ParentUUID == nil
	for i := range m.Envelopes {
		if m.Envelopes[i].UUID == env.UUID {
			return fmt.Errorf("append to session %s: duplicate envelope uuid %s", m.ID, env.UUID)
		}
		if !parentSeen && m.Envelopes[i].UUID == *env.ParentUUID {
			parentSeen = true
		}
	}
	if !parentSeen {
		return fmt.Errorf("append to session %s: parent %s not in manifest", m.ID, *env.ParentUUID)
	}

	m.Envelopes = append(m.Envelopes, env)
	if env.Usage != nil {
		m.Tokens.Add(*env.Usage)
	}
	m.UpdatedAt = time.Now().UTC()
	return nil
}

// LastUUID returns the UUID of the newest envelope, for threading the next
// message. ok is false on an empty manifest.
func (m *Manifest) LastUUID() (uuid.UUID, bool) {
	if len(m.Envelopes) == 0 {
		return uuid.Nil, false
	}
	return m.Envelopes[len(m.Envelopes)-1].UUID, true
}

// SetCompaction records a compaction boundary produced by the external
// compactor.
func (m *Manifest) SetCompaction(summary string, beforeIndex int) {
	m.Compaction = &CompactionState{
		Summary:              summary,
		CompactedBeforeIndex: beforeIndex,
		CompactedAt:          time.Now().UTC(),
	}
	m.UpdatedAt = time.Now().UTC()
}

// ClearCompaction drops the compaction record, e.g. after new messages make
// the summary stale.
func (m *Manifest) ClearCompaction() {
	m.Compaction = nil
	m.UpdatedAt = time.Now().UTC()
}

// persistedManifest is the one-unit on-disk form of a session.
type persistedManifest struct {
	ID         uuid.UUID          `json:"id"`
	Name       string             `json:"name"`
	Project    string             `json:"project"`
	Provider   string             `json:"provider"`
	CreatedAt  time.Time          `json:"createdAt"`
	UpdatedAt  time.Time          `json:"updatedAt"`
	Messages   []json.RawMessage  `json:"messages"`
	Tokens     persist.TokenUsage `json:"tokenUsage"`
	Compaction *CompactionState   `json:"compaction,omitempty"`
}

// Serialize encodes the whole manifest in one unit, routing oversized
// payloads through the codec's blob store. The manifest is not modified;
// a failure leaves no partial output to commit.
func (m *Manifest) Serialize(codec *persist.EnvelopeCodec) ([]byte, error) {
	p := persistedManifest{
		ID:         m.ID,
		Name:       m.Name,
		Project:    m.Project,
		Provider:   m.Provider,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
		Messages:   make([]json.RawMessage, 0, len(m.Envelopes)),
		Tokens:     m.Tokens,
		Compaction: m.Compaction,
	}
	for i := range m.Envelopes {
		raw, err := codec.Encode(m.Envelopes[i])
		if err != nil {
			return nil, fmt.Errorf("serialize session %s: %w", m.ID, err)
		}
		p.Messages = append(p.Messages, raw)
	}
	// Compact on purpose: indentation would rewrite the raw Input bytes
	// nested in tool_use blocks, and those must survive a round trip
	// untouched.
	return json.Marshal(&p)
}

func parseManifest(data []byte) (*persistedManifest, error) {
	var p persistedManifest
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &persist.ParseError{What: "session manifest", Err: err}
	}
	return &p, nil
}
