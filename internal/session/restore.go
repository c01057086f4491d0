package session

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/codelet-dev/codelet/internal/persist"
)

// Turn is a derived grouping: one user message plus the assistant activity
// (including tool exchanges) that answers it, as the half-open envelope
// range [Start, End). Turns are never persisted; they are rebuilt from
// envelope order on every restore.
type Turn struct {
	Start int
	End   int
}

// SessionState is a restored in-memory session: the manifest plus the
// re-derived turn index.
type SessionState struct {
	Manifest *Manifest
	Turns    []Turn
}

// Restore deserializes a manifest record, decodes every envelope
// (rehydrating blobs through codec), re-derives turn boundaries, and
// validates the record before returning it.
//
// The aggregate tracker is taken from the manifest, not recomputed; but the
// per-message usage sum must agree with it, and every parentUuid must
// resolve to an earlier envelope. Either disagreement fails with
// *persist.IntegrityError: a record that contradicts itself was corrupted
// or hand-edited, and guessing would poison the conversation context.
func Restore(data []byte, codec *persist.EnvelopeCodec) (*SessionState, error) {
	p, err := parseManifest(data)
	if err != nil {
		return nil, err
	}

	m := &Manifest{
		ID:         p.ID,
		Name:       p.Name,
		Project:    p.Project,
		Provider:   p.Provider,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
		Tokens:     p.Tokens,
		Compaction: p.Compaction,
		Envelopes:  make([]persist.MessageEnvelope, 0, len(p.Messages)),
	}
	for _, raw := range p.Messages {
		env, err := codec.Decode(raw)
		if err != nil {
			return nil, err
		}
		m.Envelopes = append(m.Envelopes, env)
	}

	if err := validateThreading(m.Envelopes); err != nil {
		return nil, err
	}
	if err := validateTokens(m); err != nil {
		return nil, err
	}

	return &SessionState{Manifest: m, Turns: DeriveTurns(m.Envelopes)}, nil
}

// DeriveTurns scans envelopes in order and opens a new turn at every user
// message that carries conversational content. A user message consisting
// only of tool results is part of the tool exchange of the turn in
// progress, not the start of a new one.
func DeriveTurns(envs []persist.MessageEnvelope) []Turn {
	var turns []Turn
	for i := range envs {
		if len(turns) == 0 || opensTurn(envs[i]) {
			turns = append(turns, Turn{Start: i, End: i + 1})
			continue
		}
		turns[len(turns)-1].End = i + 1
	}
	return turns
}

func opensTurn(env persist.MessageEnvelope) bool {
	if env.Role != persist.RoleUser {
		return false
	}
	for _, b := range env.Content {
		if _, ok := b.(persist.ToolResultBlock); !ok {
			return true
		}
	}
	return false
}

func validateThreading(envs []persist.MessageEnvelope) error {
	seen := make(map[uuid.UUID]struct{}, len(envs))
	for i := range envs {
		if envs[i].UUID == uuid.Nil {
			return &persist.IntegrityError{Reason: fmt.Sprintf("envelope %d has no uuid", i)}
		}
		if _, dup := seen[envs[i].UUID]; dup {
			return &persist.IntegrityError{Reason: fmt.Sprintf("duplicate envelope uuid %s", envs[i].UUID)}
		}
		if p := envs[i].ParentUUID; p != nil {
			if _, ok := seen[*p]; !ok {
				return &persist.IntegrityError{Reason: fmt.Sprintf("envelope %s references missing parent %s", envs[i].UUID, *p)}
			}
		}
		seen[envs[i].UUID] = struct{}{}
	}
	return nil
}

func validateTokens(m *Manifest) error {
	var sum persist.TokenUsage
	for i := range m.Envelopes {
		if u := m.Envelopes[i].Usage; u != nil {
			sum.Add(*u)
		}
	}
	if sum != m.Tokens {
		return &persist.IntegrityError{
			Reason: fmt.Sprintf("session %s token aggregate %+v disagrees with per-message sum %+v", m.ID, m.Tokens, sum),
		}
	}
	return nil
}
