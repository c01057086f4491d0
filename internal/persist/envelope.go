package persist

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Role distinguishes the two message directions in a conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TokenUsage is per-message token accounting. The same shape accumulates
// into the session-level aggregate tracker.
type TokenUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
}

// Add folds another usage record into u field-wise.
func (u *TokenUsage) Add(o TokenUsage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.CacheReadInputTokens += o.CacheReadInputTokens
	u.CacheCreationInputTokens += o.CacheCreationInputTokens
}

// MessageEnvelope is the durable wrapper around one conversation message.
// Optional string fields use the empty string for absence and are omitted
// from the persisted record, so an envelope saved without them restores
// without them.
type MessageEnvelope struct {
	UUID       uuid.UUID
	ParentUUID *uuid.UUID
	Timestamp  time.Time
	Role       Role
	Provider   string
	MessageID  string // provider message id, assistant only
	Model      string
	StopReason string
	RequestID  string
	Content    []ContentBlock
	Usage      *TokenUsage
}

// persistedEnvelope mirrors the session file schema: camelCase envelope
// metadata wrapping a message payload whose content blocks are snake_case
// tagged objects.
type persistedEnvelope struct {
	UUID       uuid.UUID        `json:"uuid"`
	ParentUUID *uuid.UUID       `json:"parentUuid,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
	Type       Role             `json:"type"`
	Provider   string           `json:"provider"`
	Message    persistedMessage `json:"message"`
	RequestID  string           `json:"requestId,omitempty"`
}

type persistedMessage struct {
	Role       Role              `json:"role"`
	ID         string            `json:"id,omitempty"`
	Model      string            `json:"model,omitempty"`
	Content    []json.RawMessage `json:"content"`
	StopReason string            `json:"stop_reason,omitempty"`
	Usage      *TokenUsage       `json:"usage,omitempty"`
}

// toolUseBlobKey is the single-key marker object that replaces an oversized
// tool_use input in the persisted record.
const toolUseBlobKey = "_blob_ref"

// EnvelopeCodec encodes envelopes to their persisted representation,
// routing oversized payloads through a blob store, and decodes them back,
// rehydrating every blob reference.
type EnvelopeCodec struct {
	Blobs *BlobStore
}

// Encode produces the persisted record for env. String payloads larger than
// BlobThreshold (tool_result content, thinking text, serialized tool_use
// input, inline image/document data) are stored as blobs and replaced with
// references. env itself is not modified.
func (c *EnvelopeCodec) Encode(env MessageEnvelope) (json.RawMessage, error) {
	if env.Role != RoleUser && env.Role != RoleAssistant {
		return nil, fmt.Errorf("encode envelope %s: invalid role %q", env.UUID, env.Role)
	}
	content := make([]json.RawMessage, 0, len(env.Content))
	for _, block := range env.Content {
		routed, err := c.extractBlobs(block)
		if err != nil {
			return nil, fmt.Errorf("envelope %s: %w", env.UUID, err)
		}
		raw, err := EncodeBlock(routed)
		if err != nil {
			return nil, fmt.Errorf("envelope %s: %w", env.UUID, err)
		}
		content = append(content, raw)
	}

	p := persistedEnvelope{
		UUID:       env.UUID,
		ParentUUID: env.ParentUUID,
		Timestamp:  env.Timestamp,
		Type:       env.Role,
		Provider:   env.Provider,
		RequestID:  env.RequestID,
		Message: persistedMessage{
			Role:       env.Role,
			ID:         env.MessageID,
			Model:      env.Model,
			Content:    content,
			StopReason: env.StopReason,
			Usage:      env.Usage,
		},
	}
	return json.Marshal(p)
}

// Decode parses a persisted record and rehydrates blob references back into
// inline content. A dangling reference yields *BlobNotFoundError.
func (c *EnvelopeCodec) Decode(data json.RawMessage) (MessageEnvelope, error) {
	var p persistedEnvelope
	if err := json.Unmarshal(data, &p); err != nil {
		return MessageEnvelope{}, &ParseError{What: "message envelope", Err: err}
	}
	if p.Type != RoleUser && p.Type != RoleAssistant {
		return MessageEnvelope{}, &ParseError{What: "message envelope", Err: fmt.Errorf("invalid role %q", p.Type)}
	}

	env := MessageEnvelope{
		UUID:       p.UUID,
		ParentUUID: p.ParentUUID,
		Timestamp:  p.Timestamp,
		Role:       p.Type,
		Provider:   p.Provider,
		MessageID:  p.Message.ID,
		Model:      p.Message.Model,
		StopReason: p.Message.StopReason,
		RequestID:  p.RequestID,
		Usage:      p.Message.Usage,
	}
	env.Content = make([]ContentBlock, 0, len(p.Message.Content))
	for _, raw := range p.Message.Content {
		block, err := DecodeBlock(raw)
		if err != nil {
			return MessageEnvelope{}, err
		}
		hydrated, err := c.rehydrate(block)
		if err != nil {
			return MessageEnvelope{}, fmt.Errorf("envelope %s: %w", p.UUID, err)
		}
		env.Content = append(env.Content, hydrated)
	}
	return env, nil
}

// extractBlobs returns block with any oversized payload moved to the blob
// store. Blocks under the threshold pass through unchanged.
func (c *EnvelopeCodec) extractBlobs(block ContentBlock) (ContentBlock, error) {
	switch v := block.(type) {
	case ToolResultBlock:
		if len(v.Content) <= BlobThreshold {
			return v, nil
		}
		hash, err := c.Blobs.Put([]byte(v.Content))
		if err != nil {
			return nil, err
		}
		v.Content = BlobRef(hash)
		return v, nil
	case ThinkingBlock:
		if len(v.Thinking) <= BlobThreshold {
			return v, nil
		}
		hash, err := c.Blobs.Put([]byte(v.Thinking))
		if err != nil {
			return nil, err
		}
		v.Thinking = BlobRef(hash)
		return v, nil
	case ToolUseBlock:
		if len(v.Input) <= BlobThreshold {
			return v, nil
		}
		hash, err := c.Blobs.Put([]byte(v.Input))
		if err != nil {
			return nil, err
		}
		marker, err := json.Marshal(map[string]string{toolUseBlobKey: BlobRef(hash)})
		if err != nil {
			return nil, err
		}
		v.Input = marker
		return v, nil
	case ImageBlock:
		src, err := c.extractSource(v.Source)
		if err != nil {
			return nil, err
		}
		v.Source = src
		return v, nil
	case DocumentBlock:
		src, err := c.extractSource(v.Source)
		if err != nil {
			return nil, err
		}
		v.Source = src
		return v, nil
	default:
		return block, nil
	}
}

func (c *EnvelopeCodec) extractSource(src Source) (Source, error) {
	// URL sources are references, not data; they stay as-is at any size.
	inline, ok := src.(InlineSource)
	if !ok || len(inline.Data) <= BlobThreshold {
		return src, nil
	}
	hash, err := c.Blobs.Put([]byte(inline.Data))
	if err != nil {
		return nil, err
	}
	return BlobSource{MediaType: inline.MediaType, Hash: hash}, nil
}

// rehydrate replaces blob references inside block with the stored content.
func (c *EnvelopeCodec) rehydrate(block ContentBlock) (ContentBlock, error) {
	switch v := block.(type) {
	case ToolResultBlock:
		if hash, ok := BlobRefHash(v.Content); ok {
			content, err := c.Blobs.Get(hash)
			if err != nil {
				return nil, err
			}
			v.Content = string(content)
		}
		return v, nil
	case ThinkingBlock:
		if hash, ok := BlobRefHash(v.Thinking); ok {
			content, err := c.Blobs.Get(hash)
			if err != nil {
				return nil, err
			}
			v.Thinking = string(content)
		}
		return v, nil
	case ToolUseBlock:
		ref := gjson.GetBytes(v.Input, toolUseBlobKey)
		if !ref.Exists() {
			return v, nil
		}
		hash, ok := BlobRefHash(ref.String())
		if !ok {
			return nil, &IntegrityError{Reason: fmt.Sprintf("tool_use %s carries malformed blob reference", v.ID)}
		}
		input, err := c.Blobs.Get(hash)
		if err != nil {
			return nil, err
		}
		if !json.Valid(input) {
			return nil, &IntegrityError{Reason: fmt.Sprintf("rehydrated tool_use input for %s is not JSON", v.ID)}
		}
		v.Input = input
		return v, nil
	case ImageBlock:
		src, err := c.rehydrateSource(v.Source)
		if err != nil {
			return nil, err
		}
		v.Source = src
		return v, nil
	case DocumentBlock:
		src, err := c.rehydrateSource(v.Source)
		if err != nil {
			return nil, err
		}
		v.Source = src
		return v, nil
	default:
		return block, nil
	}
}

func (c *EnvelopeCodec) rehydrateSource(src Source) (Source, error) {
	blob, ok := src.(BlobSource)
	if !ok {
		return src, nil
	}
	data, err := c.Blobs.Get(blob.Hash)
	if err != nil {
		return nil, err
	}
	return InlineSource{MediaType: blob.MediaType, Data: string(data)}, nil
}
