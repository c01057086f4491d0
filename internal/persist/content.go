package persist

import (
	"encoding/json"
	"fmt"
)

// ContentBlock is one typed unit of message content. The union is closed:
// every variant is handled explicitly by the codec, and an unrecognised tag
// fails decode with UnknownContentTypeError.
type ContentBlock interface {
	blockType() string
}

// TextBlock is plain text content.
type TextBlock struct {
	Text string
}

// ToolUseBlock is a tool invocation requested by the assistant. Input is the
// raw JSON argument object, preserved byte-for-byte.
type ToolUseBlock struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResultMeta is optional side-channel data stored alongside a tool
// result. It never feeds back into the primary Content field.
type ToolResultMeta struct {
	Stdout      string `json:"stdout,omitempty"`
	Stderr      string `json:"stderr,omitempty"`
	Interrupted bool   `json:"interrupted"`
	IsImage     bool   `json:"isImage"`
}

// ToolResultBlock is the outcome of a tool invocation, delivered back to the
// model as user content.
type ToolResultBlock struct {
	ToolUseID string
	Content   string
	IsError   bool
	Meta      *ToolResultMeta
}

// ThinkingBlock is extended reasoning content. Signature is a provider
// verification token; empty means absent.
type ThinkingBlock struct {
	Thinking  string
	Signature string
}

// ImageBlock carries an image by inline data, stored blob, or URL.
type ImageBlock struct {
	Source Source
}

// DocumentBlock carries a document by inline data, stored blob, or URL.
type DocumentBlock struct {
	Source  Source
	Title   string
	Context string
}

func (TextBlock) blockType() string       { return "text" }
func (ToolUseBlock) blockType() string    { return "tool_use" }
func (ToolResultBlock) blockType() string { return "tool_result" }
func (ThinkingBlock) blockType() string   { return "thinking" }
func (ImageBlock) blockType() string      { return "image" }
func (DocumentBlock) blockType() string   { return "document" }

// Source is the closed union of ways an image or document payload can be
// addressed: inline bytes, a stored blob, or an external URL.
type Source interface {
	sourceType() string
}

// InlineSource holds base64 data directly in the block.
type InlineSource struct {
	MediaType string
	Data      string
}

// BlobSource points at an object in the blob store. It appears only in the
// persisted form; decode rehydrates it back to InlineSource.
type BlobSource struct {
	MediaType string
	Hash      string
}

// URLSource is an external reference. It is data the store does not own and
// is never blobbed regardless of size.
type URLSource struct {
	URL string
}

func (InlineSource) sourceType() string { return "base64" }
func (BlobSource) sourceType() string   { return "blob" }
func (URLSource) sourceType() string    { return "url" }

// Persisted wire shapes. Tags and field names match the session file schema;
// optional fields are omitted when absent so that presence round-trips.

type persistedText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type persistedToolUse struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type persistedToolResult struct {
	Type      string          `json:"type"`
	ToolUseID string          `json:"tool_use_id"`
	Content   string          `json:"content"`
	IsError   bool            `json:"is_error,omitempty"`
	Meta      *ToolResultMeta `json:"toolUseResult,omitempty"`
}

type persistedThinking struct {
	Type      string `json:"type"`
	Thinking  string `json:"thinking"`
	Signature string `json:"signature,omitempty"`
}

type persistedSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	Hash      string `json:"hash,omitempty"`
	URL       string `json:"url,omitempty"`
}

type persistedImage struct {
	Type   string          `json:"type"`
	Source persistedSource `json:"source"`
}

type persistedDocument struct {
	Type    string          `json:"type"`
	Source  persistedSource `json:"source"`
	Title   string          `json:"title,omitempty"`
	Context string          `json:"context,omitempty"`
}

// EncodeBlock serializes one content block to its persisted representation.
// Blob extraction is the envelope codec's concern; blocks are encoded as
// given.
func EncodeBlock(b ContentBlock) (json.RawMessage, error) {
	switch v := b.(type) {
	case TextBlock:
		return json.Marshal(persistedText{Type: "text", Text: v.Text})
	case ToolUseBlock:
		input := v.Input
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		return json.Marshal(persistedToolUse{Type: "tool_use", ID: v.ID, Name: v.Name, Input: input})
	case ToolResultBlock:
		return json.Marshal(persistedToolResult{
			Type:      "tool_result",
			ToolUseID: v.ToolUseID,
			Content:   v.Content,
			IsError:   v.IsError,
			Meta:      v.Meta,
		})
	case ThinkingBlock:
		return json.Marshal(persistedThinking{Type: "thinking", Thinking: v.Thinking, Signature: v.Signature})
	case ImageBlock:
		src, err := encodeSource(v.Source)
		if err != nil {
			return nil, err
		}
		return json.Marshal(persistedImage{Type: "image", Source: src})
	case DocumentBlock:
		src, err := encodeSource(v.Source)
		if err != nil {
			return nil, err
		}
		return json.Marshal(persistedDocument{Type: "document", Source: src, Title: v.Title, Context: v.Context})
	default:
		return nil, fmt.Errorf("unencodable content block %T", b)
	}
}

// DecodeBlock parses one persisted content block. The type tag selects the
// variant; anything else is an UnknownContentTypeError.
func DecodeBlock(data json.RawMessage) (ContentBlock, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, &ParseError{What: "content block", Err: err}
	}
	switch head.Type {
	case "text":
		var p persistedText
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, &ParseError{What: "text block", Err: err}
		}
		return TextBlock{Text: p.Text}, nil
	case "tool_use":
		var p persistedToolUse
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, &ParseError{What: "tool_use block", Err: err}
		}
		return ToolUseBlock{ID: p.ID, Name: p.Name, Input: p.Input}, nil
	case "tool_result":
		var p persistedToolResult
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, &ParseError{What: "tool_result block", Err: err}
		}
		return ToolResultBlock{ToolUseID: p.ToolUseID, Content: p.Content, IsError: p.IsError, Meta: p.Meta}, nil
	case "thinking":
		var p persistedThinking
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, &ParseError{What: "thinking block", Err: err}
		}
		return ThinkingBlock{Thinking: p.Thinking, Signature: p.Signature}, nil
	case "image":
		var p persistedImage
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, &ParseError{What: "image block", Err: err}
		}
		src, err := decodeSource(p.Source)
		if err != nil {
			return nil, err
		}
		return ImageBlock{Source: src}, nil
	case "document":
		var p persistedDocument
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, &ParseError{What: "document block", Err: err}
		}
		src, err := decodeSource(p.Source)
		if err != nil {
			return nil, err
		}
		return DocumentBlock{Source: src, Title: p.Title, Context: p.Context}, nil
	default:
		return nil, &UnknownContentTypeError{Tag: head.Type}
	}
}

func encodeSource(s Source) (persistedSource, error) {
	switch v := s.(type) {
	case InlineSource:
		return persistedSource{Type: "base64", MediaType: v.MediaType, Data: v.Data}, nil
	case BlobSource:
		return persistedSource{Type: "blob", MediaType: v.MediaType, Hash: v.Hash}, nil
	case URLSource:
		return persistedSource{Type: "url", URL: v.URL}, nil
	default:
		return persistedSource{}, fmt.Errorf("unencodable source %T", s)
	}
}

func decodeSource(p persistedSource) (Source, error) {
	switch p.Type {
	case "base64":
		return InlineSource{MediaType: p.MediaType, Data: p.Data}, nil
	case "blob":
		return BlobSource{MediaType: p.MediaType, Hash: p.Hash}, nil
	case "url":
		return URLSource{URL: p.URL}, nil
	default:
		return nil, &UnknownContentTypeError{Tag: "source/" + p.Type}
	}
}
