package session

import (
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/codelet-dev/codelet/internal/persist"
)

// APIMessages converts envelopes into the request form sent to the Messages
// API. This is the functional-equivalence surface: for the same
// conversation, a restored session and one that never stopped must produce
// byte-identical output here.
//
// Side-channel metadata (tool result stdout/stderr, request ids) is not
// part of the wire form; it rides along in the persisted record only.
func APIMessages(envs []persist.MessageEnvelope) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(envs))
	for i := range envs {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(envs[i].Content))
		for _, b := range envs[i].Content {
			u, err := apiBlock(b)
			if err != nil {
				return nil, fmt.Errorf("envelope %s: %w", envs[i].UUID, err)
			}
			blocks = append(blocks, u)
		}
		role := anthropic.MessageParamRoleUser
		if envs[i].Role == persist.RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}
	return out, nil
}

func apiBlock(b persist.ContentBlock) (anthropic.ContentBlockParamUnion, error) {
	switch v := b.(type) {
	case persist.TextBlock:
		return anthropic.NewTextBlock(v.Text), nil
	case persist.ToolUseBlock:
		return anthropic.ContentBlockParamUnion{OfToolUse: &anthropic.ToolUseBlockParam{
			ID:    v.ID,
			Name:  v.Name,
			Input: v.Input,
		}}, nil
	case persist.ToolResultBlock:
		return anthropic.NewToolResultBlock(v.ToolUseID, v.Content, v.IsError), nil
	case persist.ThinkingBlock:
		return anthropic.ContentBlockParamUnion{OfThinking: &anthropic.ThinkingBlockParam{
			Thinking:  v.Thinking,
			Signature: v.Signature,
		}}, nil
	case persist.ImageBlock:
		switch src := v.Source.(type) {
		case persist.InlineSource:
			return anthropic.ContentBlockParamUnion{OfImage: &anthropic.ImageBlockParam{
				Source: anthropic.ImageBlockParamSourceUnion{OfBase64: &anthropic.Base64ImageSourceParam{
					Data:      src.Data,
					MediaType: anthropic.Base64ImageSourceMediaType(src.MediaType),
				}},
			}}, nil
		case persist.URLSource:
			return anthropic.ContentBlockParamUnion{OfImage: &anthropic.ImageBlockParam{
				Source: anthropic.ImageBlockParamSourceUnion{OfURL: &anthropic.URLImageSourceParam{URL: src.URL}},
			}}, nil
		default:
			return anthropic.ContentBlockParamUnion{}, fmt.Errorf("image source %T not hydrated", src)
		}
	case persist.DocumentBlock:
		var src anthropic.DocumentBlockParamSourceUnion
		switch s := v.Source.(type) {
		case persist.InlineSource:
			src = anthropic.DocumentBlockParamSourceUnion{OfBase64: &anthropic.Base64PDFSourceParam{Data: s.Data}}
		case persist.URLSource:
			src = anthropic.DocumentBlockParamSourceUnion{OfURL: &anthropic.URLPDFSourceParam{URL: s.URL}}
		default:
			return anthropic.ContentBlockParamUnion{}, fmt.Errorf("document source %T not hydrated", s)
		}
		doc := &anthropic.DocumentBlockParam{Source: src}
		if v.Title != "" {
			doc.Title = anthropic.String(v.Title)
		}
		if v.Context != "" {
			doc.Context = anthropic.String(v.Context)
		}
		return anthropic.ContentBlockParamUnion{OfDocument: doc}, nil
	default:
		return anthropic.ContentBlockParamUnion{}, fmt.Errorf("content block %T has no wire form", b)
	}
}
