package persist_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/codelet-dev/codelet/internal/persist"
)

func newCodec(t *testing.T) *persist.EnvelopeCodec {
	t.Helper()
	return &persist.EnvelopeCodec{Blobs: newBlobStore(t)}
}

func userEnvelope(blocks ...persist.ContentBlock) persist.MessageEnvelope {
	return persist.MessageEnvelope{
		UUID:      uuid.New(),
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Role:      persist.RoleUser,
		Provider:  "claude",
		Content:   blocks,
	}
}

func TestEnvelopeCodec_RoundTrip(t *testing.T) {
	codec := newCodec(t)
	parent := uuid.New()
	env := persist.MessageEnvelope{
		UUID:       uuid.New(),
		ParentUUID: &parent,
		Timestamp:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Role:       persist.RoleAssistant,
		Provider:   "claude",
		MessageID:  "msg_01ABC",
		Model:      "claude-3-7-sonnet-latest",
		StopReason: "end_turn",
		RequestID:  "req_9",
		Content: []persist.ContentBlock{
			persist.TextBlock{Text: "done"},
			persist.ThinkingBlock{Thinking: "brief", Signature: "sig"},
		},
		Usage: &persist.TokenUsage{InputTokens: 100, OutputTokens: 42},
	}

	raw, err := codec.Encode(env)
	require.NoError(t, err)
	got, err := codec.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, env, got)
}

func TestEnvelopeCodec_PersistedSchema(t *testing.T) {
	codec := newCodec(t)
	env := userEnvelope(persist.TextBlock{Text: "hi"})

	raw, err := codec.Encode(env)
	require.NoError(t, err)

	// Envelope metadata is camelCase; block tags are snake_case.
	require.Equal(t, env.UUID.String(), gjson.GetBytes(raw, "uuid").String())
	require.Equal(t, "user", gjson.GetBytes(raw, "type").String())
	require.Equal(t, "user", gjson.GetBytes(raw, "message.role").String())
	require.Equal(t, "text", gjson.GetBytes(raw, "message.content.0.type").String())

	// Absent optional fields leave no key behind.
	for _, key := range []string{"parentUuid", "requestId", "message.id", "message.model", "message.stop_reason", "message.usage"} {
		require.False(t, gjson.GetBytes(raw, key).Exists(), "key %s should be absent", key)
	}
}

func TestEnvelopeCodec_InvalidRole(t *testing.T) {
	codec := newCodec(t)
	env := userEnvelope(persist.TextBlock{Text: "x"})
	env.Role = "system"
	_, err := codec.Encode(env)
	require.Error(t, err)

	_, err = codec.Decode(json.RawMessage(`{"uuid":"` + uuid.NewString() + `","type":"system","message":{"role":"system","content":[]}}`))
	var pe *persist.ParseError
	require.ErrorAs(t, err, &pe)
}

func TestEnvelopeCodec_ThresholdBoundary(t *testing.T) {
	cases := []struct {
		name string
		size int
		blob bool
	}{
		{"at threshold stays inline", persist.BlobThreshold, false},
		{"one over goes to blob", persist.BlobThreshold + 1, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			codec := newCodec(t)
			content := strings.Repeat("x", tc.size)
			env := userEnvelope(persist.ToolResultBlock{ToolUseID: "t1", Content: content})

			raw, err := codec.Encode(env)
			require.NoError(t, err)

			stored := gjson.GetBytes(raw, "message.content.0.content").String()
			if tc.blob {
				require.True(t, persist.IsBlobRef(stored), "expected blob reference, got %d inline bytes", len(stored))
			} else {
				require.Equal(t, content, stored)
			}

			// Either way the decoded envelope carries the full content.
			got, err := codec.Decode(raw)
			require.NoError(t, err)
			require.Equal(t, content, got.Content[0].(persist.ToolResultBlock).Content)
		})
	}
}

func TestEnvelopeCodec_LargeToolResult(t *testing.T) {
	codec := newCodec(t)
	content := strings.Repeat("output line\n", 1250) // 15000 bytes
	env := userEnvelope(persist.ToolResultBlock{ToolUseID: "t1", Content: content, IsError: false})

	raw, err := codec.Encode(env)
	require.NoError(t, err)

	stored := gjson.GetBytes(raw, "message.content.0.content").String()
	hash, ok := persist.BlobRefHash(stored)
	require.True(t, ok)
	require.True(t, codec.Blobs.Exists(hash))

	got, err := codec.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, content, got.Content[0].(persist.ToolResultBlock).Content)
}

func TestEnvelopeCodec_LargeThinking(t *testing.T) {
	codec := newCodec(t)
	thinking := strings.Repeat("reasoning ", 2000)
	env := userEnvelope(persist.ThinkingBlock{Thinking: thinking, Signature: "sig-1"})
	env.Role = persist.RoleAssistant

	raw, err := codec.Encode(env)
	require.NoError(t, err)
	require.True(t, persist.IsBlobRef(gjson.GetBytes(raw, "message.content.0.thinking").String()))
	// Signature stays inline alongside the reference.
	require.Equal(t, "sig-1", gjson.GetBytes(raw, "message.content.0.signature").String())

	got, err := codec.Decode(raw)
	require.NoError(t, err)
	tb := got.Content[0].(persist.ThinkingBlock)
	require.Equal(t, thinking, tb.Thinking)
	require.Equal(t, "sig-1", tb.Signature)
}

func TestEnvelopeCodec_LargeToolUseInput_MarkerRoundTrip(t *testing.T) {
	codec := newCodec(t)
	input, err := json.Marshal(map[string]string{"patch": strings.Repeat("diff hunk ", 1500)})
	require.NoError(t, err)
	env := userEnvelope(persist.ToolUseBlock{ID: "tu1", Name: "edit_file", Input: input})
	env.Role = persist.RoleAssistant

	raw, err := codec.Encode(env)
	require.NoError(t, err)

	// The persisted input is a single-key marker object.
	marker := gjson.GetBytes(raw, "message.content.0.input")
	require.True(t, persist.IsBlobRef(marker.Get("_blob_ref").String()))

	got, err := codec.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, json.RawMessage(input), got.Content[0].(persist.ToolUseBlock).Input)
}

func TestEnvelopeCodec_URLSourcesNeverBlobbed(t *testing.T) {
	codec := newCodec(t)
	longURL := "https://example.com/" + strings.Repeat("p/", 10000)
	env := userEnvelope(persist.ImageBlock{Source: persist.URLSource{URL: longURL}})

	raw, err := codec.Encode(env)
	require.NoError(t, err)
	require.Equal(t, "url", gjson.GetBytes(raw, "message.content.0.source.type").String())
	require.Equal(t, longURL, gjson.GetBytes(raw, "message.content.0.source.url").String())

	got, err := codec.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, env.Content, got.Content)
}

func TestEnvelopeCodec_LargeInlineImage(t *testing.T) {
	codec := newCodec(t)
	data := strings.Repeat("QUJDRA==", 2000)
	env := userEnvelope(persist.ImageBlock{Source: persist.InlineSource{MediaType: "image/png", Data: data}})

	raw, err := codec.Encode(env)
	require.NoError(t, err)
	require.Equal(t, "blob", gjson.GetBytes(raw, "message.content.0.source.type").String())
	require.Equal(t, "image/png", gjson.GetBytes(raw, "message.content.0.source.media_type").String())

	got, err := codec.Decode(raw)
	require.NoError(t, err)
	src := got.Content[0].(persist.ImageBlock).Source.(persist.InlineSource)
	require.Equal(t, data, src.Data)
	require.Equal(t, "image/png", src.MediaType)
}

func TestEnvelopeCodec_DanglingBlobRef(t *testing.T) {
	codec := newCodec(t)
	env := userEnvelope(persist.ToolResultBlock{ToolUseID: "t1", Content: strings.Repeat("x", persist.BlobThreshold+1)})
	raw, err := codec.Encode(env)
	require.NoError(t, err)

	// Decode against an empty store: the reference dangles.
	fresh := newCodec(t)
	_, err = fresh.Decode(raw)
	var nf *persist.BlobNotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestEnvelopeCodec_MalformedToolUseMarker(t *testing.T) {
	codec := newCodec(t)
	raw := json.RawMessage(`{
		"uuid": "` + uuid.NewString() + `",
		"timestamp": "2025-06-01T12:00:00Z",
		"type": "assistant",
		"provider": "claude",
		"message": {
			"role": "assistant",
			"content": [{"type": "tool_use", "id": "t1", "name": "x", "input": {"_blob_ref": "blob:sha256:nope"}}]
		}
	}`)
	_, err := codec.Decode(raw)
	var ie *persist.IntegrityError
	require.ErrorAs(t, err, &ie)
}

func TestEnvelopeCodec_Dedup_SharedAcrossEnvelopes(t *testing.T) {
	codec := newCodec(t)
	content := strings.Repeat("shared", 4000)

	raw1, err := codec.Encode(userEnvelope(persist.ToolResultBlock{ToolUseID: "a", Content: content}))
	require.NoError(t, err)
	raw2, err := codec.Encode(userEnvelope(persist.ToolResultBlock{ToolUseID: "b", Content: content}))
	require.NoError(t, err)

	ref1 := gjson.GetBytes(raw1, "message.content.0.content").String()
	ref2 := gjson.GetBytes(raw2, "message.content.0.content").String()
	require.Equal(t, ref1, ref2, "identical payloads should share one object")
}

func TestTokenUsage_Add(t *testing.T) {
	u := persist.TokenUsage{InputTokens: 1, OutputTokens: 2}
	u.Add(persist.TokenUsage{InputTokens: 10, OutputTokens: 20, CacheReadInputTokens: 5, CacheCreationInputTokens: 7})
	require.Equal(t, persist.TokenUsage{InputTokens: 11, OutputTokens: 22, CacheReadInputTokens: 5, CacheCreationInputTokens: 7}, u)
}
