// Package persist implements durable encoding of conversation messages.
//
// Persistence model:
//   - Each message is wrapped in a MessageEnvelope carrying identity,
//     threading, timing, provider, and usage metadata.
//   - Content blocks are a closed tagged union (text, tool_use, tool_result,
//     thinking, image, document); decode of an unrecognised tag fails with
//     UnknownContentTypeError instead of dropping the block.
//   - Payloads larger than BlobThreshold bytes are moved to a SHA-256
//     content-addressed blob store and replaced with blob references;
//     payloads at or below the threshold stay inline. URL sources are
//     references and are never blobbed.
//   - Identical payloads hash identically and are stored once.
package persist
