// Package dedup implements the chat Deduplicator.
//
// The same logical chat message can reach the transcript twice: once as the
// direct reply to a chat-send request and once as the echoed push frame.
// Deduplication uses a composite key:
//   - chat messages: (text, timestamp), exact match
//
// Local ids are assigned independently of any server id, so ids never take
// part in the comparison.
package dedup
