// Package dialect groups the wire shapes spoken by the two supported model
// providers. Sub-packages contain plain data types with JSON codecs only; the
// conversion logic between them lives in provider/normalize.
//
//   - blocks: the block-based Messages dialect, where a turn is an ordered list
//     of typed content blocks and tool results travel inside user turns
//   - choices: the choice/delta Chat Completions dialect, where a turn is one text
//     field plus a tool-call list and tool results use a dedicated role
package dialect
