// Package pipeline implements RequestPipeline: admission and
// rate-limiting, per-operation stat accounting, the dispatch call into
// the current config snapshot's route-handle tree, and the finalize
// step (sendReply / continueSendReply) that must run on the worker's
// main context.
package pipeline
