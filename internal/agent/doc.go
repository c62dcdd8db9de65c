// Package agent contains the execution core of the hub: it composes agent
// prompts, assembles per-agent tool sets from the skill registry, compiles
// them with an LLM backend and checkpointed memory into a runnable graph,
// caches graphs per agent with updated_at based invalidation, and drives
// chat turns through the graph while persisting every step as a chat
// message.
package agent
