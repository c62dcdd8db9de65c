// Package agentstore holds the persisted agent configuration (Agent), the
// mutable agent-scoped side state (AgentData) and the Store contract both the
// admin layer and the agent runtime read them through. Every mutation of an
// Agent advances UpdatedAt, which the runtime uses as its only cache
// invalidation signal.
package agentstore
