// Package llm defines the provider-neutral conversation types exchanged
// between the agent runtime and language model backends, together with the
// model family table that selects a backend, its endpoint and its input token
// budget from a model identifier.
package llm
