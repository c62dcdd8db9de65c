// Package skill defines the Tool contract bound into agent graphs, the
// per-agent and per-thread skill data store, the skill data backed rate
// limiter and the category registry that turns declarative skill
// configuration into concrete tools.
package skill
