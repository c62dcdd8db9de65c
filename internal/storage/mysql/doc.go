// Package mysql implements the AgentHub stores on MySQL: agent configuration
// and state, chat messages, checkpointed thread memory, skill data and the
// transactional memory purger. Schema changes live in deploy/migrations and
// are applied on Open. DSNs must enable parseTime.
package mysql
