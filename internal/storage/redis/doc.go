// Package redis keeps agent and thread skill data in Redis for deployments
// that want a shared, low-latency skill store in front of MySQL memory.
package redis
