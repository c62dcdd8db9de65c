// Package dispatch runs chat turns asynchronously. A submitted job is stored,
// its id is published to a queue (in-process channel, Redis list or RabbitMQ)
// and processor workers execute the turn through the streaming executor.
// Jobs are attempted once; there is no retry or redelivery.
package dispatch
