// Package admin implements agent management: create, update, override, YAML
// import/export and memory cleanup, followed by the post-actions that provision
// wallets, resolve Telegram bot identities and announce changes on Slack.
package admin
