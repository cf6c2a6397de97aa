// Command assistantd runs the personal-assistant daemon: it mediates
// between chat transports (Telegram, Discord, a local websocket bridge)
// and an external agent CLI, persisting transcripts and indexing workspace
// memory for hybrid search.
package main

func main() {
	Execute()
}
