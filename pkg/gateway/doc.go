// Package gateway is the ingress point for conversation messages. It
// derives a session key from the message origin, intercepts slash
// commands, and runs agent turns serialized per key on the command
// queue so that concurrent messages for one session apply in arrival
// order while different sessions proceed independently.
//
// Transport adapters implement Channel and register with the gateway's
// ChannelRegistry; the gateway itself knows nothing about transports
// beyond name and delivery.
package gateway
