// Package connection implements the Live Connection Manager.
//
// The manager:
//   - Maintains one logical WebSocket connection to the CCWAP feed
//   - Reconnects on failure with capped exponential backoff
//   - Sends a periodic liveness probe while connected
//   - Normalizes inbound frames into a bounded event log
//   - Is safe to start and stop under host lifecycle churn
package connection
