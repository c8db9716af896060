// Package feed implements the Message Normalizer and Event Log components.
//
// The normalizer:
//   - Decodes inbound frames into Events
//   - Discards malformed frames silently
//   - Filters liveness acknowledgments before they reach consumers
//
// The Log keeps a bounded, most-recent-first history of accepted events,
// evicting the oldest entry once capacity is reached.
package feed
