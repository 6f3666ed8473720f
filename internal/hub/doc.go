// Package hub fans price updates out to websocket subscribers. Connections
// join groups: one bulk group per asset class and one narrow group per
// (asset class, symbol) pair. Delivery is fire-and-forget; a subscriber
// whose outbox is full loses that event rather than slowing the feed.
package hub
