// Package feed is the pipeline between ingestion and delivery. Pollers and
// stream readers enqueue normalized price points; the dispatcher drains the
// queue and fans each point out to the broadcast hub, the latest-price
// cache, the history writer, and the catalog's broadcast bookkeeping.
// Tickers that are not in the catalog are accumulated and periodically
// handed to the symbol-sync processor.
package feed
