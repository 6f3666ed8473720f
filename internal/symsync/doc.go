// Package symsync registers symbols that were observed in incoming price
// data but are absent from the catalog. Observations are accumulated by the
// feed pipeline and flushed in batches; each batch runs in its own database
// transaction with bounded concurrency, so one bad batch never poisons the
// others.
package symsync
