// Package ingest defines the source and document model shared by the scheduler,
// collectors, the dedup pipeline, and the storage backends.
package ingest
