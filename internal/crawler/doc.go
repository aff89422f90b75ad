// Package crawler defines the catalog crawl domain: products, price snapshots,
// crawl jobs, the collaborator interfaces the pipeline depends on, and the
// error taxonomy shared by the policy cache, extractor, walker and orchestrator.
package crawler
