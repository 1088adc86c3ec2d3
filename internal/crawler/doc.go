// Package crawler implements the resumable crawl orchestrator: the bucket
// and attempt types persisted in the state store, the collaborator
// interfaces, and the Engine that runs one search per registered domain.
package crawler
