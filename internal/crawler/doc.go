// Package crawler holds the vocabulary of the incremental history crawl: entities,
// date windows, checkpoint keys, row observations and the run-scoped state that
// accumulates them. Collaborators (page driver, row extractor, checkpoint store)
// are described as interfaces here so the worker and runner packages can be
// exercised with fakes.
package crawler
