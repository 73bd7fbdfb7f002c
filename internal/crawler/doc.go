// Package crawler holds the task model and collaborator interfaces shared by
// the frontier, the page processor, the worker pool and the stores.
package crawler
