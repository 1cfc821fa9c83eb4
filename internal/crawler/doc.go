// Package crawler holds the domain model of the video metadata crawler: the
// per-URL Record, the persisted Document, the Session contracts implemented by
// the rendering backends, and input loading.
package crawler
