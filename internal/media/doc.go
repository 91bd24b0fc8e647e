// Package media defines the values that flow through a batch: classified
// items, their categories, and the terminal result of each job.
//
// Classification is a pure function of the file extension. Items are
// immutable once ingested; a job that produces an intermediate file (for
// example a GIF converted to MP4) derives a new Item that keeps the original
// ID so reports stay keyed by what the user dropped.
package media
