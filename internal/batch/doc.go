// Package batch runs one watermarking batch end to end.
//
// RunBatch checks run-level preconditions, classifies the inputs, and then
// drives three strictly sequential phases through the worker pool:
//
//   - images: composite stills in process, falling back to ffmpeg for formats
//     the native encoder cannot write
//   - gifs: convert every animated GIF to an MP4 intermediate
//   - videos: overlay the watermark on native videos and every GIF
//     intermediate produced by the previous phase
//
// Each phase is a barrier. Job failures are journaled and reported but never
// stop sibling jobs or later phases. The finished Report is stored in the run
// history and announced through the notifier when those are configured.
package batch
