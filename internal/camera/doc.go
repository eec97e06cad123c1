// Package camera defines the shared vocabulary of the camera HAL pipeline.
//
// The package contains the value types exchanged between channels, streams,
// the post-processor and the underlying driver:
//
//   - Driver: the operations table of the multimedia camera driver stack
//   - SuperBuffer: a batch of per-stream buffer completions from the driver
//   - GraphicBuffer: a caller-owned output buffer handle
//   - CaptureCallback: the result delivery contract towards the caller
//
// Concrete behavior lives in the sub-packages:
//
//   - memory: imported and heap buffer pools
//   - channel: streams and the regular, metadata and picture channels
//   - postproc: JPEG post-processing and the encoder job table
//   - exif: EXIF entry assembly for still captures
//   - sim: an in-memory driver and encoder for tests and the CLI.
package camera
