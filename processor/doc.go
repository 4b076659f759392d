// Package processor converts raw submissions into a Content record and an
// ordered list of Chunks.
//
// Each content type has its own path:
//   - document: PDF pages grouped into fixed windows, with table and
//     figure references collected per window
//   - note: text split at paragraph and sentence boundaries under a size
//     budget, title on the first chunk only
//   - image and drawing: caption plus best-effort OCR text
//   - audio: transcoded to MP3, transcribed with a domain hint, title and
//     description kept even when transcription fails
//
// The processor never writes to storage. Chunk IDs depend only on content
// type, content ID and ordinal, so processing the same input twice yields
// the same IDs.
package processor
