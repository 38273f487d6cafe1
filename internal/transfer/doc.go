// Package transfer downloads objects from a storage.Source onto a local
// filesystem.
//
// Each call to Engine.Download is asynchronous and yields exactly one Result.
// The number of transfers running at once is bounded by Options.Parallelism.
// Objects larger than Options.ChunkSize are fetched as parallel range reads
// written in place; every range is retried independently.
//
// Two conditions end a transfer without moving data:
//
//   - ErrTransferAlreadyExists: another transfer to the same destination is in flight.
//   - ErrNotOverwriteExisting: the destination exists and the request's
//     ShouldOverwrite callback declined to replace it.
//
// Data is written to a temporary file beside the destination and renamed into
// place once complete, so a failed transfer never leaves a partial file under
// the destination name. Content checksums are not computed.
package transfer
