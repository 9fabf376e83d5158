// Package errs defines the flat taxonomy of error kinds raised by the
// manifest, network, filesystem and patch-engine layers of the updater.
//
// Each kind that has an originating cause keeps it in a Cause field and
// returns it from Unwrap, so the standard errors.Unwrap/errors.Is/
// errors.As chain recovers the underlying error. The kinds implement no
// Cause() method, so pkg/errors.Cause stops at them.
package errs

import (
	"fmt"
	"os"
)

// ManifestRequestError wraps a transport-level failure fetching the manifest.
type ManifestRequestError struct{ Cause error }

func (e *ManifestRequestError) Error() string {
	return fmt.Sprintf("manifest request failed: %v", e.Cause)
}
func (e *ManifestRequestError) Unwrap() error { return e.Cause }

// ManifestRequestStatusError is returned when the manifest endpoint
// responds with a non-2xx status code.
type ManifestRequestStatusError struct{ Status int }

func (e *ManifestRequestStatusError) Error() string {
	return fmt.Sprintf("manifest request returned status %d", e.Status)
}

// DeserializeError wraps a JSON decode failure on the manifest body.
type DeserializeError struct{ Cause error }

func (e *DeserializeError) Error() string {
	return fmt.Sprintf("couldn't deserialize manifest: %v", e.Cause)
}
func (e *DeserializeError) Unwrap() error { return e.Cause }

// BadManifestFormat is returned when the manifest decodes as JSON but
// does not match the expected shape (missing key, wrong type, etc).
type BadManifestFormat struct{ Detail string }

func (e *BadManifestFormat) Error() string {
	return fmt.Sprintf("bad manifest format: %s", e.Detail)
}

// DownloadRequestError wraps a transport-level failure fetching an artifact.
type DownloadRequestError struct{ Cause error }

func (e *DownloadRequestError) Error() string {
	return fmt.Sprintf("download request failed: %v", e.Cause)
}
func (e *DownloadRequestError) Unwrap() error { return e.Cause }

// DownloadRequestStatusError is returned when a download responds with
// a non-2xx status code.
type DownloadRequestStatusError struct{ Status int }

func (e *DownloadRequestStatusError) Error() string {
	return fmt.Sprintf("download request returned status %d", e.Status)
}

// CopyIntoFileError wraps a failure streaming a response body to disk.
type CopyIntoFileError struct{ Cause error }

func (e *CopyIntoFileError) Error() string {
	return fmt.Sprintf("couldn't copy response into file: %v", e.Cause)
}
func (e *CopyIntoFileError) Unwrap() error { return e.Cause }

// PermissionDenied wraps an os.ErrPermission-class filesystem failure.
type PermissionDenied struct{ Cause error }

func (e *PermissionDenied) Error() string {
	return fmt.Sprintf("permission denied: %v", e.Cause)
}
func (e *PermissionDenied) Unwrap() error { return e.Cause }

// UnknownIoError wraps any filesystem failure not otherwise classified.
type UnknownIoError struct{ Cause error }

func (e *UnknownIoError) Error() string {
	return fmt.Sprintf("unknown io error: %v", e.Cause)
}
func (e *UnknownIoError) Unwrap() error { return e.Cause }

// FileReadError wraps a failure reading a fixed-size region (e.g. a
// patch header) from a file.
type FileReadError struct{ Cause error }

func (e *FileReadError) Error() string {
	return fmt.Sprintf("file read error: %v", e.Cause)
}
func (e *FileReadError) Unwrap() error { return e.Cause }

// FileReadFailure wraps a failure during streaming digest computation.
type FileReadFailure struct{ Cause error }

func (e *FileReadFailure) Error() string {
	return fmt.Sprintf("file read failure: %v", e.Cause)
}
func (e *FileReadFailure) Unwrap() error { return e.Cause }

// FileWriteError wraps a failure writing the patched file contents.
type FileWriteError struct{ Cause error }

func (e *FileWriteError) Error() string {
	return fmt.Sprintf("file write error: %v", e.Cause)
}
func (e *FileWriteError) Unwrap() error { return e.Cause }

// FileRenameError wraps a failure renaming the temporary file over the target.
type FileRenameError struct{ Cause error }

func (e *FileRenameError) Error() string {
	return fmt.Sprintf("file rename error: %v", e.Cause)
}
func (e *FileRenameError) Unwrap() error { return e.Cause }

// SeekError wraps a failure seeking one of the patch file's three handles.
type SeekError struct{ Cause error }

func (e *SeekError) Error() string {
	return fmt.Sprintf("seek error: %v", e.Cause)
}
func (e *SeekError) Unwrap() error { return e.Cause }

// DecodeError wraps a bzip2 stream decode failure.
type DecodeError struct{ Cause error }

func (e *DecodeError) Error() string {
	return fmt.Sprintf("bzip2 decode error: %v", e.Cause)
}
func (e *DecodeError) Unwrap() error { return e.Cause }

// BadPatchVersion is returned when a patch's magic bytes are not "BSDIFF40".
type BadPatchVersion struct{}

func (e *BadPatchVersion) Error() string { return "bad patch version (expected BSDIFF40)" }

// BadPatchSize is returned when a patch header's control/diff/newsize
// fields decode negative.
type BadPatchSize struct{}

func (e *BadPatchSize) Error() string { return "bad patch size (negative length field)" }

// PatchSanityCheckFail is returned when applying a control triple would
// write past the declared new-file size. Which identifies which of the
// two per-triple bounds checks failed (0: diff-string bound, 1: extra-string bound).
type PatchSanityCheckFail struct{ Which int }

func (e *PatchSanityCheckFail) Error() string {
	return fmt.Sprintf("patch sanity check failed (%d)", e.Which)
}

// BadHex is returned by the hex codec when a string isn't exactly 40
// hex characters, or contains a character outside 0-9a-fA-F.
type BadHex struct{ Detail string }

func (e *BadHex) Error() string { return fmt.Sprintf("bad hex: %s", e.Detail) }

// DigestMismatchAfterRetries marks the case where downloadFile exhausted
// max_tries without ever matching the expected digest. It is logged, not
// returned, to preserve the source's observed behaviour (see SPEC_FULL.md §7).
type DigestMismatchAfterRetries struct {
	FileName string
	Tries    int
}

func (e *DigestMismatchAfterRetries) Error() string {
	return fmt.Sprintf("digest mismatch for %s after %d attempts", e.FileName, e.Tries)
}

// ClassifyIOError maps a raw filesystem error to PermissionDenied or
// UnknownIoError, mirroring original_source/src/update.rs's io::ErrorKind match.
func ClassifyIOError(err error) error {
	if err == nil {
		return nil
	}
	if os.IsPermission(err) {
		return &PermissionDenied{Cause: err}
	}
	return &UnknownIoError{Cause: err}
}
