// Package selfupdate drives the manifest-described synchronisation of
// a local installation directory: for each entry it decides whether to
// leave the installed file alone, patch it with a BSDIFF40 delta, or
// replace it with a fresh compressed download, validating every
// artifact by SHA-1 digest along the way.
//
// Processing is single-threaded and synchronous: every HTTP call,
// every file read/write/rename and every bzip2 decode blocks the
// caller, and manifest entries are visited strictly in the order
// declared in the source document. There is no internal concurrency
// and no locking of the install/cache directories.
package selfupdate

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dsnet/compress/bzip2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/FelixBucket/shticker-book-unwritten/bspatch"
	"github.com/FelixBucket/shticker-book-unwritten/config"
	"github.com/FelixBucket/shticker-book-unwritten/digest"
	"github.com/FelixBucket/shticker-book-unwritten/errs"
	"github.com/FelixBucket/shticker-book-unwritten/manifest"
)

// DefaultArch is the architecture tag this build is matched against in
// a manifest entry's "only" list.
const DefaultArch = "linux2"

// defaultMaxTries is how many times downloadFile retries a download
// whose digest doesn't match before giving up.
const defaultMaxTries = 5

// Updater holds the configuration and collaborators for one update run.
type Updater struct {
	Config    config.Config
	Requester Requester
	Arch      string
}

// NewUpdater builds an Updater with the default HTTP requester and the
// build's architecture constant.
func NewUpdater(cfg config.Config) *Updater {
	return &Updater{
		Config:    cfg,
		Requester: newHTTPRequester(),
		Arch:      DefaultArch,
	}
}

// Update fetches the manifest and, for every entry in manifest key
// order, applies the per-file decision described in SPEC_FULL.md §4.3:
// skip on architecture mismatch, no-op on matching hash, patch against
// a known predecessor, or a full re-download.
func (u *Updater) Update(ctx context.Context) error {
	m, order, err := u.fetchManifest(ctx)
	if err != nil {
		return err
	}

	for i, fileName := range order {
		entry := m[fileName]
		logger := log.WithField("file", fileName).WithField("step", fmt.Sprintf("%d/%d", i+1, len(order)))
		logger.Debug("checking for updates")

		if err := entry.Validate(fileName); err != nil {
			return err
		}

		if !entry.SupportsArch(u.Arch) {
			logger.WithField("arch", u.Arch).Debug("not supported by this architecture, skipping")
			continue
		}

		installedPath := filepath.Join(u.Config.InstallDir, fileName)
		existing, openErr := os.Open(installedPath)
		switch {
		case openErr == nil:
			err := u.updateExistingFile(ctx, existing, entry, fileName, installedPath)
			closeErr := existing.Close()
			if err != nil {
				return errors.Wrapf(err, "updating %q", fileName)
			}
			if closeErr != nil {
				return errs.ClassifyIOError(closeErr)
			}
		case os.IsNotExist(openErr):
			logger.Debug("file doesn't exist, downloading from scratch")
			if err := u.downloadFromScratch(ctx, entry, fileName); err != nil {
				return errors.Wrapf(err, "downloading %q from scratch", fileName)
			}
		case os.IsPermission(openErr):
			return &errs.PermissionDenied{Cause: openErr}
		default:
			return &errs.UnknownIoError{Cause: openErr}
		}
	}

	return nil
}

// updateExistingFile implements SPEC_FULL.md §4.3.2.
func (u *Updater) updateExistingFile(
	ctx context.Context,
	existing *os.File,
	entry manifest.FileEntry,
	fileName string,
	installedPath string,
) error {
	logger := log.WithField("file", fileName)
	logger.Debug("file exists, checking SHA1 hash")

	initialSHA, err := digest.SHA1OfReader(existing)
	if err != nil {
		return err
	}

	manifestSHA, err := digest.HexToDigest(entry.Hash)
	if err != nil {
		return err
	}

	if initialSHA == manifestSHA {
		logger.Debug("SHA1 hash matches")
		return nil
	}

	logger.WithField("local", digest.DigestToHex(initialSHA)).
		WithField("manifest", digest.DigestToHex(manifestSHA)).
		Debug("SHA1 hash mismatch, checking for a patch")

	if entry.Patches == nil {
		return &errs.BadManifestFormat{
			Detail: fmt.Sprintf("%q: expected \"patches\" object", fileName),
		}
	}

	for srcHex, desc := range entry.Patches {
		srcSHA, err := digest.HexToDigest(srcHex)
		if err != nil {
			return err
		}
		if srcSHA != initialSHA {
			continue
		}

		logger.WithField("patch", desc.Filename).Debug("found a patch, downloading it")

		extractedName := desc.Filename + ".extracted"
		compPatchHash, err := digest.HexToDigest(desc.CompPatchHash)
		if err != nil {
			return err
		}
		patchHash, err := digest.HexToDigest(desc.PatchHash)
		if err != nil {
			return err
		}

		if err := u.downloadFile(ctx, true, desc.Filename, extractedName, compPatchHash, patchHash, defaultMaxTries); err != nil {
			return err
		}

		logger.Debug("applying patch")

		extractedPath := filepath.Join(u.Config.CacheDir, extractedName)
		if err := bspatch.PatchFile(extractedPath, installedPath); err != nil {
			return err
		}

		logger.Debug("file patched successfully")
		return nil
	}

	logger.Debug("no patches found, downloading from scratch")
	return u.downloadFromScratch(ctx, entry, fileName)
}

// downloadFromScratch implements SPEC_FULL.md §4.3.1.
func (u *Updater) downloadFromScratch(ctx context.Context, entry manifest.FileEntry, fileName string) error {
	compressedSHA, err := digest.HexToDigest(entry.CompHash)
	if err != nil {
		return err
	}
	decompressedSHA, err := digest.HexToDigest(entry.Hash)
	if err != nil {
		return err
	}
	return u.downloadFile(ctx, false, entry.DL, fileName, compressedSHA, decompressedSHA, defaultMaxTries)
}

// downloadFile implements SPEC_FULL.md §4.3.3: fetch the compressed
// artifact, verify it, decompress it, verify the result, retrying up
// to maxTries times on a digest mismatch. Transport and status errors
// are not retried; they abort the run immediately.
func (u *Updater) downloadFile(
	ctx context.Context,
	toCache bool,
	compressedName, decompressedName string,
	compDigest, decompDigest digest.Digest,
	maxTries int,
) error {
	dir := u.Config.InstallDir
	if toCache {
		dir = u.Config.CacheDir
	}
	dlURI := u.Config.CDNURI + compressedName
	compressedPath := filepath.Join(dir, compressedName)
	decompressedPath := filepath.Join(dir, decompressedName)

	logger := log.WithField("file", compressedName).WithField("url", dlURI)

	for attempt := 1; attempt <= maxTries; attempt++ {
		logger.WithField("attempt", fmt.Sprintf("%d/%d", attempt, maxTries)).Debug("downloading")

		if err := fetchToFile(ctx, u.Requester, dlURI, compressedPath); err != nil {
			return err
		}

		dledSHA, err := sha1OfFile(compressedPath)
		if err != nil {
			return err
		}
		if dledSHA != compDigest {
			logger.WithField("local", digest.DigestToHex(dledSHA)).
				WithField("manifest", digest.DigestToHex(compDigest)).
				Warn("SHA1 hash mismatch, re-downloading")
			continue
		}

		logger.Debug("SHA1 hash matches, extracting")
		if err := decompressFile(compressedPath, decompressedPath); err != nil {
			return err
		}

		extractedSHA, err := sha1OfFile(decompressedPath)
		if err != nil {
			return err
		}
		if extractedSHA != decompDigest {
			logger.WithField("local", digest.DigestToHex(extractedSHA)).
				WithField("manifest", digest.DigestToHex(decompDigest)).
				Warn("SHA1 hash mismatch of extracted file, re-downloading")
			continue
		}

		logger.Debug("SHA1 hash matches")
		return nil
	}

	// Preserve original_source/src/update.rs's behaviour: exhausting
	// max_tries without a match is not a hard error, only a warning
	// (see SPEC_FULL.md §7 and DESIGN.md, "Silent post-retry mismatch").
	log.WithField("file", compressedName).
		WithField("tries", maxTries).
		Warn((&errs.DigestMismatchAfterRetries{FileName: compressedName, Tries: maxTries}).Error())
	return nil
}

func (u *Updater) fetchManifest(ctx context.Context) (manifest.Manifest, []string, error) {
	resp, err := u.Requester.Fetch(ctx, u.Config.ManifestURI)
	if err != nil {
		return nil, nil, &errs.ManifestRequestError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, &errs.ManifestRequestStatusError{Status: resp.StatusCode}
	}

	return manifest.Decode(resp.Body)
}

func fetchToFile(ctx context.Context, r Requester, url, destPath string) error {
	resp, err := r.Fetch(ctx, url)
	if err != nil {
		return &errs.DownloadRequestError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &errs.DownloadRequestStatusError{Status: resp.StatusCode}
	}

	out, err := os.Create(destPath)
	if err != nil {
		return errs.ClassifyIOError(err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return &errs.CopyIntoFileError{Cause: err}
	}
	return nil
}

func decompressFile(compressedPath, decompressedPath string) error {
	in, err := os.Open(compressedPath)
	if err != nil {
		return errs.ClassifyIOError(err)
	}
	defer in.Close()

	bz, err := bzip2.NewReader(in, nil)
	if err != nil {
		return &errs.DecodeError{Cause: err}
	}
	defer bz.Close()

	out, err := os.Create(decompressedPath)
	if err != nil {
		return errs.ClassifyIOError(err)
	}
	defer out.Close()

	if _, err := io.Copy(out, bz); err != nil {
		return &errs.DecodeError{Cause: err}
	}
	return nil
}

func sha1OfFile(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return digest.Digest{}, errs.ClassifyIOError(err)
	}
	defer f.Close()
	return digest.SHA1OfReader(f)
}
