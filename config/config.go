// Package config holds the configuration the update driver needs,
// taken explicitly by parameter rather than through process-wide
// state (see SPEC_FULL.md §2, "Configuration").
//
// Loading these values from flags, environment variables or a config
// file is the CLI layer's job (cmd/shticker-book-unwritten), not this
// package's.
package config

// Config is the set of paths and URIs an update run needs.
type Config struct {
	// InstallDir is where update artifacts are ultimately installed.
	InstallDir string
	// CacheDir is where intermediate patch downloads and extracted
	// patch blobs are staged.
	CacheDir string
	// ManifestURI is the full URI of the JSON manifest document.
	ManifestURI string
	// CDNURI is the prefix to which a manifest entry's dl/filename
	// value is appended to form the download URL.
	CDNURI string
}
