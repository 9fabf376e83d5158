// Command shticker-book-unwritten synchronises a local installation
// directory against a remote manifest, applying binary patches where
// possible and falling back to full compressed downloads otherwise.
package main

import (
	"context"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/FelixBucket/shticker-book-unwritten/config"
	"github.com/FelixBucket/shticker-book-unwritten/selfupdate"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.WithError(err).Error("update failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg config.Config
	var verbose bool

	cmd := &cobra.Command{
		Use:   "shticker-book-unwritten",
		Short: "Synchronise a local install directory against a remote manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				log.SetLevel(log.DebugLevel)
			}

			if cfg.InstallDir == "" || cfg.CacheDir == "" || cfg.ManifestURI == "" || cfg.CDNURI == "" {
				return errors.New("install-dir, cache-dir, manifest-uri and cdn-uri are all required")
			}

			for _, dir := range []string{cfg.InstallDir, cfg.CacheDir} {
				if err := os.MkdirAll(dir, 0o777); err != nil {
					return errors.Wrapf(err, "creating directory %q", dir)
				}
			}

			u := selfupdate.NewUpdater(cfg)
			return u.Update(context.Background())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.InstallDir, "install-dir", "", "directory the synced files are installed into")
	flags.StringVar(&cfg.CacheDir, "cache-dir", "", "directory used to stage patch downloads")
	flags.StringVar(&cfg.ManifestURI, "manifest-uri", "", "full URI of the JSON update manifest")
	flags.StringVar(&cfg.CDNURI, "cdn-uri", "", "base URI artifact filenames are appended to")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	return cmd
}
