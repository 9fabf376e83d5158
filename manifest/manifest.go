// Package manifest defines the JSON schema of the remote update
// manifest and the validation that turns a raw JSON decode into a
// value the update driver can trust.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/FelixBucket/shticker-book-unwritten/errs"
)

// PatchDescriptor names a compressed BSDIFF40 patch that carries a file
// from one known prior digest to the entry's current hash.
type PatchDescriptor struct {
	Filename      string `json:"filename"`
	CompPatchHash string `json:"compPatchHash"`
	PatchHash     string `json:"patchHash"`
}

// FileEntry is one logical file's worth of manifest data.
type FileEntry struct {
	Only     []string                   `json:"only"`
	DL       string                     `json:"dl"`
	CompHash string                     `json:"compHash"`
	Hash     string                     `json:"hash"`
	Patches  map[string]PatchDescriptor `json:"patches"`
}

// Manifest is the top-level document: install-relative filename to
// FileEntry.
//
// encoding/json decodes object keys into a Go map, which does not
// preserve declaration order; Decode below also returns the original
// key order so callers can iterate deterministically, matching
// spec.md's "in the manifest's key order".
type Manifest map[string]FileEntry

// Decode parses r as a JSON object into a Manifest, along with the
// order its keys appeared in the source document. It fails with
// BadManifestFormat if the top-level value isn't a JSON object, and
// DeserializeError on any other JSON syntax error.
func Decode(r io.Reader) (Manifest, []string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, &errs.DeserializeError{Cause: err}
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		if ute, ok := err.(*json.UnmarshalTypeError); ok {
			return nil, nil, &errs.BadManifestFormat{
				Detail: fmt.Sprintf("unexpected JSON %s where %s was expected", ute.Value, ute.Type),
			}
		}
		return nil, nil, &errs.DeserializeError{Cause: err}
	}

	order, err := keyOrder(raw)
	if err != nil {
		return nil, nil, err
	}

	return m, order, nil
}

// keyOrder walks the raw JSON just far enough to recover the top-level
// object's key order, which encoding/json's map-based decode discards.
func keyOrder(raw []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, &errs.DeserializeError{Cause: err}
	}
	if _, ok := tok.(json.Delim); !ok || tok.(json.Delim) != '{' {
		return nil, &errs.BadManifestFormat{
			Detail: "top-level value is not an object",
		}
	}

	var order []string
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, &errs.DeserializeError{Cause: err}
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, &errs.BadManifestFormat{
				Detail: "expected string key in top-level object",
			}
		}
		order = append(order, key)

		var discard json.RawMessage
		if err := dec.Decode(&discard); err != nil {
			return nil, &errs.DeserializeError{Cause: err}
		}
	}
	return order, nil
}

// Validate checks that entry carries every field the update driver
// needs, returning a BadManifestFormat describing the first problem
// found.
func (e FileEntry) Validate(fileName string) error {
	if len(e.Only) == 0 {
		return &errs.BadManifestFormat{
			Detail: fmt.Sprintf("%q: missing or empty \"only\"", fileName),
		}
	}
	if e.DL == "" {
		return &errs.BadManifestFormat{
			Detail: fmt.Sprintf("%q: missing \"dl\"", fileName),
		}
	}
	if e.CompHash == "" {
		return &errs.BadManifestFormat{
			Detail: fmt.Sprintf("%q: missing \"compHash\"", fileName),
		}
	}
	if e.Hash == "" {
		return &errs.BadManifestFormat{
			Detail: fmt.Sprintf("%q: missing \"hash\"", fileName),
		}
	}
	return nil
}

// SupportsArch reports whether arch appears in entry.Only.
func (e FileEntry) SupportsArch(arch string) bool {
	for _, a := range e.Only {
		if a == arch {
			return true
		}
	}
	return false
}
