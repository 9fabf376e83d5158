// Package digest computes and codes the SHA-1 digests used throughout
// the manifest to identify file contents.
package digest

import (
	"crypto/sha1"
	"fmt"
	"io"

	"github.com/FelixBucket/shticker-book-unwritten/errs"
)

// Size is the length in bytes of a digest.
const Size = sha1.Size

// Digest is a 20-byte SHA-1 hash.
type Digest [Size]byte

// bufferSize is the fixed 8 KiB chunk size SHA1OfReader reads in.
const bufferSize = 0x2000

// SHA1OfReader reads r until EOF in fixed-size chunks and returns the
// SHA-1 of everything read. It fails only on a read error.
func SHA1OfReader(r io.Reader) (Digest, error) {
	var d Digest
	h := sha1.New()
	buf := make([]byte, bufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return d, &errs.FileReadFailure{Cause: err}
		}
	}
	copy(d[:], h.Sum(nil))
	return d, nil
}

// HexToDigest parses a 40-character hex string into a Digest. Each pair
// of characters forms one byte, high nibble first. Any character
// outside 0-9a-fA-F, or a string of the wrong length, is an error.
func HexToDigest(s string) (Digest, error) {
	var d Digest
	if len(s) != 2*Size {
		return d, &errs.BadHex{
			Detail: fmt.Sprintf("expected a 40-character hex digest, got %d characters", len(s)),
		}
	}
	for i := 0; i < len(s); i++ {
		nibble, err := hexNibble(s[i])
		if err != nil {
			return d, err
		}
		if i%2 == 0 {
			d[i/2] |= nibble << 4
		} else {
			d[i/2] |= nibble
		}
	}
	return d, nil
}

// DigestToHex renders a Digest as a lowercase 40-character hex string,
// the inverse of HexToDigest.
func DigestToHex(d Digest) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 2*Size)
	for i, b := range d {
		buf[2*i] = hexDigits[b>>4]
		buf[2*i+1] = hexDigits[b&0x0f]
	}
	return string(buf)
}

func hexNibble(b byte) (byte, error) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', nil
	case b >= 'a' && b <= 'f':
		return b - 'a' + 0x0a, nil
	case b >= 'A' && b <= 'F':
		return b - 'A' + 0x0a, nil
	default:
		return 0, &errs.BadHex{
			Detail: fmt.Sprintf("unexpected character in hex digest string: %q", b),
		}
	}
}
