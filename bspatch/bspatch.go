// Package bspatch decodes and applies BSDIFF40 binary patches.
//
// File format:
//
//	offset  size    meaning
//	0       8       "BSDIFF40"
//	8       8       X = compressed length of control stream
//	16      8       Y = compressed length of diff stream
//	24      8       newsize = length of new file
//	32      X       bzip2(control triples)
//	32+X    Y       bzip2(diff stream)
//	32+X+Y  to EOF  bzip2(extra stream)
//
// The control stream is a sequence of triples (a, b, c) of 8-byte
// sign-magnitude integers: "add a bytes from the diff stream to a bytes
// of the old file; copy b bytes from the extra stream; seek the old
// file forward by the signed offset c".
package bspatch

import (
	"io"
	"os"

	"github.com/dsnet/compress/bzip2"

	"github.com/FelixBucket/shticker-book-unwritten/errs"
)

// magic is the fixed 8-byte header every BSDIFF40 patch starts with.
var magic = [8]byte{'B', 'S', 'D', 'I', 'F', 'F', '4', '0'}

const headerSize = 32

// PatchFile replaces the file at targetPath with the result of applying
// the BSDIFF40 patch at patchPath to the current contents of
// targetPath. The replacement is atomic: the new contents are written
// to targetPath+".tmp" and renamed over targetPath only once they have
// been fully materialised. On any failure the original target is left
// untouched.
func PatchFile(patchPath, targetPath string) error {
	newBytes, err := Apply(patchPath, targetPath)
	if err != nil {
		return err
	}

	tmpPath := targetPath + ".tmp"
	fd, err := os.Create(tmpPath)
	if err != nil {
		return errs.ClassifyIOError(err)
	}
	if _, err := fd.Write(newBytes); err != nil {
		fd.Close()
		return &errs.FileWriteError{Cause: err}
	}
	if err := fd.Close(); err != nil {
		return &errs.FileWriteError{Cause: err}
	}

	if err := os.Rename(tmpPath, targetPath); err != nil {
		return &errs.FileRenameError{Cause: err}
	}
	return nil
}

// Apply applies the BSDIFF40 patch at patchPath to the contents of
// oldPath and returns the resulting bytes. It materialises the new file
// fully in memory; see SPEC_FULL.md Non-goals for why this module does
// not stream the result.
func Apply(patchPath, oldPath string) ([]byte, error) {
	header, err := readHeader(patchPath)
	if err != nil {
		return nil, err
	}

	if header.magic != magic {
		return nil, &errs.BadPatchVersion{}
	}

	ctrlLen := offtin(header.raw[8:16])
	diffLen := offtin(header.raw[16:24])
	newSize := offtin(header.raw[24:32])
	if ctrlLen < 0 || diffLen < 0 || newSize < 0 {
		return nil, &errs.BadPatchSize{}
	}

	ctrlStream, err := openStream(patchPath, headerSize, ctrlLen)
	if err != nil {
		return nil, err
	}
	defer ctrlStream.Close()

	diffStream, err := openStream(patchPath, headerSize+ctrlLen, diffLen)
	if err != nil {
		return nil, err
	}
	defer diffStream.Close()

	extraStream, err := openStream(patchPath, headerSize+ctrlLen+diffLen, -1)
	if err != nil {
		return nil, err
	}
	defer extraStream.Close()

	old, err := os.ReadFile(oldPath)
	if err != nil {
		return nil, errs.ClassifyIOError(err)
	}
	oldSize := int64(len(old))

	newFile := make([]byte, int(newSize))

	var oldPos, newPos int64
	var triple [24]byte
	for newPos < newSize {
		if _, err := io.ReadFull(ctrlStream.r, triple[:]); err != nil {
			return nil, &errs.DecodeError{Cause: err}
		}
		a := offtin(triple[0:8])
		b := offtin(triple[8:16])
		c := offtin(triple[16:24])

		if newPos+a > newSize {
			return nil, &errs.PatchSanityCheckFail{Which: 0}
		}
		if _, err := io.ReadFull(diffStream.r, newFile[newPos:newPos+a]); err != nil {
			return nil, &errs.DecodeError{Cause: err}
		}
		for i := int64(0); i < a; i++ {
			if oldPos+i >= 0 && oldPos+i < oldSize {
				newFile[newPos+i] += old[oldPos+i]
			}
		}
		newPos += a
		oldPos += a

		if newPos+b > newSize {
			return nil, &errs.PatchSanityCheckFail{Which: 1}
		}
		if _, err := io.ReadFull(extraStream.r, newFile[newPos:newPos+b]); err != nil {
			return nil, &errs.DecodeError{Cause: err}
		}
		newPos += b
		oldPos += c
	}

	return newFile, nil
}

type patchHeader struct {
	raw   [headerSize]byte
	magic [8]byte
}

func readHeader(patchPath string) (patchHeader, error) {
	var h patchHeader
	f, err := os.Open(patchPath)
	if err != nil {
		return h, errs.ClassifyIOError(err)
	}
	defer f.Close()

	if _, err := io.ReadFull(f, h.raw[:]); err != nil {
		return h, &errs.FileReadError{Cause: err}
	}
	copy(h.magic[:], h.raw[:8])
	return h, nil
}

// stream wraps one of the three independently-seeked bzip2 decoders
// over the patch file, together with the *os.File handle backing it, so
// both can be released together.
type stream struct {
	f *os.File
	r io.Reader
}

func (s *stream) Close() error {
	return s.f.Close()
}

// openStream opens its own handle to the patch file, seeks it to
// offset, and wraps it in a bzip2 decoder. length bounds the readable
// region for the control and diff streams; pass -1 for the trailing
// extra stream, which runs to EOF.
func openStream(patchPath string, offset, length int64) (*stream, error) {
	f, err := os.Open(patchPath)
	if err != nil {
		return nil, errs.ClassifyIOError(err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, &errs.SeekError{Cause: err}
	}

	var r io.Reader = f
	if length >= 0 {
		r = io.LimitReader(f, length)
	}

	bz, err := bzip2.NewReader(r, nil)
	if err != nil {
		f.Close()
		return nil, &errs.DecodeError{Cause: err}
	}
	return &stream{f: f, r: bz}, nil
}

// offtin decodes an 8-byte little-endian sign-magnitude integer: the
// magnitude occupies the low 7 bits of the top byte plus all of bytes
// 0-6; the top bit of the top byte is an independent sign. Note this is
// not two's complement: 0x80 00 ... 00 decodes to -0, equal to 0.
func offtin(buf []byte) int64 {
	y := int64(buf[7] & 0x7f)
	y = y*256 + int64(buf[6])
	y = y*256 + int64(buf[5])
	y = y*256 + int64(buf[4])
	y = y*256 + int64(buf[3])
	y = y*256 + int64(buf[2])
	y = y*256 + int64(buf[1])
	y = y*256 + int64(buf[0])
	if buf[7]&0x80 != 0 {
		y = -y
	}
	return y
}
