package sim

import "io"

const imageBlockSize = 512

// SparseImage is a disk image that only stores the blocks that were written
// to it; everything else reads as zeroes. FAT volume geometry is driven by
// cluster counts, so even a minimal FAT32 volume spans tens of megabytes,
// almost all of it zero filler that never needs backing memory.
type SparseImage struct {
	blocks map[int64][]byte
	size   int64
}

// NewSparseImage creates an all-zero image of the given size in bytes.
func NewSparseImage(size int64) *SparseImage {
	return &SparseImage{
		blocks: make(map[int64][]byte),
		size:   size,
	}
}

// Size returns the image size in bytes.
func (s *SparseImage) Size() int64 {
	return s.size
}

// WriteAt implements io.WriterAt.
func (s *SparseImage) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > s.size {
		return 0, io.ErrShortWrite
	}

	for n := 0; n < len(p); {
		blk := (off + int64(n)) / imageBlockSize
		blkOff := int((off + int64(n)) % imageBlockSize)

		buf, ok := s.blocks[blk]
		if !ok {
			buf = make([]byte, imageBlockSize)
			s.blocks[blk] = buf
		}

		n += copy(buf[blkOff:], p[n:])
	}

	return len(p), nil
}

// ReadAt implements io.ReaderAt.
func (s *SparseImage) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= s.size {
		return 0, io.EOF
	}

	total := len(p)
	if max := s.size - off; int64(total) > max {
		total = int(max)
	}

	for n := 0; n < total; {
		blk := (off + int64(n)) / imageBlockSize
		blkOff := int((off + int64(n)) % imageBlockSize)

		buf, ok := s.blocks[blk]
		if !ok {
			// Unwritten block, reads as zeroes.
			end := n + imageBlockSize - blkOff
			if end > total {
				end = total
			}
			for i := n; i < end; i++ {
				p[i] = 0
			}
			n = end
			continue
		}

		n += copy(p[n:total], buf[blkOff:])
	}

	if total < len(p) {
		return total, io.EOF
	}
	return total, nil
}
