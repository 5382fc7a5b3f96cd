package container

import (
	"fmt"
	"hash"
	"hash/crc32"
	"io"
)

// graceEntrySize is the decompressed size below which the ratio check is
// skipped; tiny parts compress badly and would trip it.
const graceEntrySize = 100 * 1024

// countingReader counts bytes pulled from the compressed stream.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// guardReader enforces Limits on a decompressed part stream.
type guardReader struct {
	name       string
	r          io.Reader
	closer     io.Closer
	compressed func() int64
	limits     Limits

	read  int64
	crc   hash.Hash32
	want  uint32
	check bool
}

func (g *guardReader) Read(p []byte) (int, error) {
	n, err := g.r.Read(p)
	g.read += int64(n)
	if g.check && n > 0 {
		g.crc.Write(p[:n])
	}

	if g.limits.MaxEntrySize > 0 && g.read > g.limits.MaxEntrySize {
		return n, fmt.Errorf("%w: %s: decompressed size exceeds %d bytes", ErrZipBombSuspected, g.name, g.limits.MaxEntrySize)
	}
	if g.limits.MinInflateRatio > 0 && g.read > graceEntrySize {
		ratio := float64(g.compressed()) / float64(g.read)
		if ratio < g.limits.MinInflateRatio {
			return n, fmt.Errorf("%w: %s: compression ratio %.5f below minimum %.5f",
				ErrZipBombSuspected, g.name, ratio, g.limits.MinInflateRatio)
		}
	}

	if err == io.EOF && g.check && g.crc.Sum32() != g.want {
		return n, fmt.Errorf("%s: checksum mismatch", g.name)
	}
	return n, err
}

func (g *guardReader) Close() error {
	if g.closer == nil {
		return nil
	}
	return g.closer.Close()
}

func newGuardReader(name string, r io.Reader, closer io.Closer, compressed func() int64, limits Limits, crc uint32) *guardReader {
	g := &guardReader{
		name:       name,
		r:          r,
		closer:     closer,
		compressed: compressed,
		limits:     limits,
		want:       crc,
		check:      crc != 0,
	}
	if g.check {
		g.crc = crc32.NewIEEE()
	}
	return g
}
