package segment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/floorsight-data/floorsight/internal/fsutil"
)

// Clip container format: a 4-byte magic followed by frame records. Each
// record is an 8-byte big-endian unix-microsecond timestamp, a 4-byte
// big-endian payload length, and the opaque payload bytes.
var clipMagic = [4]byte{'F', 'S', 'C', '1'}

// MaxFramePayload bounds a single frame record. Reads rejecting larger
// lengths fail fast on corrupt files instead of allocating garbage.
const MaxFramePayload = 16 << 20

var ErrBadClip = errors.New("segment: malformed clip file")

// ClipWriter writes frames into a clip file.
type ClipWriter struct {
	w      io.WriteCloser
	frames int
}

func NewClipWriter(fsys fsutil.FileSystem, path string) (*ClipWriter, error) {
	f, err := fsys.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create clip %s: %w", path, err)
	}
	if _, err := f.Write(clipMagic[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("write clip header: %w", err)
	}
	return &ClipWriter{w: f}, nil
}

// WriteFrame appends one frame record.
func (c *ClipWriter) WriteFrame(ts time.Time, payload []byte) error {
	var hdr [12]byte
	binary.BigEndian.PutUint64(hdr[:8], uint64(ts.UnixMicro()))
	binary.BigEndian.PutUint32(hdr[8:], uint32(len(payload)))
	if _, err := c.w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := c.w.Write(payload); err != nil {
		return err
	}
	c.frames++
	return nil
}

// Frames returns the number of records written so far.
func (c *ClipWriter) Frames() int { return c.frames }

func (c *ClipWriter) Close() error { return c.w.Close() }

// ClipReader iterates the frame records of a clip file.
type ClipReader struct {
	r fs.File
}

func NewClipReader(fsys fsutil.FileSystem, path string) (*ClipReader, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}
	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil || magic != clipMagic {
		f.Close()
		return nil, ErrBadClip
	}
	return &ClipReader{r: f}, nil
}

// Next returns the next frame record, or io.EOF at the end of the clip.
func (c *ClipReader) Next() (time.Time, []byte, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		if err == io.EOF {
			return time.Time{}, nil, io.EOF
		}
		return time.Time{}, nil, ErrBadClip
	}
	ts := time.UnixMicro(int64(binary.BigEndian.Uint64(hdr[:8])))
	n := binary.BigEndian.Uint32(hdr[8:])
	if n > MaxFramePayload {
		return time.Time{}, nil, ErrBadClip
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return time.Time{}, nil, ErrBadClip
	}
	return ts, payload, nil
}

func (c *ClipReader) Close() error { return c.r.Close() }
