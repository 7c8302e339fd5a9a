package object

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// zstdMagic opens every zstd frame. Loose objects begin with their type
// name otherwise, so the two cannot be confused.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Store is a content-addressed object store with a 2-character fan-out
// directory layout: objects/ab/cdef0123...
//
// While a staging area is open (see BeginStaging), new objects are written
// below tmp/txn-<id>/objects instead and only become part of objects/ when
// Promote succeeds.
type Store struct {
	root     string
	compress bool
	level    zstd.EncoderLevel
	staging  string
}

// NewStore creates a Store rooted at the given directory. The objects/ and
// tmp/ subdirectories are created lazily on first write.
func NewStore(root string) *Store {
	return &Store{root: root, level: zstd.SpeedDefault}
}

// SetCompression enables or disables zstd compression of newly written
// loose objects. level follows zstd's numeric levels (1 fastest .. 22).
// Reads handle both forms regardless of this setting.
func (s *Store) SetCompression(enabled bool, level int) {
	s.compress = enabled
	if level > 0 {
		s.level = zstd.EncoderLevelFromZstd(level)
	}
}

// objectPath returns the filesystem path for a committed object.
func (s *Store) objectPath(h Hash) string {
	return filepath.Join(s.root, "objects", string(h[:2]), string(h[2:]))
}

// stagedPath returns the filesystem path for an object in the open staging
// area, or "" when no staging area is open.
func (s *Store) stagedPath(h Hash) string {
	if s.staging == "" {
		return ""
	}
	return filepath.Join(s.staging, "objects", string(h[:2]), string(h[2:]))
}

// writePath is where a new object with hash h lands.
func (s *Store) writePath(h Hash) string {
	if p := s.stagedPath(h); p != "" {
		return p
	}
	return s.objectPath(h)
}

// locate returns the path of an existing object, preferring the staging
// area.
func (s *Store) locate(h Hash) (string, error) {
	if len(h) < 3 {
		return "", fmt.Errorf("object %q: malformed hash", h)
	}
	if p := s.stagedPath(h); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	p := s.objectPath(h)
	if _, err := os.Stat(p); err != nil {
		return "", err
	}
	return p, nil
}

// Has reports whether the store contains an object with the given hash,
// either committed or staged.
func (s *Store) Has(h Hash) bool {
	_, err := s.locate(h)
	return err == nil
}

// Write stores an in-memory object and returns its content hash.
func (s *Store) Write(ctx context.Context, objType ObjectType, data []byte) (Hash, error) {
	return s.WriteStream(ctx, objType, int64(len(data)), bytes.NewReader(data))
}

// WriteStream stores an object whose payload of exactly size bytes is read
// from r. The payload is hashed while it is copied to a temp file, which is
// then renamed into place. Objects that already exist are not rewritten.
func (s *Store) WriteStream(ctx context.Context, objType ObjectType, size int64, r io.Reader) (Hash, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("object write: %w", err)
	}

	tmpDir := filepath.Join(s.root, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("object write mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(tmpDir, ".obj-*")
	if err != nil {
		return "", fmt.Errorf("object write tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	h, err := s.copyObject(ctx, tmp, objType, size, r)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("object write close: %w", closeErr)
	}
	if err != nil {
		os.Remove(tmpName)
		return "", err
	}

	// Fast path: already exists.
	if s.Has(h) {
		os.Remove(tmpName)
		return h, nil
	}

	dest := s.writePath(h)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("object write mkdir: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("object write rename: %w", err)
	}
	return h, nil
}

func (s *Store) copyObject(ctx context.Context, dst io.Writer, objType ObjectType, size int64, r io.Reader) (Hash, error) {
	var sink io.Writer = dst
	var zw *zstd.Encoder
	if s.compress {
		var err error
		zw, err = zstd.NewWriter(dst, zstd.WithEncoderLevel(s.level))
		if err != nil {
			return "", fmt.Errorf("object write compress: %w", err)
		}
		sink = zw
	}

	hasher := newObjectHasher(objType, size)
	n, err := writeEnvelope(ctx, sink, hasher, objType, size, r)
	if zw != nil {
		if closeErr := zw.Close(); err == nil && closeErr != nil {
			err = fmt.Errorf("object write compress: %w", closeErr)
		}
	}
	if err != nil {
		return "", err
	}
	if n != size {
		return "", fmt.Errorf("object write: short payload (%d of %d bytes)", n, size)
	}
	return Hash(hex.EncodeToString(hasher.Sum(nil))), nil
}

func writeEnvelope(ctx context.Context, sink, hasher io.Writer, objType ObjectType, size int64, r io.Reader) (int64, error) {
	if _, err := sink.Write(envelope(objType, size)); err != nil {
		return 0, fmt.Errorf("object write: %w", err)
	}
	n, err := io.Copy(io.MultiWriter(sink, hasher), io.LimitReader(&contextReader{ctx: ctx, r: r}, size))
	if err != nil {
		return n, fmt.Errorf("object write: %w", err)
	}
	return n, nil
}

// Open retrieves an object by hash as a stream. It returns the object type,
// the payload size, and a reader positioned at the start of the payload.
func (s *Store) Open(h Hash) (ObjectType, int64, io.ReadCloser, error) {
	p, err := s.locate(h)
	if err != nil {
		return "", 0, nil, fmt.Errorf("object read %s: %w", h, err)
	}
	f, err := os.Open(p)
	if err != nil {
		return "", 0, nil, fmt.Errorf("object read %s: %w", h, err)
	}

	br := bufio.NewReader(f)
	src := br
	var dec *zstd.Decoder
	if magic, _ := br.Peek(len(zstdMagic)); bytes.Equal(magic, zstdMagic) {
		dec, err = zstd.NewReader(br, zstd.WithDecoderConcurrency(1))
		if err != nil {
			f.Close()
			return "", 0, nil, fmt.Errorf("object read %s: %w", h, err)
		}
		src = bufio.NewReader(dec)
	}
	closer := &objectReader{f: f, dec: dec}

	// Parse envelope: "type len\0content"
	header, err := src.ReadString(0)
	if err != nil {
		closer.Close()
		return "", 0, nil, fmt.Errorf("object read %s: invalid format (no NUL)", h)
	}
	header = strings.TrimSuffix(header, "\x00")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		closer.Close()
		return "", 0, nil, fmt.Errorf("object read %s: invalid header %q", h, header)
	}
	length, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		closer.Close()
		return "", 0, nil, fmt.Errorf("object read %s: invalid length %q: %w", h, parts[1], err)
	}
	closer.r = io.LimitReader(src, length)
	return ObjectType(parts[0]), length, closer, nil
}

// Read retrieves an object by hash, returning its type and raw content.
func (s *Store) Read(h Hash) (ObjectType, []byte, error) {
	objType, length, rc, err := s.Open(h)
	if err != nil {
		return "", nil, err
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		return "", nil, fmt.Errorf("object read %s: %w", h, err)
	}
	if int64(len(content)) != length {
		return "", nil, fmt.Errorf("object read %s: length mismatch (header=%d, actual=%d)", h, length, len(content))
	}
	return objType, content, nil
}

type objectReader struct {
	f   *os.File
	dec *zstd.Decoder
	r   io.Reader
}

func (o *objectReader) Read(p []byte) (int, error) {
	return o.r.Read(p)
}

func (o *objectReader) Close() error {
	if o.dec != nil {
		o.dec.Close()
	}
	return o.f.Close()
}

// contextReader fails reads once ctx is done, so long copies observe
// cancellation between chunks.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// ---------------------------------------------------------------------------
// Staging
// ---------------------------------------------------------------------------

// BeginStaging opens a staging area named after id. Until Promote or
// Discard, every new object is written into it.
func (s *Store) BeginStaging(id string) error {
	if s.staging != "" {
		return fmt.Errorf("begin staging: staging area %s already open", filepath.Base(s.staging))
	}
	dir := filepath.Join(s.root, "tmp", "txn-"+id)
	if err := os.MkdirAll(filepath.Join(dir, "objects"), 0o755); err != nil {
		return fmt.Errorf("begin staging: %w", err)
	}
	s.staging = dir
	return nil
}

// Staging reports whether a staging area is open.
func (s *Store) Staging() bool {
	return s.staging != ""
}

// Promote moves every staged object into objects/ and closes the staging
// area. It returns the number of objects that were new to the store. On
// error the staging area stays open so the caller can Discard it.
func (s *Store) Promote(ctx context.Context) (int, error) {
	if s.staging == "" {
		return 0, fmt.Errorf("promote: no staging area open")
	}
	stagedObjects := filepath.Join(s.staging, "objects")
	fanouts, err := os.ReadDir(stagedObjects)
	if err != nil {
		return 0, fmt.Errorf("promote: %w", err)
	}

	promoted := 0
	for _, fan := range fanouts {
		if !fan.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(stagedObjects, fan.Name()))
		if err != nil {
			return promoted, fmt.Errorf("promote: %w", err)
		}
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return promoted, fmt.Errorf("promote: %w", err)
			}
			h := Hash(fan.Name() + e.Name())
			src := filepath.Join(stagedObjects, fan.Name(), e.Name())
			dest := s.objectPath(h)
			if _, err := os.Stat(dest); err == nil {
				continue
			}
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return promoted, fmt.Errorf("promote: mkdir: %w", err)
			}
			if err := os.Rename(src, dest); err != nil {
				return promoted, fmt.Errorf("promote %s: %w", h, err)
			}
			promoted++
		}
	}

	if err := os.RemoveAll(s.staging); err != nil {
		return promoted, fmt.Errorf("promote: cleanup: %w", err)
	}
	s.staging = ""
	return promoted, nil
}

// Discard drops the staging area and everything written into it. It is a
// no-op when no staging area is open.
func (s *Store) Discard() error {
	if s.staging == "" {
		return nil
	}
	dir := s.staging
	s.staging = ""
	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("discard staging: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Typed convenience methods
// ---------------------------------------------------------------------------

// WriteFile stores a file object built from hdr and size bytes of content.
func (s *Store) WriteFile(ctx context.Context, hdr *FileHeader, size int64, content io.Reader) (Hash, error) {
	prefix, err := fileHeaderPrefix(hdr)
	if err != nil {
		return "", err
	}
	if content == nil {
		content = bytes.NewReader(nil)
	}
	total := int64(len(prefix)) + size
	return s.WriteStream(ctx, TypeFile, total, io.MultiReader(bytes.NewReader(prefix), content))
}

// OpenFile reads a file object's header and returns a reader over its
// content along with the content size.
func (s *Store) OpenFile(h Hash) (*FileHeader, int64, io.ReadCloser, error) {
	objType, length, rc, err := s.Open(h)
	if err != nil {
		return nil, 0, nil, err
	}
	if objType != TypeFile {
		rc.Close()
		return nil, 0, nil, fmt.Errorf("object %s: type mismatch: got %q, want %q", h, objType, TypeFile)
	}
	hdr, consumed, err := readFileHeaderPrefix(rc)
	if err != nil {
		rc.Close()
		return nil, 0, nil, fmt.Errorf("object %s: %w", h, err)
	}
	return hdr, length - consumed, rc, nil
}

// WriteDirMeta serializes and stores a DirMeta.
func (s *Store) WriteDirMeta(ctx context.Context, m *DirMeta) (Hash, error) {
	data, err := MarshalDirMeta(m)
	if err != nil {
		return "", err
	}
	return s.Write(ctx, TypeDirMeta, data)
}

// ReadDirMeta reads and deserializes a DirMeta.
func (s *Store) ReadDirMeta(h Hash) (*DirMeta, error) {
	data, err := s.readTyped(h, TypeDirMeta)
	if err != nil {
		return nil, err
	}
	return UnmarshalDirMeta(data)
}

// WriteDirTree serializes and stores a DirTree.
func (s *Store) WriteDirTree(ctx context.Context, t *DirTree) (Hash, error) {
	data, err := MarshalDirTree(t)
	if err != nil {
		return "", err
	}
	return s.Write(ctx, TypeDirTree, data)
}

// ReadDirTree reads and deserializes a DirTree.
func (s *Store) ReadDirTree(h Hash) (*DirTree, error) {
	data, err := s.readTyped(h, TypeDirTree)
	if err != nil {
		return nil, err
	}
	return UnmarshalDirTree(data)
}

// WriteCommit serializes and stores a CommitObj.
func (s *Store) WriteCommit(ctx context.Context, c *CommitObj) (Hash, error) {
	data, err := MarshalCommit(c)
	if err != nil {
		return "", err
	}
	return s.Write(ctx, TypeCommit, data)
}

// ReadCommit reads and deserializes a CommitObj.
func (s *Store) ReadCommit(h Hash) (*CommitObj, error) {
	data, err := s.readTyped(h, TypeCommit)
	if err != nil {
		return nil, err
	}
	return UnmarshalCommit(data)
}

func (s *Store) readTyped(h Hash, want ObjectType) ([]byte, error) {
	objType, data, err := s.Read(h)
	if err != nil {
		return nil, err
	}
	if objType != want {
		return nil, fmt.Errorf("object %s: type mismatch: got %q, want %q", h, objType, want)
	}
	return data, nil
}
