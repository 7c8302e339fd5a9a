package object

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// maxFileHeaderSize bounds the header length prefix of a file object so a
// corrupt object cannot force a huge allocation.
const maxFileHeaderSize = 16 << 20

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2): sorted map keys,
// smallest integer encoding, no indefinite-length items. The same logical
// value always produces the same bytes, which is what keeps checksums stable.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.NilContainers = cbor.NilContainerAsEmpty
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("object: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("object: CBOR decoder initialization failed: " + err.Error())
	}
}

func sortedXattrs(xattrs []Xattr) []Xattr {
	if len(xattrs) == 0 {
		return nil
	}
	out := make([]Xattr, len(xattrs))
	copy(out, xattrs)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ---------------------------------------------------------------------------
// File
// ---------------------------------------------------------------------------

// MarshalFileHeader serializes a FileHeader with xattrs in name order.
func MarshalFileHeader(h *FileHeader) ([]byte, error) {
	canon := *h
	canon.Xattrs = sortedXattrs(h.Xattrs)
	data, err := encMode.Marshal(&canon)
	if err != nil {
		return nil, fmt.Errorf("marshal file header: %w", err)
	}
	return data, nil
}

// UnmarshalFileHeader parses a FileHeader.
func UnmarshalFileHeader(data []byte) (*FileHeader, error) {
	var h FileHeader
	if err := decMode.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("unmarshal file header: %w", err)
	}
	return &h, nil
}

// fileHeaderPrefix returns the bytes that precede the content in a file
// object payload: a 4-byte big-endian header length and the header itself.
func fileHeaderPrefix(h *FileHeader) ([]byte, error) {
	hdr, err := MarshalFileHeader(h)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 4+len(hdr))
	binary.BigEndian.PutUint32(out, uint32(len(hdr)))
	copy(out[4:], hdr)
	return out, nil
}

// readFileHeaderPrefix consumes the header prefix of a file object payload
// from r, leaving r positioned at the start of the content. It returns the
// header and the number of payload bytes consumed.
func readFileHeaderPrefix(r io.Reader) (*FileHeader, int64, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, 0, fmt.Errorf("read file header length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFileHeaderSize {
		return nil, 0, fmt.Errorf("read file header: length %d exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, 0, fmt.Errorf("read file header: %w", err)
	}
	h, err := UnmarshalFileHeader(buf)
	if err != nil {
		return nil, 0, err
	}
	return h, int64(4 + n), nil
}

// ---------------------------------------------------------------------------
// DirMeta
// ---------------------------------------------------------------------------

// MarshalDirMeta serializes a DirMeta with xattrs in name order.
func MarshalDirMeta(m *DirMeta) ([]byte, error) {
	canon := *m
	canon.Xattrs = sortedXattrs(m.Xattrs)
	data, err := encMode.Marshal(&canon)
	if err != nil {
		return nil, fmt.Errorf("marshal dirmeta: %w", err)
	}
	return data, nil
}

// UnmarshalDirMeta parses a DirMeta.
func UnmarshalDirMeta(data []byte) (*DirMeta, error) {
	var m DirMeta
	if err := decMode.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal dirmeta: %w", err)
	}
	return &m, nil
}

// ---------------------------------------------------------------------------
// DirTree
// ---------------------------------------------------------------------------

// MarshalDirTree serializes a DirTree. Files and subdirectories are each
// sorted by name, so two trees with the same entries always produce the same
// bytes regardless of the order they were added in.
func MarshalDirTree(t *DirTree) ([]byte, error) {
	files := make([]TreeFile, len(t.Files))
	copy(files, t.Files)
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	dirs := make([]TreeDir, len(t.Dirs))
	copy(dirs, t.Dirs)
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name < dirs[j].Name })

	for i := 1; i < len(files); i++ {
		if files[i].Name == files[i-1].Name {
			return nil, fmt.Errorf("marshal dirtree: duplicate file %q", files[i].Name)
		}
	}
	for i := 1; i < len(dirs); i++ {
		if dirs[i].Name == dirs[i-1].Name {
			return nil, fmt.Errorf("marshal dirtree: duplicate dir %q", dirs[i].Name)
		}
	}

	data, err := encMode.Marshal(&DirTree{Files: files, Dirs: dirs})
	if err != nil {
		return nil, fmt.Errorf("marshal dirtree: %w", err)
	}
	return data, nil
}

// UnmarshalDirTree parses a DirTree.
func UnmarshalDirTree(data []byte) (*DirTree, error) {
	var t DirTree
	if err := decMode.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal dirtree: %w", err)
	}
	return &t, nil
}

// ---------------------------------------------------------------------------
// CommitObj
// ---------------------------------------------------------------------------

// MarshalCommit serializes a CommitObj.
func MarshalCommit(c *CommitObj) ([]byte, error) {
	data, err := encMode.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal commit: %w", err)
	}
	return data, nil
}

// UnmarshalCommit parses a CommitObj.
func UnmarshalCommit(data []byte) (*CommitObj, error) {
	var c CommitObj
	if err := decMode.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal commit: %w", err)
	}
	return &c, nil
}
