package compression

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"
)

// Type is the compression kind applied to backup payloads.
type Type string

const (
	TypeNone  Type = "none"
	TypeGzip  Type = "gzip"
	TypeBzip2 Type = "bzip2"
	TypeXz    Type = "xz"
)

const DefaultLevel = 6

// ParseType parses a compression kind from its config representation.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeNone, TypeGzip, TypeBzip2, TypeXz:
		return Type(s), nil
	case "":
		return TypeNone, nil
	default:
		return "", fmt.Errorf("unknown compression type %q", s)
	}
}

// Codec compresses and decompresses backup payloads for one compression kind.
type Codec struct {
	typ   Type
	level int
}

// NewCodec returns a codec for the given kind. Level is clamped to the
// codec's valid range; xz has no level knob and ignores it.
func NewCodec(t Type, level int) (*Codec, error) {
	switch t {
	case TypeNone, TypeGzip, TypeBzip2, TypeXz:
	default:
		return nil, fmt.Errorf("unknown compression type %q", t)
	}
	if level < 1 || level > 9 {
		level = DefaultLevel
	}
	return &Codec{typ: t, level: level}, nil
}

func (c *Codec) Type() Type { return c.typ }

// Ext returns the file extension appended to backup files.
func (c *Codec) Ext() string {
	switch c.typ {
	case TypeGzip:
		return ".gz"
	case TypeBzip2:
		return ".bz2"
	case TypeXz:
		return ".xz"
	default:
		return ""
	}
}

func (c *Codec) Compress(data []byte) ([]byte, error) {
	switch c.typ {
	case TypeNone:
		return data, nil
	case TypeGzip:
		buf := new(bytes.Buffer)
		zw, err := gzip.NewWriterLevel(buf, c.level)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case TypeBzip2:
		buf := new(bytes.Buffer)
		zw, err := bzip2.NewWriter(buf, &bzip2.WriterConfig{Level: c.level})
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case TypeXz:
		buf := new(bytes.Buffer)
		zw, err := xz.NewWriter(buf)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown compression type %q", c.typ)
}

func (c *Codec) Decompress(data []byte) ([]byte, error) {
	switch c.typ {
	case TypeNone:
		return data, nil
	case TypeGzip:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case TypeBzip2:
		zr, err := bzip2.NewReader(bytes.NewReader(data), nil)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case TypeXz:
		zr, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return io.ReadAll(zr)
	}
	return nil, fmt.Errorf("unknown compression type %q", c.typ)
}
