package host

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Program binaries of the host driver are protobuf messages, written directly in wire format:
//
//	message ProgramBinary {
//	  string format = 1;      // Always binaryFormat.
//	  uint64 version = 2;     // binaryVersion.
//	  string device = 3;      // Name of the device it was built for.
//	  string options = 4;     // Build options.
//	  repeated string sources = 5;
//	}
//
// The "binary" holds the sources: building a program from it compiles them again (or takes them from the
// program cache).
const (
	binaryFormat  = "gocl-host-program"
	binaryVersion = 1
)

const (
	fieldFormat protowire.Number = iota + 1
	fieldVersion
	fieldDevice
	fieldOptions
	fieldSources
)

type programBinary struct {
	device  string
	options string
	sources []string
}

func (pb *programBinary) encode() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldFormat, protowire.BytesType)
	b = protowire.AppendString(b, binaryFormat)
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, binaryVersion)
	b = protowire.AppendTag(b, fieldDevice, protowire.BytesType)
	b = protowire.AppendString(b, pb.device)
	if pb.options != "" {
		b = protowire.AppendTag(b, fieldOptions, protowire.BytesType)
		b = protowire.AppendString(b, pb.options)
	}
	for _, src := range pb.sources {
		b = protowire.AppendTag(b, fieldSources, protowire.BytesType)
		b = protowire.AppendString(b, src)
	}
	return b
}

// decodeProgramBinary parses a binary created by programBinary.encode. Unknown fields are skipped.
func decodeProgramBinary(b []byte) (*programBinary, error) {
	pb := &programBinary{}
	var format string
	var version uint64
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "invalid program binary")
		}
		b = b[n:]
		switch {
		case num == fieldVersion && typ == protowire.VarintType:
			version, n = protowire.ConsumeVarint(b)
		case typ == protowire.BytesType && num >= fieldFormat && num <= fieldSources && num != fieldVersion:
			var s string
			s, n = protowire.ConsumeString(b)
			if n >= 0 {
				switch num {
				case fieldFormat:
					format = s
				case fieldDevice:
					pb.device = s
				case fieldOptions:
					pb.options = s
				case fieldSources:
					pb.sources = append(pb.sources, s)
				}
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, errors.Wrapf(protowire.ParseError(n), "invalid program binary field %d", num)
		}
		b = b[n:]
	}
	if format != binaryFormat {
		return nil, errors.Errorf("not a host driver program binary (format %q)", format)
	}
	if version != binaryVersion {
		return nil, errors.Errorf("unsupported program binary version %d, only version %d is supported", version, binaryVersion)
	}
	return pb, nil
}
