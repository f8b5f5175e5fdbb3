package weights

import (
	"bytes"
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// archiveMagic starts every serialized Archive, followed by a varint format version.
const (
	archiveMagic   = "MILWPACK"
	archiveVersion = 1
)

// Field numbers of an archive entry record.
const (
	fieldEntryID     protowire.Number = 1
	fieldEntryName   protowire.Number = 2
	fieldEntryTensor protowire.Number = 3
)

// Entry is a named packed tensor in an Archive.
type Entry struct {
	// ID uniquely identifies the entry, it is preserved across WriteTo/ReadArchive.
	ID     uuid.UUID
	Name   string
	Tensor *PackedTensor
}

// Archive is an ordered collection of named packed tensors.
// It is not safe for concurrent use.
type Archive struct {
	entries []*Entry
	byName  map[string]*Entry
}

// NewArchive creates an empty Archive.
func NewArchive() *Archive {
	return &Archive{byName: make(map[string]*Entry)}
}

// Add appends tensor under name, with a new random ID.
// Names must be non-empty and unique within the archive.
func (a *Archive) Add(name string, tensor *PackedTensor) (*Entry, error) {
	return a.add(&Entry{ID: uuid.New(), Name: name, Tensor: tensor})
}

func (a *Archive) add(entry *Entry) (*Entry, error) {
	if entry.Name == "" {
		return nil, errors.New("archive entry name cannot be empty")
	}
	if _, found := a.byName[entry.Name]; found {
		return nil, errors.Errorf("archive already has an entry named %q", entry.Name)
	}
	if entry.Tensor == nil {
		return nil, errors.Errorf("archive entry %q has no tensor", entry.Name)
	}
	if err := entry.Tensor.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "archive entry %q", entry.Name)
	}
	a.entries = append(a.entries, entry)
	a.byName[entry.Name] = entry
	return entry, nil
}

// Lookup returns the entry with the given name.
func (a *Archive) Lookup(name string) (*Entry, bool) {
	entry, found := a.byName[name]
	return entry, found
}

// Entries returns the entries in the order they were added.
func (a *Archive) Entries() []*Entry {
	return a.entries
}

// Len returns the number of entries.
func (a *Archive) Len() int {
	return len(a.entries)
}

// WriteTo serializes the archive to w: the magic string and version, followed by one
// length-delimited protobuf record per entry:
//
//	message Entry {
//	  bytes id = 1;  // 16 bytes
//	  string name = 2;
//	  PackedTensor tensor = 3;
//	}
//
// Tensors are validated again, since they may have been modified after Add.
// Nothing is written if any of them is invalid.
func (a *Archive) WriteTo(w io.Writer) (int64, error) {
	buf := []byte(archiveMagic)
	buf = protowire.AppendVarint(buf, archiveVersion)
	for _, entry := range a.entries {
		if err := entry.Tensor.Validate(); err != nil {
			return 0, errors.WithMessagef(err, "writing archive entry %q", entry.Name)
		}
		var record []byte
		record = protowire.AppendTag(record, fieldEntryID, protowire.BytesType)
		record = protowire.AppendBytes(record, entry.ID[:])
		record = protowire.AppendTag(record, fieldEntryName, protowire.BytesType)
		record = protowire.AppendString(record, entry.Name)
		record = protowire.AppendTag(record, fieldEntryTensor, protowire.BytesType)
		record = protowire.AppendBytes(record, entry.Tensor.appendWire(nil))
		buf = protowire.AppendBytes(buf, record)
	}
	n, err := w.Write(buf)
	if err != nil {
		return int64(n), errors.Wrap(err, "writing weights archive")
	}
	return int64(n), nil
}

// ReadArchive reads an archive serialized with Archive.WriteTo.
func ReadArchive(r io.Reader) (*Archive, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading weights archive")
	}
	if !bytes.HasPrefix(buf, []byte(archiveMagic)) {
		return nil, errors.New("not a weights archive: bad magic")
	}
	buf = buf[len(archiveMagic):]
	version, n := protowire.ConsumeVarint(buf)
	if n < 0 {
		return nil, errors.Wrap(protowire.ParseError(n), "reading weights archive version")
	}
	if version != archiveVersion {
		return nil, errors.Errorf("unsupported weights archive version %d", version)
	}
	buf = buf[n:]

	a := NewArchive()
	for len(buf) > 0 {
		record, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return nil, errors.Wrapf(protowire.ParseError(n), "reading weights archive entry #%d", a.Len())
		}
		buf = buf[n:]
		entry, err := decodeEntry(record)
		if err != nil {
			return nil, errors.WithMessagef(err, "reading weights archive entry #%d", a.Len())
		}
		if _, err := a.add(entry); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func decodeEntry(b []byte) (*Entry, error) {
	entry := &Entry{}
	var hasID bool
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "decoding entry tag")
		}
		b = b[n:]

		switch {
		case num == fieldEntryID && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				id, err := uuid.FromBytes(v)
				if err != nil {
					return nil, errors.Wrap(err, "decoding entry id")
				}
				entry.ID, hasID = id, true
			}
		case num == fieldEntryName && typ == protowire.BytesType:
			entry.Name, n = protowire.ConsumeString(b)
		case num == fieldEntryTensor && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				entry.Tensor = &PackedTensor{}
				if err := entry.Tensor.UnmarshalBinary(v); err != nil {
					return nil, err
				}
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, errors.Wrapf(protowire.ParseError(n), "decoding entry field %d", num)
		}
		b = b[n:]
	}
	if !hasID {
		return nil, errors.Errorf("entry %q has no id", entry.Name)
	}
	return entry, nil
}
