// Package exif assembles the EXIF entries attached to encoded still captures.
package exif

import (
	"fmt"

	"github.com/tphakala/camhal/internal/errors"
)

// Type is the EXIF value type of an entry.
type Type uint16

const (
	TypeByte      Type = 1
	TypeASCII     Type = 2
	TypeShort     Type = 3
	TypeRational  Type = 5
	TypeUndefined Type = 7
)

func (t Type) String() string {
	switch t {
	case TypeByte:
		return "BYTE"
	case TypeASCII:
		return "ASCII"
	case TypeShort:
		return "SHORT"
	case TypeRational:
		return "RATIONAL"
	case TypeUndefined:
		return "UNDEFINED"
	default:
		return fmt.Sprintf("Type(%d)", uint16(t))
	}
}

// IFD identifies the image file directory a tag lives in.
type IFD uint16

const (
	IFD0 IFD = iota
	IFDExif
	IFDGPS
)

// Tag combines the IFD and the numeric tag id, since GPS ids overlap the
// primary directory's.
type Tag uint32

// IFD returns the directory of the tag.
func (t Tag) IFD() IFD { return IFD(t >> 16) }

// ID returns the numeric tag id within its directory.
func (t Tag) ID() uint16 { return uint16(t) }

const (
	TagDateTimeOriginal    = Tag(uint32(IFDExif)<<16 | 0x9003)
	TagFocalLength         = Tag(uint32(IFDExif)<<16 | 0x920A)
	TagISOSpeedRatings     = Tag(uint32(IFDExif)<<16 | 0x8827)
	TagGPSLatitudeRef      = Tag(uint32(IFDGPS)<<16 | 0x0001)
	TagGPSLatitude         = Tag(uint32(IFDGPS)<<16 | 0x0002)
	TagGPSLongitudeRef     = Tag(uint32(IFDGPS)<<16 | 0x0003)
	TagGPSLongitude        = Tag(uint32(IFDGPS)<<16 | 0x0004)
	TagGPSAltitudeRef      = Tag(uint32(IFDGPS)<<16 | 0x0005)
	TagGPSAltitude         = Tag(uint32(IFDGPS)<<16 | 0x0006)
	TagGPSTimeStamp        = Tag(uint32(IFDGPS)<<16 | 0x0007)
	TagGPSProcessingMethod = Tag(uint32(IFDGPS)<<16 | 0x001B)
	TagGPSDateStamp        = Tag(uint32(IFDGPS)<<16 | 0x001D)
)

// Rational is an unsigned EXIF rational.
type Rational struct {
	Num   uint32
	Denom uint32
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Denom)
}

// Float returns the rational as a float64.
func (r Rational) Float() float64 {
	if r.Denom == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Denom)
}

// Entry is one typed EXIF value. Value holds a string for TypeASCII,
// []byte for TypeByte and TypeUndefined, []uint16 for TypeShort and
// []Rational for TypeRational. Count follows EXIF rules: ASCII counts
// include the terminating NUL.
type Entry struct {
	Tag   Tag
	Type  Type
	Count int
	Value any
}

// MaxEntries bounds an entry set.
const MaxEntries = 32

// EntrySet is an ordered append-only collection with at most one entry per tag.
type EntrySet struct {
	entries []Entry
	index   map[Tag]int
}

// NewEntrySet returns an empty set.
func NewEntrySet() *EntrySet {
	return &EntrySet{
		entries: make([]Entry, 0, MaxEntries),
		index:   make(map[Tag]int, MaxEntries),
	}
}

// Add appends an entry. Duplicate tags and a full set are rejected.
func (s *EntrySet) Add(tag Tag, typ Type, count int, value any) error {
	if _, dup := s.index[tag]; dup {
		return errors.Newf("exif tag 0x%04x already present", tag.ID()).
			Component("camera.exif").
			Category(errors.CategoryConflict).
			Build()
	}
	if len(s.entries) >= MaxEntries {
		return errors.Newf("exif entry set full").
			Component("camera.exif").
			Category(errors.CategoryLimit).
			Context("max", MaxEntries).
			Build()
	}
	if err := checkValue(typ, count, value); err != nil {
		return err
	}
	s.index[tag] = len(s.entries)
	s.entries = append(s.entries, Entry{Tag: tag, Type: typ, Count: count, Value: value})
	return nil
}

// Get returns the entry for tag.
func (s *EntrySet) Get(tag Tag) (Entry, bool) {
	i, ok := s.index[tag]
	if !ok {
		return Entry{}, false
	}
	return s.entries[i], true
}

// Len returns the number of entries.
func (s *EntrySet) Len() int { return len(s.entries) }

// Entries returns a copy of the entries in insertion order.
func (s *EntrySet) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func checkValue(typ Type, count int, value any) error {
	ok := false
	switch v := value.(type) {
	case string:
		ok = typ == TypeASCII && count == len(v)+1
	case []byte:
		ok = (typ == TypeByte || typ == TypeUndefined) && count == len(v)
	case []uint16:
		ok = typ == TypeShort && count == len(v)
	case []Rational:
		ok = typ == TypeRational && count == len(v)
	}
	if !ok {
		return errors.Newf("exif value %T does not match type %s count %d", value, typ, count).
			Component("camera.exif").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}
