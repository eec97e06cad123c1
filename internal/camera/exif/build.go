package exif

import (
	"fmt"
	"math"
	"time"
)

const (
	focalLengthPrecision    = 100
	gpsSecondsPrecision     = 10000
	gpsAltitudePrecision    = 1000
	gpsProcessingMethodSize = 101
)

// asciiPrefix is the character code prefix of UNDEFINED text values.
var asciiPrefix = [8]byte{'A', 'S', 'C', 'I', 'I', 0, 0, 0}

// GPS is the location attached to a still capture.
type GPS struct {
	Latitude         float64
	Longitude        float64
	Altitude         float64
	Timestamp        int64 // unix seconds
	ProcessingMethod string
}

// Settings carries the request values EXIF assembly draws on.
type Settings struct {
	FocalLength float64
	ISOSpeed    uint16
	GPS         *GPS
}

// Build assembles the entry set for a capture taken at now. GPS tags are
// emitted only when settings carry a location.
func Build(settings Settings, now time.Time) (*EntrySet, error) {
	s := NewEntrySet()

	dateTime, count := DateTime(now)
	if err := s.Add(TagDateTimeOriginal, TypeASCII, count, dateTime); err != nil {
		return nil, err
	}

	if err := s.Add(TagFocalLength, TypeRational, 1, []Rational{FocalLength(settings.FocalLength)}); err != nil {
		return nil, err
	}

	if settings.ISOSpeed > 0 {
		if err := s.Add(TagISOSpeedRatings, TypeShort, 1, []uint16{settings.ISOSpeed}); err != nil {
			return nil, err
		}
	}

	gps := settings.GPS
	if gps == nil {
		return s, nil
	}

	method := ProcessingMethod(gps.ProcessingMethod)
	if err := s.Add(TagGPSProcessingMethod, TypeUndefined, len(method), method); err != nil {
		return nil, err
	}

	lat, latRef := Latitude(gps.Latitude)
	if err := s.Add(TagGPSLatitude, TypeRational, 3, lat[:]); err != nil {
		return nil, err
	}
	if err := s.Add(TagGPSLatitudeRef, TypeASCII, 2, latRef); err != nil {
		return nil, err
	}

	lon, lonRef := Longitude(gps.Longitude)
	if err := s.Add(TagGPSLongitude, TypeRational, 3, lon[:]); err != nil {
		return nil, err
	}
	if err := s.Add(TagGPSLongitudeRef, TypeASCII, 2, lonRef); err != nil {
		return nil, err
	}

	alt, altRef := Altitude(gps.Altitude)
	if err := s.Add(TagGPSAltitude, TypeRational, 1, []Rational{alt}); err != nil {
		return nil, err
	}
	if err := s.Add(TagGPSAltitudeRef, TypeByte, 1, []byte{altRef}); err != nil {
		return nil, err
	}

	dateStamp, timeStamp := GPSDateTimeStamp(gps.Timestamp)
	if err := s.Add(TagGPSDateStamp, TypeASCII, len(dateStamp)+1, dateStamp); err != nil {
		return nil, err
	}
	if err := s.Add(TagGPSTimeStamp, TypeRational, 3, timeStamp[:]); err != nil {
		return nil, err
	}

	return s, nil
}

// DateTime formats t as "YYYY:MM:DD HH:MM:SS" in t's location. The count
// includes the terminating NUL.
func DateTime(t time.Time) (string, int) {
	s := t.Format("2006:01:02 15:04:05")
	return s, len(s) + 1
}

// FocalLength encodes millimetres with two decimal digits, truncated.
func FocalLength(mm float64) Rational {
	return Rational{Num: uint32(math.Trunc(mm * focalLengthPrecision)), Denom: focalLengthPrecision}
}

// ProcessingMethod prefixes method with the ASCII character code and
// terminates it with NUL.
func ProcessingMethod(method string) []byte {
	if len(method) > gpsProcessingMethodSize-1 {
		method = method[:gpsProcessingMethodSize-1]
	}
	out := make([]byte, 0, len(asciiPrefix)+len(method)+1)
	out = append(out, asciiPrefix[:]...)
	out = append(out, method...)
	return append(out, 0)
}

// ParseGPSCoordinate splits the magnitude of a decimal coordinate into
// degrees, minutes and seconds. Degrees and minutes are truncated; seconds
// keep four decimal digits, truncated.
func ParseGPSCoordinate(coord float64) [3]Rational {
	deg := math.Abs(coord)
	minF := (deg - math.Trunc(deg)) * 60
	secF := (minF - math.Trunc(minF)) * 60

	return [3]Rational{
		{Num: uint32(math.Trunc(deg)), Denom: 1},
		{Num: uint32(math.Trunc(minF)), Denom: 1},
		{Num: uint32(math.Trunc(secF * gpsSecondsPrecision)), Denom: gpsSecondsPrecision},
	}
}

// Latitude returns the DMS rationals and "N" or "S" from the sign.
func Latitude(value float64) ([3]Rational, string) {
	ref := "N"
	if value < 0 {
		ref = "S"
	}
	return ParseGPSCoordinate(value), ref
}

// Longitude returns the DMS rationals and "E" or "W" from the sign.
func Longitude(value float64) ([3]Rational, string) {
	ref := "E"
	if value < 0 {
		ref = "W"
	}
	return ParseGPSCoordinate(value), ref
}

// Altitude returns metres with three decimal digits and the reference byte,
// 0 above sea level and 1 below.
func Altitude(value float64) (Rational, byte) {
	var ref byte
	if value < 0 {
		ref = 1
		value = -value
	}
	return Rational{Num: uint32(math.Trunc(value * gpsAltitudePrecision)), Denom: gpsAltitudePrecision}, ref
}

// GPSDateTimeStamp renders a unix timestamp as the UTC "YYYY:MM:DD" date
// stamp and hour, minute, second rationals.
func GPSDateTimeStamp(unixSeconds int64) (string, [3]Rational) {
	t := time.Unix(unixSeconds, 0).UTC()
	return fmt.Sprintf("%04d:%02d:%02d", t.Year(), int(t.Month()), t.Day()), [3]Rational{
		{Num: uint32(t.Hour()), Denom: 1},
		{Num: uint32(t.Minute()), Denom: 1},
		{Num: uint32(t.Second()), Denom: 1},
	}
}
