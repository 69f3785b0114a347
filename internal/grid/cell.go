// Package grid holds the canonical tabular result shape every backend is
// normalized into, and the assembly steps that build it.
package grid

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	gojson "github.com/goccy/go-json"
)

type CellKind uint8

const (
	KindNull CellKind = iota
	KindString
	KindNumber
	KindBool
	KindGeoPoint
)

func (k CellKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindGeoPoint:
		return "geo_point"
	default:
		return "unknown"
	}
}

// Cell is one value of a grid row. The zero Cell is null.
type Cell struct {
	kind CellKind
	str  string
	num  float64
	flag bool
	lon  float64
	lat  float64
}

func Null() Cell {
	return Cell{}
}

func String(value string) Cell {
	return Cell{kind: KindString, str: value}
}

func Number(value float64) Cell {
	return Cell{kind: KindNumber, num: value}
}

func Bool(value bool) Cell {
	return Cell{kind: KindBool, flag: value}
}

// GeoPoint builds a geo-point cell. Coordinates are stored and serialized
// longitude first, as in GeoJSON.
func GeoPoint(lon, lat float64) Cell {
	return Cell{kind: KindGeoPoint, lon: lon, lat: lat}
}

func (c Cell) Kind() CellKind {
	return c.kind
}

func (c Cell) IsNull() bool {
	return c.kind == KindNull
}

func (c Cell) AsString() (string, bool) {
	return c.str, c.kind == KindString
}

func (c Cell) AsNumber() (float64, bool) {
	return c.num, c.kind == KindNumber
}

func (c Cell) AsBool() (bool, bool) {
	return c.flag, c.kind == KindBool
}

func (c Cell) AsGeoPoint() (lon, lat float64, ok bool) {
	return c.lon, c.lat, c.kind == KindGeoPoint
}

// Text renders the cell for delimited output. Null renders as the empty string.
func (c Cell) Text() string {
	switch c.kind {
	case KindString:
		return c.str
	case KindNumber:
		return strconv.FormatFloat(c.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(c.flag)
	case KindGeoPoint:
		return fmt.Sprintf("[%s, %s]", strconv.FormatFloat(c.lon, 'f', -1, 64), strconv.FormatFloat(c.lat, 'f', -1, 64))
	default:
		return ""
	}
}

func (c Cell) MarshalJSON() ([]byte, error) {
	switch c.kind {
	case KindString:
		return gojson.Marshal(c.str)
	case KindNumber:
		if math.IsNaN(c.num) || math.IsInf(c.num, 0) {
			return []byte("null"), nil
		}
		return gojson.Marshal(c.num)
	case KindBool:
		return gojson.Marshal(c.flag)
	case KindGeoPoint:
		return gojson.Marshal([2]float64{c.lon, c.lat})
	default:
		return []byte("null"), nil
	}
}

func (c Cell) String() string {
	if c.kind == KindNull {
		return "null"
	}
	if c.kind == KindString {
		return strconv.Quote(c.str)
	}
	return c.Text()
}

// FromValue converts a driver or decoded JSON value into a cell. Strings,
// byte slices and timestamps become strings, every numeric kind becomes a
// number, and composite values are kept as compact JSON text.
func FromValue(value any) Cell {
	switch typed := value.(type) {
	case nil:
		return Null()
	case Cell:
		return typed
	case string:
		return String(typed)
	case []byte:
		if typed == nil {
			return Null()
		}
		return String(string(typed))
	case bool:
		return Bool(typed)
	case float64:
		return Number(typed)
	case float32:
		return Number(float64(typed))
	case int:
		return Number(float64(typed))
	case int8:
		return Number(float64(typed))
	case int16:
		return Number(float64(typed))
	case int32:
		return Number(float64(typed))
	case int64:
		return Number(float64(typed))
	case uint:
		return Number(float64(typed))
	case uint8:
		return Number(float64(typed))
	case uint16:
		return Number(float64(typed))
	case uint32:
		return Number(float64(typed))
	case uint64:
		return Number(float64(typed))
	case time.Time:
		return String(typed.Format(time.RFC3339Nano))
	case *time.Time:
		if typed == nil {
			return Null()
		}
		return String(typed.Format(time.RFC3339Nano))
	case json.Number:
		return numberFromText(typed.String())
	case interface{ Float64() (float64, error) }:
		if number, err := typed.Float64(); err == nil {
			return Number(number)
		}
		return String(fmt.Sprint(typed))
	case interface{ Float64() float64 }:
		return Number(typed.Float64())
	case fmt.Stringer:
		return String(typed.String())
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return Null()
		}
		return FromValue(rv.Elem().Interface())
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		encoded, err := gojson.Marshal(value)
		if err != nil {
			return String(fmt.Sprint(value))
		}
		return String(string(encoded))
	default:
		return String(fmt.Sprint(value))
	}
}

func numberFromText(text string) Cell {
	number, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return String(text)
	}
	return Number(number)
}
