package elasticsearch

import (
	"encoding/json"
	"fmt"

	"github.com/duckmesh/querygrid/internal/grid"
)

// flattenSource turns a hit's _source into a document. Nested objects become
// dotted field names in encounter order; geo points become geo cells; any
// other array or object is kept as compact JSON text. When a literal dotted
// key and a nested path name the same field, the first one in the source
// wins.
func flattenSource(raw []byte) (grid.Document, error) {
	if len(raw) == 0 {
		return grid.Document{}, nil
	}
	source, err := decodeObject(raw)
	if err != nil {
		return nil, fmt.Errorf("decode _source: %w", err)
	}
	doc := make(grid.Document, 0, len(source))
	appendFields(&doc, "", source)
	return keepFirst(doc), nil
}

func keepFirst(doc grid.Document) grid.Document {
	seen := make(map[string]struct{}, len(doc))
	out := doc[:0]
	for _, field := range doc {
		if _, dup := seen[field.Name]; dup {
			continue
		}
		seen[field.Name] = struct{}{}
		out = append(out, field)
	}
	return out
}

func appendFields(doc *grid.Document, prefix string, source object) {
	for _, m := range source {
		name := m.Key
		if prefix != "" {
			name = prefix + "." + m.Key
		}
		if nested, ok := m.Value.(object); ok {
			if lon, lat, ok := geoObject(nested); ok {
				*doc = append(*doc, grid.Field{Name: name, Value: grid.GeoPoint(lon, lat)})
				continue
			}
			if len(nested) > 0 {
				appendFields(doc, name, nested)
				continue
			}
		}
		*doc = append(*doc, grid.Field{Name: name, Value: hitCell(m.Value)})
	}
}

func hitCell(value any) grid.Cell {
	if items, ok := value.([]any); ok {
		if lon, lat, ok := geoArray(items); ok {
			return grid.GeoPoint(lon, lat)
		}
	}
	return scalarCell(value)
}

// geoObject recognizes {"lat": y, "lon": x}.
func geoObject(o object) (lon, lat float64, ok bool) {
	if len(o) != 2 {
		return 0, 0, false
	}
	latValue, hasLat := o.get("lat")
	lonValue, hasLon := o.get("lon")
	if !hasLat || !hasLon {
		return 0, 0, false
	}
	lat, latOK := number(latValue)
	lon, lonOK := number(lonValue)
	return lon, lat, latOK && lonOK
}

// geoArray recognizes [x, y], longitude first.
func geoArray(items []any) (lon, lat float64, ok bool) {
	if len(items) != 2 {
		return 0, 0, false
	}
	lon, lonOK := number(items[0])
	lat, latOK := number(items[1])
	return lon, lat, lonOK && latOK
}

func number(value any) (float64, bool) {
	typed, ok := value.(json.Number)
	if !ok {
		return 0, false
	}
	parsed, err := typed.Float64()
	return parsed, err == nil
}
