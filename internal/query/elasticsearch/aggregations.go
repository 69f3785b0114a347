package elasticsearch

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/duckmesh/querygrid/internal/aggregation"
	"github.com/duckmesh/querygrid/internal/grid"
)

var bucketOperations = map[string]bool{
	"terms":               true,
	"histogram":           true,
	"date_histogram":      true,
	"range":               true,
	"date_range":          true,
	"significant_terms":   true,
	"auto_date_histogram": true,
	"geohash_grid":        true,
}

// singleBucketOperations return one bucket ({doc_count, <sub-aggs>}) and
// add no group column; their sub-aggregations join the enclosing level.
var singleBucketOperations = map[string]bool{
	"filter":         true,
	"missing":        true,
	"global":         true,
	"nested":         true,
	"reverse_nested": true,
	"sampler":        true,
}

var metricOperations = map[string]bool{
	"sum":                       true,
	"avg":                       true,
	"min":                       true,
	"max":                       true,
	"value_count":               true,
	"cardinality":               true,
	"median_absolute_deviation": true,
}

// aggSpec is one named aggregation from the request, in declaration order.
type aggSpec struct {
	Name     string
	Op       string
	Field    string
	Column   string
	Children []aggSpec
}

func (s aggSpec) bucket() bool {
	return bucketOperations[s.Op]
}

func (s aggSpec) singleBucket() bool {
	return singleBucketOperations[s.Op]
}

// inline replaces each single-bucket aggregation with its sub-aggregations.
func inline(specs []aggSpec) []aggSpec {
	out := make([]aggSpec, 0, len(specs))
	for _, spec := range specs {
		if spec.singleBucket() {
			out = append(out, inline(spec.Children)...)
			continue
		}
		out = append(out, spec)
	}
	return out
}

// declaredAggregations reads the aggs (or aggregations) section of a request
// body and assigns output column names.
func declaredAggregations(body []byte) ([]aggSpec, error) {
	root, err := decodeObject(body)
	if err != nil {
		return nil, fmt.Errorf("parse body: %w", err)
	}
	section, ok := aggsSection(root)
	if !ok {
		return nil, nil
	}
	specs, err := parseSpecs(section)
	if err != nil {
		return nil, err
	}
	nameColumns(specs, map[string]bool{})
	return specs, nil
}

func aggsSection(o object) (object, bool) {
	if section, ok := o.object("aggs"); ok && len(section) > 0 {
		return section, true
	}
	if section, ok := o.object("aggregations"); ok && len(section) > 0 {
		return section, true
	}
	return nil, false
}

func parseSpecs(section object) ([]aggSpec, error) {
	specs := make([]aggSpec, 0, len(section))
	for _, m := range section {
		definition, ok := m.Value.(object)
		if !ok {
			return nil, fmt.Errorf("aggregation %q is not an object", m.Key)
		}
		spec := aggSpec{Name: m.Key}
		for _, part := range definition {
			switch part.Key {
			case "aggs", "aggregations":
				nested, ok := part.Value.(object)
				if !ok {
					return nil, fmt.Errorf("sub-aggregations of %q are not an object", m.Key)
				}
				children, err := parseSpecs(nested)
				if err != nil {
					return nil, err
				}
				spec.Children = children
			case "meta":
			default:
				if spec.Op != "" {
					return nil, fmt.Errorf("aggregation %q declares both %q and %q", m.Key, spec.Op, part.Key)
				}
				spec.Op = part.Key
				if params, ok := part.Value.(object); ok {
					spec.Field = params.string("field")
				}
			}
		}
		if spec.Op == "" {
			return nil, fmt.Errorf("aggregation %q declares no type", m.Key)
		}
		if !bucketOperations[spec.Op] && !singleBucketOperations[spec.Op] && !metricOperations[spec.Op] {
			return nil, fmt.Errorf("unsupported aggregation type %q in %q", spec.Op, m.Key)
		}
		if metricOperations[spec.Op] && len(spec.Children) > 0 {
			return nil, fmt.Errorf("metric aggregation %q has sub-aggregations", m.Key)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// nameColumns names group columns after their field, or after the
// aggregation when the field is empty or already taken, and metric columns
// "<op> of <field>".
func nameColumns(specs []aggSpec, taken map[string]bool) {
	for i := range specs {
		spec := &specs[i]
		if spec.singleBucket() {
			nameColumns(spec.Children, taken)
			continue
		}
		if spec.bucket() {
			spec.Column = spec.Field
			if spec.Column == "" || taken[spec.Column] {
				spec.Column = spec.Name
			}
			taken[spec.Column] = true
			nameColumns(spec.Children, taken)
			continue
		}
		field := spec.Field
		if field == "" {
			field = spec.Name
		}
		spec.Column = aggregation.MetricName(spec.Op, field)
	}
}

// declaredColumns lists the columns a well-formed response flattens into:
// group levels outermost first, then metrics in declaration order. It is
// used when the response has no rows.
func declaredColumns(specs []aggSpec) []string {
	var groups, metrics []string
	level := inline(specs)
	for len(level) > 0 {
		var next []aggSpec
		for _, spec := range level {
			if spec.bucket() {
				if next == nil {
					groups = append(groups, spec.Column)
					next = inline(spec.Children)
				}
				continue
			}
			metrics = append(metrics, spec.Column)
		}
		level = next
	}
	return append(groups, metrics...)
}

// buildTree converts the response's aggregations section into a bucket
// tree following the declared specs.
func buildTree(specs []aggSpec, aggregations object) (*aggregation.Node, error) {
	children, err := buildLevel(specs, aggregations)
	if err != nil {
		return nil, err
	}
	return aggregation.Root(children...), nil
}

func buildLevel(specs []aggSpec, container object) ([]*aggregation.Node, error) {
	var nodes []*aggregation.Node
	for _, spec := range specs {
		result, _ := container.object(spec.Name)
		if spec.singleBucket() {
			children, err := buildLevel(spec.Children, result)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, children...)
			continue
		}
		if !spec.bucket() {
			value, _ := result.get("value")
			nodes = append(nodes, aggregation.Metric(spec.Column, scalarCell(value)))
			continue
		}

		buckets, err := bucketList(result)
		if err != nil {
			return nil, fmt.Errorf("%w: aggregation %q: %v", grid.ErrShape, spec.Name, err)
		}
		declaresBuckets := hasBucketChild(spec.Children)
		for _, bucket := range buckets {
			children, err := buildLevel(spec.Children, bucket)
			if err != nil {
				return nil, err
			}
			if declaresBuckets && !hasBucketNode(children) {
				continue
			}
			nodes = append(nodes, aggregation.Bucket(spec.Column, bucketKey(spec.Op, bucket), children...))
		}
	}
	return nodes, nil
}

// bucketList returns the buckets of one bucket aggregation. Keyed buckets
// (an object keyed by bucket key) are visited in sorted key order.
func bucketList(result object) ([]object, error) {
	raw, ok := result.get("buckets")
	if !ok || raw == nil {
		return nil, nil
	}
	switch typed := raw.(type) {
	case []any:
		out := make([]object, 0, len(typed))
		for _, item := range typed {
			bucket, ok := item.(object)
			if !ok {
				return nil, fmt.Errorf("bucket is %T", item)
			}
			out = append(out, bucket)
		}
		return out, nil
	case object:
		keyed := append(object(nil), typed...)
		sort.SliceStable(keyed, func(i, j int) bool { return keyed[i].Key < keyed[j].Key })
		out := make([]object, 0, len(keyed))
		for _, m := range keyed {
			bucket, ok := m.Value.(object)
			if !ok {
				return nil, fmt.Errorf("bucket %q is %T", m.Key, m.Value)
			}
			if _, hasKey := bucket.get("key"); !hasKey {
				bucket = append(object{{Key: "key", Value: m.Key}}, bucket...)
			}
			out = append(out, bucket)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("buckets is %T", raw)
	}
}

func bucketKey(op string, bucket object) grid.Cell {
	if op == "date_histogram" || op == "auto_date_histogram" {
		if text, ok := bucket.get("key_as_string"); ok {
			if s, ok := text.(string); ok {
				return grid.String(s)
			}
		}
	}
	key, _ := bucket.get("key")
	return scalarCell(key)
}

func hasBucketChild(specs []aggSpec) bool {
	for _, spec := range inline(specs) {
		if spec.bucket() {
			return true
		}
	}
	return false
}

func hasBucketNode(nodes []*aggregation.Node) bool {
	for _, node := range nodes {
		if node.Kind == aggregation.KindBucket {
			return true
		}
	}
	return false
}

func scalarCell(value any) grid.Cell {
	switch typed := value.(type) {
	case nil:
		return grid.Null()
	case json.Number:
		return grid.FromValue(typed)
	case string:
		return grid.String(typed)
	case bool:
		return grid.Bool(typed)
	default:
		encoded, err := encodeOrdered(typed)
		if err != nil {
			return grid.String(fmt.Sprint(typed))
		}
		return grid.String(string(encoded))
	}
}
