// Package aggregation flattens nested bucket/metric trees into grid rows.
package aggregation

import (
	"fmt"

	"github.com/duckmesh/querygrid/internal/grid"
)

type Kind uint8

const (
	KindBucket Kind = iota + 1
	KindMetric
)

func (k Kind) String() string {
	switch k {
	case KindBucket:
		return "bucket"
	case KindMetric:
		return "metric"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Node is one bucket (a single key of a group-by level) or one metric value.
// Name is the output column name: the grouped field for buckets and
// "<operation> of <field>" for metrics.
type Node struct {
	Name     string
	Kind     Kind
	Key      grid.Cell
	Value    grid.Cell
	Children []*Node
}

// Root returns the implicit bucket that holds every document; it contributes
// no key column.
func Root(children ...*Node) *Node {
	return &Node{Kind: KindBucket, Children: children}
}

func Bucket(name string, key grid.Cell, children ...*Node) *Node {
	return &Node{Name: name, Kind: KindBucket, Key: key, Children: children}
}

func Metric(name string, value grid.Cell) *Node {
	return &Node{Name: name, Kind: KindMetric, Value: value}
}

func MetricName(operation, field string) string {
	return operation + " of " + field
}

// Flatten walks the tree under root depth first and emits one row per leaf
// bucket: the key path from the outermost level inward, then the metric
// values collected along the path in declaration order.
func Flatten(root *Node) (grid.Grid, error) {
	if root == nil {
		return grid.Empty(), nil
	}
	if root.Kind != KindBucket {
		return grid.Grid{}, fmt.Errorf("%w: aggregation root must be a bucket, got %s", grid.ErrShape, root.Kind)
	}

	f := &flattener{leafDepth: -1, rows: [][]grid.Cell{}}
	if err := f.walk(root, 0, nil, nil); err != nil {
		return grid.Grid{}, err
	}
	if f.leafDepth < 0 {
		return grid.Empty(), nil
	}

	columns := make([]string, 0, len(f.groups)+len(f.metrics))
	columns = append(columns, f.groups...)
	columns = append(columns, f.metrics...)
	return grid.New(columns, f.rows)
}

type flattener struct {
	groups    []string
	metrics   []string
	leafDepth int
	rows      [][]grid.Cell
}

func (f *flattener) walk(node *Node, depth int, keys []grid.Cell, metrics []*Node) error {
	var buckets []*Node
	for _, child := range node.Children {
		switch child.Kind {
		case KindBucket:
			buckets = append(buckets, child)
		case KindMetric:
			metrics = append(metrics, child)
		default:
			return fmt.Errorf("%w: node %q has unknown kind %s", grid.ErrShape, child.Name, child.Kind)
		}
	}

	if len(buckets) == 0 {
		if depth == 0 && len(metrics) == 0 {
			return nil
		}
		return f.emit(depth, keys, metrics)
	}

	for _, bucket := range buckets {
		if err := f.group(depth, bucket.Name); err != nil {
			return err
		}
		path := append(keys[:len(keys):len(keys)], bucket.Key)
		if err := f.walk(bucket, depth+1, path, metrics[:len(metrics):len(metrics)]); err != nil {
			return err
		}
	}
	return nil
}

func (f *flattener) group(depth int, name string) error {
	switch {
	case depth == len(f.groups):
		f.groups = append(f.groups, name)
	case depth < len(f.groups):
		if f.groups[depth] != name {
			return fmt.Errorf("%w: level %d groups by both %q and %q", grid.ErrShape, depth, f.groups[depth], name)
		}
	default:
		return fmt.Errorf("%w: level %d reached before level %d", grid.ErrShape, depth, len(f.groups))
	}
	return nil
}

func (f *flattener) emit(depth int, keys []grid.Cell, metrics []*Node) error {
	if f.leafDepth < 0 {
		f.leafDepth = depth
		f.metrics = make([]string, 0, len(metrics))
		for _, metric := range metrics {
			f.metrics = append(f.metrics, metric.Name)
		}
	}
	if depth != f.leafDepth {
		return fmt.Errorf("%w: leaf at depth %d, earlier leaves at depth %d", grid.ErrShape, depth, f.leafDepth)
	}
	if len(metrics) != len(f.metrics) {
		return fmt.Errorf("%w: leaf carries %d metrics, want %d", grid.ErrShape, len(metrics), len(f.metrics))
	}

	row := make([]grid.Cell, 0, len(keys)+len(metrics))
	row = append(row, keys...)
	for i, metric := range metrics {
		if metric.Name != f.metrics[i] {
			return fmt.Errorf("%w: metric %d is %q, want %q", grid.ErrShape, i, metric.Name, f.metrics[i])
		}
		row = append(row, metric.Value)
	}
	f.rows = append(f.rows, row)
	return nil
}
