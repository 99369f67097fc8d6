package querysql

import (
	"github.com/ivmfnal/metacat-sub001/internal/queryir"
)

// FileColumns is the column list file statements select, in scan order.
const FileColumns = "f.fid, f.namespace, f.name, f.size, f.creator, f.created_timestamp"

// DatasetColumns is the column list dataset statements select, in scan
// order.
const DatasetColumns = "d.namespace, d.name, d.parent_namespace, d.parent_name, d.frozen, d.monotonic, d.creator, d.created_timestamp, d.metadata"

// FileQuery compiles a data source to a SELECT over the files table.
// Columns are FileColumns followed by the metadata column, or NULL
// without withMeta.
func FileQuery(src queryir.DataSource, withMeta bool) (string, []any, error) {
	if err := src.Validate(); err != nil {
		return "", nil, err
	}
	var b builder
	if err := selectedDatasets(&b, src.Datasets); err != nil {
		return "", nil, err
	}

	b.WriteString("SELECT " + FileColumns + ", ")
	if withMeta {
		b.WriteString("f.metadata")
	} else {
		b.WriteString("NULL")
	}
	b.WriteString(" FROM files f WHERE EXISTS (SELECT 1 FROM files_datasets fd" +
		" JOIN datasets d ON d.namespace = fd.dataset_namespace AND d.name = fd.dataset_name" +
		" WHERE fd.fid = f.fid AND (d.namespace, d.name) IN (SELECT namespace, name FROM selected)")
	if src.Datasets.Having != nil {
		b.WriteString(" AND (")
		if err := NewSQLCompiler(Datasets).predicate(&b, src.Datasets.Having); err != nil {
			return "", nil, err
		}
		b.WriteByte(')')
	}
	b.WriteByte(')')

	if src.Where != nil {
		b.WriteString(" AND (")
		if err := NewSQLCompiler(Files).predicate(&b, src.Where); err != nil {
			return "", nil, err
		}
		b.WriteByte(')')
	}

	b.WriteString(" ORDER BY f.namespace COLLATE BINARY, f.name COLLATE BINARY")
	if src.HasLimit() || src.Skip > 0 {
		b.WriteString(" LIMIT ")
		b.arg(int64(src.Limit))
		if src.Skip > 0 {
			b.WriteString(" OFFSET ")
			b.arg(int64(src.Skip))
		}
	}
	return b.String(), b.args, nil
}

// DatasetQuery compiles a dataset query to a SELECT of DatasetColumns.
// Having applies after child expansion.
func DatasetQuery(q queryir.DatasetQuery) (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	var b builder
	if err := selectedDatasets(&b, q); err != nil {
		return "", nil, err
	}
	b.WriteString("SELECT " + DatasetColumns + " FROM datasets d" +
		" WHERE (d.namespace, d.name) IN (SELECT namespace, name FROM selected)")
	if q.Having != nil {
		b.WriteString(" AND (")
		if err := NewSQLCompiler(Datasets).predicate(&b, q.Having); err != nil {
			return "", nil, err
		}
		b.WriteByte(')')
	}
	b.WriteString(" ORDER BY d.namespace COLLATE BINARY, d.name COLLATE BINARY")
	return b.String(), b.args, nil
}

// selectedDatasets writes a WITH clause defining selected(namespace,
// name): the datasets matching q's selectors plus their children down to
// q.MaxDepth() levels.
func selectedDatasets(b *builder, q queryir.DatasetQuery) error {
	depth := q.MaxDepth()
	switch depth {
	case 0:
		b.WriteString("WITH selected(namespace, name) AS (SELECT d.namespace, d.name FROM datasets d WHERE ")
	case -1:
		b.WriteString("WITH RECURSIVE selected(namespace, name) AS (SELECT d.namespace, d.name FROM datasets d WHERE ")
	default:
		b.WriteString("WITH RECURSIVE selected(namespace, name, depth) AS (SELECT d.namespace, d.name, 0 FROM datasets d WHERE ")
	}
	if err := selectors(b, q.Selectors); err != nil {
		return err
	}
	switch depth {
	case 0:
	case -1:
		b.WriteString(" UNION SELECT c.namespace, c.name FROM datasets c" +
			" JOIN selected s ON c.parent_namespace = s.namespace AND c.parent_name = s.name")
	default:
		b.WriteString(" UNION SELECT c.namespace, c.name, s.depth + 1 FROM datasets c" +
			" JOIN selected s ON c.parent_namespace = s.namespace AND c.parent_name = s.name" +
			" WHERE s.depth < ")
		b.arg(int64(depth))
	}
	b.WriteString(") ")
	return nil
}

// Selectors compiles dataset selectors to a predicate over datasets d.
func Selectors(sels []queryir.DatasetSelector) (string, []any, error) {
	var b builder
	if err := selectors(&b, sels); err != nil {
		return "", nil, err
	}
	return b.String(), b.args, nil
}

func selectors(b *builder, sels []queryir.DatasetSelector) error {
	if len(sels) == 0 {
		b.WriteString("0")
		return nil
	}
	b.WriteByte('(')
	for i, s := range sels {
		if i > 0 {
			b.WriteString(" OR ")
		}
		b.WriteString("(d.namespace = ")
		b.arg(s.Namespace)
		if s.Match == queryir.MatchExact {
			b.WriteString(" AND d.name = ")
			b.arg(s.Name)
		} else {
			if _, err := s.Compile(); err != nil {
				return err
			}
			b.WriteString(" AND d.name REGEXP ")
			b.arg(s.Pattern())
		}
		b.WriteByte(')')
	}
	b.WriteByte(')')
	return nil
}
