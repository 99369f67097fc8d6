package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/ivmfnal/metacat-sub001/internal/catalog"
	"github.com/ivmfnal/metacat-sub001/internal/engine"
	"github.com/ivmfnal/metacat-sub001/internal/ir"
	"github.com/ivmfnal/metacat-sub001/internal/qerr"
	"github.com/ivmfnal/metacat-sub001/internal/querysql"
	"github.com/ivmfnal/metacat-sub001/internal/queryir"
)

var (
	_ engine.Source  = (*Store)(nil)
	_ catalog.Loader = (*Store)(nil)
)

// Files implements engine.Source. The returned stream holds a database
// cursor until it is closed.
func (s *Store) Files(ctx context.Context, src queryir.DataSource, withMeta bool) (engine.Stream, error) {
	query, args, err := querysql.FileQuery(src, withMeta)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	return &rowStream{rows: rows}, nil
}

// rowStream reads files from an open cursor.
type rowStream struct {
	rows *sql.Rows
}

func (r *rowStream) Next(ctx context.Context) (ir.File, error) {
	if err := ctx.Err(); err != nil {
		return ir.File{}, err
	}
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return ir.File{}, fmt.Errorf("iterate files: %w", err)
		}
		return ir.File{}, io.EOF
	}
	return scanFile(r.rows)
}

func (r *rowStream) Close() error {
	return r.rows.Close()
}

// FilesByDID implements engine.Source.
func (s *Store) FilesByDID(ctx context.Context, dids []ir.DID, withMeta bool) (engine.Stream, error) {
	if len(dids) == 0 {
		return engine.NewSliceStream(nil), nil
	}
	pairs := make([][2]string, len(dids))
	for i, d := range dids {
		pairs[i] = [2]string{d.Namespace, d.Name}
	}
	list, err := jsonList(pairs)
	if err != nil {
		return nil, err
	}
	files, err := s.readFiles(ctx,
		"(f.namespace, f.name) IN (SELECT json_extract(l.value, '$[0]'), json_extract(l.value, '$[1]') FROM json_each(?) AS l)",
		[]any{list}, withMeta)
	if err != nil {
		return nil, err
	}
	byDID := make(map[ir.DID]ir.File, len(files))
	for _, f := range files {
		byDID[f.DID()] = f
	}
	seen := make(map[ir.DID]bool, len(dids))
	var out []ir.File
	for _, d := range dids {
		if f, ok := byDID[d]; ok && !seen[d] {
			seen[d] = true
			out = append(out, f)
		}
	}
	return engine.NewSliceStream(out), nil
}

// FilesByFID implements engine.Source.
func (s *Store) FilesByFID(ctx context.Context, fids []string, withMeta bool) (engine.Stream, error) {
	if len(fids) == 0 {
		return engine.NewSliceStream(nil), nil
	}
	list, err := jsonList(fids)
	if err != nil {
		return nil, err
	}
	files, err := s.readFiles(ctx, "f.fid IN (SELECT l.value FROM json_each(?) AS l)", []any{list}, withMeta)
	if err != nil {
		return nil, err
	}
	byFID := make(map[string]ir.File, len(files))
	for _, f := range files {
		byFID[f.FID] = f
	}
	seen := make(map[string]bool, len(fids))
	var out []ir.File
	for _, fid := range fids {
		if f, ok := byFID[fid]; ok && !seen[fid] {
			seen[fid] = true
			out = append(out, f)
		}
	}
	return engine.NewSliceStream(out), nil
}

// Provenance implements engine.Source.
func (s *Store) Provenance(ctx context.Context, fids []string, dir ir.Direction, withMeta bool) (engine.Stream, error) {
	if len(fids) == 0 {
		return engine.NewSliceStream(nil), nil
	}
	from, to := "child_fid", "parent_fid"
	if dir == ir.Children {
		from, to = "parent_fid", "child_fid"
	}
	list, err := jsonList(fids)
	if err != nil {
		return nil, err
	}
	cond := fmt.Sprintf("f.fid IN (SELECT pc.%s FROM parent_child pc WHERE pc.%s IN (SELECT l.value FROM json_each(?) AS l))", to, from)
	files, err := s.readFiles(ctx, cond, []any{list}, withMeta)
	if err != nil {
		return nil, err
	}
	return engine.NewSliceStream(files), nil
}

// readFiles returns the files satisfying cond, ordered by namespace and
// name.
func (s *Store) readFiles(ctx context.Context, cond string, args []any, withMeta bool) ([]ir.File, error) {
	meta := "NULL"
	if withMeta {
		meta = "f.metadata"
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+querysql.FileColumns+`, `+meta+`
		FROM files f
		WHERE `+cond+`
		ORDER BY f.namespace COLLATE BINARY, f.name COLLATE BINARY
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	var files []ir.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return files, nil
}

// Datasets implements engine.Source.
func (s *Store) Datasets(ctx context.Context, q queryir.DatasetQuery) ([]ir.Dataset, error) {
	query, args, err := querysql.DatasetQuery(q)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query datasets: %w", err)
	}
	defer rows.Close()

	var datasets []ir.Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		datasets = append(datasets, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate datasets: %w", err)
	}
	return datasets, nil
}

// GetQuery implements compiler.QueryStore.
func (s *Store) GetQuery(ctx context.Context, namespace, name string) (ir.NamedQuery, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT namespace, name, source, params FROM queries
		WHERE namespace = ? AND name = ?
	`, namespace, name)
	q, err := scanQuery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.NamedQuery{}, false, nil
	}
	if err != nil {
		return ir.NamedQuery{}, false, err
	}
	return q, true, nil
}

// Queries returns every named query, ordered by namespace and name.
func (s *Store) Queries(ctx context.Context) ([]ir.NamedQuery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT namespace, name, source, params FROM queries
		ORDER BY namespace COLLATE BINARY, name COLLATE BINARY
	`)
	if err != nil {
		return nil, fmt.Errorf("query named queries: %w", err)
	}
	defer rows.Close()

	var out []ir.NamedQuery
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate named queries: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(row scanner) (ir.File, error) {
	var (
		f       ir.File
		creator sql.NullString
		created sql.NullInt64
		meta    sql.NullString
	)
	if err := row.Scan(&f.FID, &f.Namespace, &f.Name, &f.Size, &creator, &created, &meta); err != nil {
		return ir.File{}, fmt.Errorf("scan file: %w", err)
	}
	f.Creator = creator.String
	f.CreatedTimestamp = created.Int64
	if meta.Valid {
		m, err := ir.DecodeMetadata([]byte(meta.String))
		if err != nil {
			return ir.File{}, fmt.Errorf("file %s: %w", f.DID(), err)
		}
		f.Metadata = m
	}
	return f, nil
}

func scanDataset(row scanner) (ir.Dataset, error) {
	var (
		d                    ir.Dataset
		parentNS, parentName sql.NullString
		creator              sql.NullString
		created              sql.NullInt64
		meta                 string
	)
	err := row.Scan(&d.Namespace, &d.Name, &parentNS, &parentName, &d.Frozen, &d.Monotonic, &creator, &created, &meta)
	if err != nil {
		return ir.Dataset{}, fmt.Errorf("scan dataset: %w", err)
	}
	if parentNS.Valid && parentName.Valid {
		d.Parent = &ir.DID{Namespace: parentNS.String, Name: parentName.String}
	}
	d.Creator = creator.String
	d.CreatedTimestamp = created.Int64
	m, err := ir.DecodeMetadata([]byte(meta))
	if err != nil {
		return ir.Dataset{}, fmt.Errorf("dataset %s: %w", d.DID(), err)
	}
	d.Metadata = m
	return d, nil
}

func scanQuery(row scanner) (ir.NamedQuery, error) {
	var (
		q      ir.NamedQuery
		params string
	)
	if err := row.Scan(&q.Namespace, &q.Name, &q.Source, &params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.NamedQuery{}, err
		}
		return ir.NamedQuery{}, fmt.Errorf("scan named query: %w", err)
	}
	raw, err := ir.DecodeMetadata([]byte(params))
	if err != nil {
		return ir.NamedQuery{}, fmt.Errorf("query %s: params: %w", q.DID(), err)
	}
	if len(raw) > 0 {
		q.Params = make(map[string]ir.Value, len(raw))
		for k, v := range raw {
			val, err := ir.FromNative(v)
			if err != nil {
				return ir.NamedQuery{}, qerr.Wrap(qerr.CodeStore, err, "query %s: parameter %s", q.DID(), k)
			}
			q.Params[k] = val
		}
	}
	return q, nil
}

// jsonList encodes ids as one JSON array argument, expanded in SQL with
// json_each. Id lists of any length then bind a single parameter.
func jsonList(ids any) (string, error) {
	data, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("encode id list: %w", err)
	}
	return string(data), nil
}
