package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ivmfnal/metacat-sub001/internal/ir"
)

// AddDataset inserts or replaces a dataset. A parent must already exist
// (foreign key).
func (s *Store) AddDataset(ctx context.Context, d ir.Dataset) error {
	meta, err := ir.EncodeMetadata(d.Metadata)
	if err != nil {
		return fmt.Errorf("add dataset %s: %w", d.DID(), err)
	}
	var parentNS, parentName sql.NullString
	if d.Parent != nil {
		parentNS = sql.NullString{String: d.Parent.Namespace, Valid: true}
		parentName = sql.NullString{String: d.Parent.Name, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO datasets
		(namespace, name, parent_namespace, parent_name, frozen, monotonic, creator, created_timestamp, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(namespace, name) DO UPDATE SET
			parent_namespace = excluded.parent_namespace,
			parent_name = excluded.parent_name,
			frozen = excluded.frozen,
			monotonic = excluded.monotonic,
			creator = excluded.creator,
			created_timestamp = excluded.created_timestamp,
			metadata = excluded.metadata
	`,
		d.Namespace,
		d.Name,
		parentNS,
		parentName,
		d.Frozen,
		d.Monotonic,
		nullString(d.Creator),
		nullInt(d.CreatedTimestamp),
		string(meta),
	)
	if err != nil {
		return fmt.Errorf("add dataset %s: %w", d.DID(), err)
	}
	return nil
}

// AddFile inserts a file and its dataset memberships in one transaction.
// A file without an FID is assigned a random one; the stored file is
// returned with its metadata as it reads back.
func (s *Store) AddFile(ctx context.Context, f ir.File, datasets []ir.DID) (ir.File, error) {
	if f.FID == "" {
		f.FID = uuid.NewString()
	}
	meta, err := ir.EncodeMetadata(f.Metadata)
	if err != nil {
		return ir.File{}, fmt.Errorf("add file %s: %w", f.DID(), err)
	}
	if f.Metadata, err = ir.DecodeMetadata(meta); err != nil {
		return ir.File{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ir.File{}, fmt.Errorf("add file %s: %w", f.DID(), err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO files (fid, namespace, name, size, creator, created_timestamp, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fid) DO UPDATE SET
			size = excluded.size,
			creator = excluded.creator,
			created_timestamp = excluded.created_timestamp,
			metadata = excluded.metadata
	`,
		f.FID,
		f.Namespace,
		f.Name,
		f.Size,
		nullString(f.Creator),
		nullInt(f.CreatedTimestamp),
		string(meta),
	)
	if err != nil {
		return ir.File{}, fmt.Errorf("add file %s: %w", f.DID(), err)
	}

	for _, d := range datasets {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO files_datasets (fid, dataset_namespace, dataset_name)
			VALUES (?, ?, ?)
			ON CONFLICT DO NOTHING
		`, f.FID, d.Namespace, d.Name)
		if err != nil {
			return ir.File{}, fmt.Errorf("add file %s to %s: %w", f.DID(), d, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ir.File{}, fmt.Errorf("add file %s: %w", f.DID(), err)
	}
	return f, nil
}

// AddProvenance records parentFID as a parent of childFID. Both files
// must exist.
func (s *Store) AddProvenance(ctx context.Context, parentFID, childFID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO parent_child (parent_fid, child_fid)
		VALUES (?, ?)
		ON CONFLICT DO NOTHING
	`, parentFID, childFID)
	if err != nil {
		return fmt.Errorf("add provenance %s -> %s: %w", parentFID, childFID, err)
	}
	return nil
}

// PutQuery inserts or replaces a named query.
func (s *Store) PutQuery(ctx context.Context, q ir.NamedQuery) error {
	params, err := ir.MarshalCanonical(nativeParams(q.Params))
	if err != nil {
		return fmt.Errorf("put query %s: %w", q.DID(), err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO queries (namespace, name, source, params)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, name) DO UPDATE SET
			source = excluded.source,
			params = excluded.params
	`, q.Namespace, q.Name, q.Source, string(params))
	if err != nil {
		return fmt.Errorf("put query %s: %w", q.DID(), err)
	}
	return nil
}

func nativeParams(params map[string]ir.Value) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	return ir.NativeMap(params)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}
