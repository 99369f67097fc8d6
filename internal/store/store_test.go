package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	tables := []string{"datasets", "files", "files_datasets", "parent_child", "queries"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

// Pragmas are set per connection, so check them on several.

func TestPragmas(t *testing.T) {
	s := openTestStore(t)

	tests := []struct {
		name, want string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		if err := s.verifyPragma(tt.name, tt.want); err != nil {
			t.Error(err)
		}
	}
}

func TestRegexpFunction(t *testing.T) {
	s := openTestStore(t)

	tests := []struct {
		query string
		want  bool
	}{
		{"SELECT 'run_2024' REGEXP '^run_\\d+$'", true},
		{"SELECT 'Run' REGEXP '(?i)^run$'", true},
		{"SELECT 'x' REGEXP 'y'", false},
		{"SELECT 42 REGEXP '4'", false},
		{"SELECT json_extract('{\"a\":\"bc\"}', '$.a') REGEXP 'c$'", true},
	}
	for _, tt := range tests {
		var got bool
		if err := s.db.QueryRow(tt.query).Scan(&got); err != nil {
			t.Fatalf("%s: %v", tt.query, err)
		}
		if got != tt.want {
			t.Errorf("%s = %v, want %v", tt.query, got, tt.want)
		}
	}

	var got bool
	if err := s.db.QueryRow("SELECT 'x' REGEXP '('").Scan(&got); err == nil {
		t.Error("invalid pattern should fail")
	}
}

func TestSchema_FilesTable(t *testing.T) {
	s := openTestStore(t)

	columns := getTableColumns(t, s.db, "files")
	expected := []string{"fid", "namespace", "name", "size", "creator", "created_timestamp", "metadata"}
	for _, col := range expected {
		if !contains(columns, col) {
			t.Errorf("files table missing column %q", col)
		}
	}
}

func TestSchema_DatasetsTable(t *testing.T) {
	s := openTestStore(t)

	columns := getTableColumns(t, s.db, "datasets")
	expected := []string{
		"namespace", "name", "parent_namespace", "parent_name",
		"frozen", "monotonic", "creator", "created_timestamp", "metadata",
	}
	for _, col := range expected {
		if !contains(columns, col) {
			t.Errorf("datasets table missing column %q", col)
		}
	}
}

func TestSchema_Indexes(t *testing.T) {
	s := openTestStore(t)

	if !contains(getTableIndexes(t, s.db, "datasets"), "idx_datasets_parent") {
		t.Error("datasets table missing index idx_datasets_parent")
	}
	if !contains(getTableIndexes(t, s.db, "parent_child"), "idx_parent_child_child") {
		t.Error("parent_child table missing index idx_parent_child_child")
	}
}

func TestConstraint_MembershipNeedsDataset(t *testing.T) {
	s := openTestStore(t)

	_, err := s.db.Exec(`INSERT INTO files (fid, namespace, name) VALUES ('f1', 'n', 'a')`)
	if err != nil {
		t.Fatalf("failed to insert file: %v", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO files_datasets (fid, dataset_namespace, dataset_name)
		VALUES ('f1', 'n', 'missing')
	`)
	if err == nil {
		t.Error("expected foreign key error for missing dataset")
	}
}

func TestConstraint_UniqueFileName(t *testing.T) {
	s := openTestStore(t)

	_, err := s.db.Exec(`INSERT INTO files (fid, namespace, name) VALUES ('f1', 'n', 'a')`)
	if err != nil {
		t.Fatalf("failed to insert file: %v", err)
	}
	_, err = s.db.Exec(`INSERT INTO files (fid, namespace, name) VALUES ('f2', 'n', 'a')`)
	if err == nil {
		t.Error("expected unique constraint error for duplicate namespace:name")
	}
}

// Migration tests

func TestMigration_SchemaVersion(t *testing.T) {
	s := openTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestMigration_UpgradeFromV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := sql.Open(DriverName, path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 0"); err != nil {
		t.Fatalf("failed to set user_version: %v", err)
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
	if !contains(getTableIndexes(t, s.db, "files_datasets"), "idx_files_datasets_dataset") {
		t.Error("migration did not create idx_files_datasets_dataset")
	}
}

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to get indexes for %q: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
