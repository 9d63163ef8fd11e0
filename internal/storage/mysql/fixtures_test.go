package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	stdErrors "errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	xerrors "RM-Copilot/internal/errors"
	"RM-Copilot/internal/fixtures"
	"RM-Copilot/internal/knowledge"
)

func TestFixtureStoreLoad(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		queryOp(selectAccountsSQL, mockRowsData{
			columns: []string{"id", "owner", "balance", "type"},
			values: [][]driver.Value{
				{"12345", "John Doe", 50000.0, "Savings"},
				{"67890", "Jane Smith", 120000.0, "Checking"},
			},
		}),
		queryOp(selectNotesSQL, mockRowsData{
			columns: []string{"client_name", "note"},
			values: [][]driver.Value{
				{"Alice", "Prefers email."},
				{"Alice", "Interested in ESG."},
				{"Bob", "Call on Fridays."},
			},
		}),
		queryOp(selectArticlesSQL, mockRowsData{
			columns: []string{"id", "title", "content"},
			values: [][]driver.Value{
				{"kb1", "Wire limits", "Daily wire transfer limit is $50,000."},
			},
		}),
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	ds, err := NewFixtureStoreWithDB(db).Load(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(ds.Accounts) != 2 || ds.Accounts[1].Balance != 120000 || ds.Accounts[0].Owner != "John Doe" {
		t.Fatalf("unexpected accounts: %+v", ds.Accounts)
	}
	if len(ds.Clients) != 2 {
		t.Fatalf("expected 2 clients, got %+v", ds.Clients)
	}
	if ds.Clients[0].Name != "Alice" || len(ds.Clients[0].Notes) != 2 || ds.Clients[0].Notes[1] != "Interested in ESG." {
		t.Fatalf("unexpected notes grouping: %+v", ds.Clients[0])
	}
	want := knowledge.Article{ID: "kb1", Title: "Wire limits", Content: "Daily wire transfer limit is $50,000."}
	if len(ds.Articles) != 1 || ds.Articles[0] != want {
		t.Fatalf("unexpected articles: %+v", ds.Articles)
	}
}

func TestFixtureStoreLoadRejectsDuplicateAccounts(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		queryOp(selectAccountsSQL, mockRowsData{
			columns: []string{"id", "owner", "balance", "type"},
			values: [][]driver.Value{
				{"1", "A", 1.0, "Savings"},
				{"1", "B", 2.0, "Savings"},
			},
		}),
		queryOp(selectNotesSQL, mockRowsData{columns: []string{"client_name", "note"}}),
		queryOp(selectArticlesSQL, mockRowsData{columns: []string{"id", "title", "content"}}),
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	_, err := NewFixtureStoreWithDB(db).Load(context.Background())
	if xerrors.CodeOf(err) != xerrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestFixtureStoreLoadQueryFailure(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		{typ: opQuery, query: selectAccountsSQL, err: stdErrors.New("table missing")},
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	_, err := NewFixtureStoreWithDB(db).Load(context.Background())
	if xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected storage failure, got %v", err)
	}
}

func TestFixtureStoreSeed(t *testing.T) {
	t.Parallel()

	ds := &fixtures.Dataset{
		Accounts: []fixtures.Account{{ID: "12345", Owner: "John Doe", Balance: 50000, Type: "Savings"}},
		Clients:  []fixtures.ClientNotes{{Name: "Alice", Notes: []string{"n1", "n2"}}},
		Articles: []knowledge.Article{{ID: "kb1", Title: "t", Content: "c"}},
	}
	ops := []mockOperation{
		beginOp(),
		execOp("DELETE FROM crm_notes", mockResult{}),
		execOp("DELETE FROM kb_articles", mockResult{}),
		execOp("DELETE FROM accounts", mockResult{}),
		execOp(insertAccountSQL, mockResult{rowsAffected: 1}),
		execOp(insertNoteSQL, mockResult{rowsAffected: 1}),
		execOp(insertNoteSQL, mockResult{rowsAffected: 1}),
		execOp(insertArticleSQL, mockResult{rowsAffected: 1}),
		commitOp(),
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	if err := NewFixtureStoreWithDB(db).Seed(context.Background(), ds); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

func TestFixtureStoreSeedRollsBack(t *testing.T) {
	t.Parallel()

	ds := &fixtures.Dataset{
		Accounts: []fixtures.Account{{ID: "12345", Owner: "John Doe", Balance: 50000, Type: "Savings"}},
	}
	ops := []mockOperation{
		beginOp(),
		execOp("DELETE FROM crm_notes", mockResult{}),
		execOp("DELETE FROM kb_articles", mockResult{}),
		execOp("DELETE FROM accounts", mockResult{}),
		{typ: opExec, query: insertAccountSQL, err: stdErrors.New("duplicate entry")},
		rollbackOp(),
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	err := NewFixtureStoreWithDB(db).Seed(context.Background(), ds)
	if xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected storage failure, got %v", err)
	}
}

func TestFixtureStoreSeedValidatesDataset(t *testing.T) {
	t.Parallel()

	store := NewFixtureStoreWithDB(nil)
	ds := &fixtures.Dataset{Accounts: []fixtures.Account{{ID: " "}}}
	if err := store.Seed(context.Background(), ds); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestMigrateAppliesPendingFiles(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		execOp(createSchemaMigrationsSQL(), mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}}),
		beginOp(),
	}
	for _, stmt := range readMigrationStatements(t) {
		ops = append(ops, execOp(stmt, mockResult{}))
	}
	ops = append(ops,
		execOp(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mockResult{rowsAffected: 1}),
		commitOp(),
	)
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
}

func TestMigrateSkipsAppliedVersions(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		execOp(createSchemaMigrationsSQL(), mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{
			columns: []string{"version"},
			values:  [][]driver.Value{{"0001"}},
		}),
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
}

func TestMigrationHelpers(t *testing.T) {
	t.Parallel()

	if got := splitSQLStatements(" a ; ;b;\n"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected statements: %q", got)
	}
	cases := map[string]string{
		"0001_create.sql": "0001",
		"0002.sql":        "0002",
		"plain":           "plain",
	}
	for name, want := range cases {
		if got := parseMigrationVersion(name); got != want {
			t.Fatalf("parseMigrationVersion(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestOpenValidatesDSN(t *testing.T) {
	t.Parallel()

	for _, dsn := range []string{"", "  ", "not a dsn"} {
		if _, err := Open(context.Background(), Config{DSN: dsn}); xerrors.CodeOf(err) != xerrors.CodeConfigFailure {
			t.Fatalf("dsn %q: expected config failure, got %v", dsn, err)
		}
	}
}

func createSchemaMigrationsSQL() string {
	return `CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`
}

func readMigrationStatements(t *testing.T) []string {
	t.Helper()

	files, err := loadMigrationFiles(embeddedMigrations)
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected one migration file, got %d", len(files))
	}
	if !strings.HasPrefix(files[0].name, "0001_") {
		t.Fatalf("unexpected migration name %s", files[0].name)
	}
	return files[0].statements
}

type operationType int

const (
	opExec operationType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

type mockOperation struct {
	typ    operationType
	query  string
	result mockResult
	rows   mockRowsData
	err    error
}

type mockResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r mockResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r mockResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type mockRowsData struct {
	columns []string
	values  [][]driver.Value
}

type queueDriver struct {
	ops []mockOperation
	idx int32
}

var driverSeq atomic.Int32

func newMockDB(t *testing.T, ops []mockOperation) (*sql.DB, *queueDriver) {
	t.Helper()

	drv := &queueDriver{ops: ops}
	name := fmt.Sprintf("mock-mysql-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, drv
}

func execOp(query string, result mockResult) mockOperation {
	return mockOperation{typ: opExec, query: query, result: result}
}

func queryOp(query string, rows mockRowsData) mockOperation {
	return mockOperation{typ: opQuery, query: query, rows: rows}
}

func beginOp() mockOperation { return mockOperation{typ: opBegin} }

func commitOp() mockOperation { return mockOperation{typ: opCommit} }

func rollbackOp() mockOperation { return mockOperation{typ: opRollback} }

func (d *queueDriver) assertConsumed(t *testing.T) {
	t.Helper()

	if int(atomic.LoadInt32(&d.idx)) != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", atomic.LoadInt32(&d.idx), len(d.ops))
	}
}

func (d *queueDriver) Open(name string) (driver.Conn, error) {
	return &mockConn{driver: d}, nil
}

type mockConn struct {
	driver *queueDriver
}

func (c *mockConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *mockConn) Close() error { return nil }

func (c *mockConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *mockConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	op, err := c.next(opBegin, "")
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockTx{driver: c.driver}, nil
}

func (c *mockConn) Exec(query string, args []driver.Value) (driver.Result, error) {
	return c.ExecContext(context.Background(), query, named(args))
}

func (c *mockConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	op, err := c.next(opExec, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return op.result, nil
}

func (c *mockConn) Query(query string, args []driver.Value) (driver.Rows, error) {
	return c.QueryContext(context.Background(), query, named(args))
}

func (c *mockConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	op, err := c.next(opQuery, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockRows{columns: op.rows.columns, values: op.rows.values}, nil
}

func (c *mockConn) Ping(ctx context.Context) error { return nil }

func (c *mockConn) next(expected operationType, query string) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&c.driver.idx))
	if idx >= len(c.driver.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &c.driver.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", expected, op.typ)
	}
	atomic.AddInt32(&c.driver.idx, 1)
	if op.query != "" {
		expectedSQL := normalizeSQL(op.query)
		actualSQL := normalizeSQL(query)
		if expectedSQL != actualSQL {
			return nil, fmt.Errorf("unexpected query. want %q got %q", expectedSQL, actualSQL)
		}
	}
	return op, nil
}

type mockTx struct {
	driver *queueDriver
}

func (t *mockTx) Commit() error {
	op, err := t.next(opCommit)
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) Rollback() error {
	op, err := t.next(opRollback)
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) next(expected operationType) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&t.driver.idx))
	if idx >= len(t.driver.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &t.driver.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", expected, op.typ)
	}
	atomic.AddInt32(&t.driver.idx, 1)
	return op, nil
}

type mockRows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *mockRows) Columns() []string { return r.columns }
func (r *mockRows) Close() error      { return nil }

func (r *mockRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func named(args []driver.Value) []driver.NamedValue {
	namedArgs := make([]driver.NamedValue, len(args))
	for i, arg := range args {
		namedArgs[i] = driver.NamedValue{Ordinal: i + 1, Value: arg}
	}
	return namedArgs
}

func normalizeSQL(query string) string {
	fields := strings.Fields(query)
	return strings.Join(fields, " ")
}
