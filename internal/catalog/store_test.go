package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/menta2k/drink-preview/pkg/pricing"
	"github.com/menta2k/drink-preview/pkg/types"
)

type rowsBase struct{}

func (rowsBase) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }

func (rowsBase) Conn() *pgx.Conn { return nil }

func (rowsBase) FieldDescriptions() []pgconn.FieldDescription { return nil }

func (rowsBase) Values() ([]any, error) {
	return nil, fmt.Errorf("values not supported in test rows")
}

func (rowsBase) RawValues() [][]byte { return nil }

type fakeRows struct {
	rowsBase
	data [][]any
	i    int
}

func (r *fakeRows) Next() bool {
	if r.i < len(r.data) {
		r.i++
		return true
	}
	return false
}

func (r *fakeRows) Scan(dest ...any) error { return assign(r.data[r.i-1], dest) }
func (r *fakeRows) Close()                 {}
func (r *fakeRows) Err() error             { return nil }

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(r.values, dest)
}

func assign(values []any, dest []any) error {
	if len(values) != len(dest) {
		return fmt.Errorf("scan: %d values into %d targets", len(values), len(dest))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = values[i].(string)
		case **float64:
			if values[i] == nil {
				*p = nil
				continue
			}
			f := values[i].(float64)
			*p = &f
		default:
			return fmt.Errorf("scan: unsupported target %T", d)
		}
	}
	return nil
}

type fakeBatchResults struct {
	err error
}

func (b fakeBatchResults) Exec() (pgconn.CommandTag, error) { return pgconn.CommandTag{}, b.err }
func (b fakeBatchResults) Query() (pgx.Rows, error)         { return &fakeRows{}, b.err }
func (b fakeBatchResults) QueryRow() pgx.Row                { return fakeRow{err: b.err} }
func (b fakeBatchResults) Close() error                     { return b.err }

// fakeDB answers queries by the first registered fragment contained in the SQL.
type fakeDB struct {
	mu       sync.Mutex
	rows     map[string][][]any
	row      func(sql string, args []any) fakeRow
	queryErr error
	batch    *pgx.Batch
	batchErr error
	rowCalls []string
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	for frag, data := range f.rows {
		if strings.Contains(sql, frag) {
			return &fakeRows{data: data}, nil
		}
	}
	return &fakeRows{}, nil
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.mu.Lock()
	f.rowCalls = append(f.rowCalls, sql)
	f.mu.Unlock()
	if f.row == nil {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return f.row(sql, args)
}

func (f *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.batch = b
	return fakeBatchResults{err: f.batchErr}
}

func TestCatalog(t *testing.T) {
	db := &fakeDB{rows: map[string][][]any{
		"name FROM bases":    {{"Latte"}, {"Mocha"}},
		"name FROM milks":    {{"Oat Milk"}},
		"name FROM syrups":   {{"Vanilla"}},
		"name FROM toppings": {{"Whipped Cream"}, {"Cinnamon"}},
	}}
	c, err := NewStore(db, nil).Catalog(context.Background())
	if err != nil {
		t.Fatalf("Catalog: %v", err)
	}
	if len(c.Bases) != 2 || c.Milks[0] != "Oat Milk" || len(c.Toppings) != 2 {
		t.Fatalf("unexpected catalog: %+v", c)
	}
}

func TestCatalogError(t *testing.T) {
	db := &fakeDB{queryErr: errors.New("connection refused")}
	if _, err := NewStore(db, nil).Catalog(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestPriceFallsBackToPartialMatch(t *testing.T) {
	db := &fakeDB{row: func(sql string, args []any) fakeRow {
		if strings.Contains(sql, "ILIKE") && args[0] == "%Oat%" {
			return fakeRow{values: []any{0.7}}
		}
		return fakeRow{err: pgx.ErrNoRows}
	}}
	p, ok, err := NewStore(db, nil).Price(context.Background(), pricing.CategoryMilk, "Oat")
	if err != nil || !ok || p != 0.7 {
		t.Fatalf("got %v %v %v", p, ok, err)
	}
	if len(db.rowCalls) != 2 || !strings.Contains(db.rowCalls[0], "FROM milks WHERE name = $1") {
		t.Fatalf("expected exact then partial lookup, got %v", db.rowCalls)
	}
}

func TestPriceMissingAndNull(t *testing.T) {
	s := NewStore(&fakeDB{}, nil)
	if _, ok, err := s.Price(context.Background(), pricing.CategoryBase, "Nope"); ok || err != nil {
		t.Fatalf("missing option: ok=%v err=%v", ok, err)
	}

	db := &fakeDB{row: func(string, []any) fakeRow { return fakeRow{values: []any{nil}} }}
	p, ok, err := NewStore(db, nil).Price(context.Background(), pricing.CategoryBase, "Latte")
	if err != nil || !ok || p != 0 {
		t.Fatalf("NULL price: got %v %v %v", p, ok, err)
	}
}

func TestPriceColumnMissing(t *testing.T) {
	db := &fakeDB{row: func(string, []any) fakeRow {
		return fakeRow{err: &pgconn.PgError{Code: "42703", Message: `column "price" does not exist`}}
	}}
	_, _, err := NewStore(db, nil).Price(context.Background(), pricing.CategorySyrup, "Vanilla")
	if !errors.Is(err, pricing.ErrPricesUnavailable) {
		t.Fatalf("expected ErrPricesUnavailable, got %v", err)
	}
}

func TestPriceUnknownCategory(t *testing.T) {
	_, _, err := NewStore(&fakeDB{}, nil).Price(context.Background(), pricing.Category("users; DROP"), "x")
	if !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("expected ErrUnknownCategory, got %v", err)
	}
}

func TestLatestPreferences(t *testing.T) {
	s := NewStore(&fakeDB{}, nil)
	p, err := s.LatestPreferences(context.Background())
	if err != nil || p != nil {
		t.Fatalf("no rows should be nil, nil; got %v %v", p, err)
	}

	db := &fakeDB{row: func(string, []any) fakeRow {
		return fakeRow{values: []any{"nutty", "chocolate", "low", "full", "long"}}
	}}
	p, err = NewStore(db, nil).LatestPreferences(context.Background())
	if err != nil {
		t.Fatalf("LatestPreferences: %v", err)
	}
	if *p != (types.Preferences{Aroma: "nutty", Flavor: "chocolate", Acidity: "low", Body: "full", Aftertaste: "long"}) {
		t.Fatalf("unexpected preferences: %+v", p)
	}
}

func TestDocuments(t *testing.T) {
	db := &fakeDB{rows: map[string][][]any{
		"FROM cohere_documents": {{"base-1", "Latte: ...", "base", "Latte"}},
	}}
	docs, err := NewStore(db, nil).Documents(context.Background())
	if err != nil {
		t.Fatalf("Documents: %v", err)
	}
	if len(docs) != 1 || docs[0].Name != "Latte" || docs[0].Type != "base" {
		t.Fatalf("unexpected documents: %+v", docs)
	}

	missing := &fakeDB{queryErr: &pgconn.PgError{Code: "42P01"}}
	docs, err = NewStore(missing, nil).Documents(context.Background())
	if err != nil || docs != nil {
		t.Fatalf("untrained index should be empty, got %v %v", docs, err)
	}
}

func TestWizardEnabled(t *testing.T) {
	db := &fakeDB{row: func(string, []any) fakeRow { return fakeRow{values: []any{"completed"}} }}
	if ok, err := NewStore(db, nil).WizardEnabled(context.Background()); !ok || err != nil {
		t.Fatalf("got %v %v", ok, err)
	}
	if ok, err := NewStore(&fakeDB{}, nil).WizardEnabled(context.Background()); ok || err != nil {
		t.Fatalf("no status row: got %v %v", ok, err)
	}
}

func TestDefaultSizeAndTemperature(t *testing.T) {
	db := &fakeDB{row: func(sql string, _ []any) fakeRow {
		if strings.Contains(sql, "FROM sizes") {
			return fakeRow{values: []any{"Grande"}}
		}
		return fakeRow{values: []any{"Iced"}}
	}}
	size, temp, err := NewStore(db, nil).DefaultSizeAndTemperature(context.Background())
	if err != nil || size != "Grande" || temp != types.TempIced {
		t.Fatalf("got %q %q %v", size, temp, err)
	}
}

func TestTrainIndex(t *testing.T) {
	db := &fakeDB{rows: map[string][][]any{
		"FROM bases WHERE is_active = true ORDER BY id": {{"1", "Latte", "Espresso and milk", "sweet", "mild", "low", "medium", "short"}},
		"FROM milks ORDER BY id":                        {{"2", "Oat Milk", "nutty", "creamy"}},
		"FROM syrups ORDER BY id":                       {},
		"FROM toppings ORDER BY id":                     {{"4", "Cinnamon", "warm", "powdery"}},
	}}
	n, err := NewStore(db, nil).TrainIndex(context.Background())
	if err != nil {
		t.Fatalf("TrainIndex: %v", err)
	}
	if n != 3 {
		t.Fatalf("documents = %d, want 3", n)
	}
	var inserts []*pgx.QueuedQuery
	for _, q := range db.batch.QueuedQueries {
		if strings.HasPrefix(q.SQL, "INSERT INTO cohere_documents") {
			inserts = append(inserts, q)
		}
	}
	if len(inserts) != 3 {
		t.Fatalf("inserts = %d, want 3", len(inserts))
	}
	if inserts[0].Arguments[0] != "base-1" || inserts[1].Arguments[0] != "milk-2" {
		t.Fatalf("unexpected document ids: %v %v", inserts[0].Arguments, inserts[1].Arguments)
	}
	if string(inserts[2].Arguments[3].([]byte)) != `{"name":"Cinnamon"}` {
		t.Fatalf("unexpected data: %s", inserts[2].Arguments[3])
	}
}

func TestTrainIndexBatchError(t *testing.T) {
	db := &fakeDB{batchErr: errors.New("deadlock detected")}
	if _, err := NewStore(db, nil).TrainIndex(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
