// Demo program: creates a table and index, runs inserts and a query
// pipeline through the executor package directly (no SQL layer — parsing
// and planning are out of scope here), and checkpoints before exit.
// Run: go run ./cmd/demo
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"relcore/engine"
	"relcore/exec"
	"relcore/types"
)

const dataDir = "databases/demo"

func studentSchema() types.Schema {
	return types.Schema{Columns: []types.ColumnDef{
		{Name: "id", Kind: types.KindInt},
		{Name: "name", Kind: types.KindChar, Len: 16},
		{Name: "age", Kind: types.KindInt},
	}}
}

// literalRows feeds a fixed in-memory row set into an Insert executor —
// stands in for a VALUES clause with no SQL layer present.
type literalRows struct {
	schema types.Schema
	rows   []types.Tuple
	pos    int
}

func (l *literalRows) Kind() exec.Kind        { return exec.KindSeqScan }
func (l *literalRows) Cols() types.Schema     { return l.schema }
func (l *literalRows) TupleLen() int          { return l.schema.RowWidth() }
func (l *literalRows) IsEnd() bool            { return l.pos >= len(l.rows) }
func (l *literalRows) Current() types.Tuple   { return l.rows[l.pos] }
func (l *literalRows) Rid() types.Rid         { return types.NilRid }
func (l *literalRows) Begin() error           { l.pos = 0; return nil }
func (l *literalRows) Next() error            { l.pos++; return nil }

func studentRow(id int32, name string, age int32) types.Tuple {
	nv, err := types.CharValue(name, 16)
	if err != nil {
		log.Fatalf("build row: %v", err)
	}
	return types.Tuple{Values: []types.Value{types.IntValue(id), nv, types.IntValue(age)}}
}

func main() {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		log.Fatalf("mkdir: %v", err)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	e, err := engine.Open(engine.Config{DataDir: dataDir, PoolCapacity: 64, Logger: logger})
	if err != nil {
		log.Fatalf("open engine: %v", err)
	}
	defer e.Close()

	schema := studentSchema()
	if err := e.CreateTable("students", schema, []string{"id"}); err != nil {
		log.Fatalf("create table: %v", err)
	}
	if err := e.CreateIndex("students_pk", "students", []string{"id"}); err != nil {
		log.Fatalf("create index: %v", err)
	}

	h, err := e.Table("students")
	if err != nil {
		log.Fatalf("table: %v", err)
	}
	bindings, err := e.IndexesOn("students")
	if err != nil {
		log.Fatalf("indexes: %v", err)
	}

	tr := e.Begin()
	src := &literalRows{schema: schema, rows: []types.Tuple{
		studentRow(1, "Alice", 20),
		studentRow(2, "Bob", 21),
		studentRow(3, "Carol", 19),
	}}
	ins := exec.NewInsert(src, h, bindings, "students", tr)
	if err := ins.Begin(); err != nil {
		log.Fatalf("insert: %v", err)
	}
	if err := e.Commit(tr); err != nil {
		log.Fatalf("commit: %v", err)
	}
	fmt.Printf("inserted %d rows\n", ins.Current().Values[0].I)

	fmt.Println("\n--- SeqScan students WHERE age >= 20 ---")
	scan := exec.NewSeqScan(h, schema, func(row types.Tuple) (bool, error) {
		return row.Values[2].I >= 20, nil
	})
	printAll(scan)

	fmt.Println("\n--- IndexScan students WHERE id = 2 (via students_pk) ---")
	idx, err := e.Index("students_pk")
	if err != nil {
		log.Fatalf("index: %v", err)
	}
	bloom, err := e.Bloom("students_pk")
	if err != nil {
		log.Fatalf("bloom: %v", err)
	}
	preds := []exec.ColumnPredicate{{Column: "id", Op: exec.OpEq, Value: types.IntValue(2)}}
	idxScan := exec.NewIndexScan(h, idx, schema, []int{0}, preds, bloom)
	printAll(idxScan)

	fmt.Println("\n--- Aggregation: COUNT(*), SUM(age) over all students ---")
	aggSchema := types.Schema{Columns: []types.ColumnDef{
		{Name: "cnt", Kind: types.KindInt},
		{Name: "age_sum", Kind: types.KindInt},
	}}
	agg := exec.NewAggregation(exec.NewSeqScan(h, schema, nil), nil, []exec.AggSpec{
		{Fn: exec.AggCountStar},
		{Fn: exec.AggSum, Col: 2},
	}, nil, aggSchema)
	printAll(agg)

	if err := e.Checkpoint(context.Background()); err != nil {
		log.Fatalf("checkpoint: %v", err)
	}
	fmt.Println("\nDone. Inspect:", dataDir+"/*.tbl", "and", dataDir+"/*.idx")
}

func printAll(e exec.Executor) {
	if err := e.Begin(); err != nil {
		log.Fatalf("begin %s: %v", e.Kind(), err)
	}
	for !e.IsEnd() {
		fmt.Println(formatRow(e.Current()))
		if err := e.Next(); err != nil {
			log.Fatalf("next %s: %v", e.Kind(), err)
		}
	}
}

func formatRow(row types.Tuple) string {
	out := "("
	for i, v := range row.Values {
		if i > 0 {
			out += ", "
		}
		switch v.Kind {
		case types.KindChar:
			out += trimZero(v.S)
		case types.KindFloat:
			out += fmt.Sprintf("%v", v.F)
		default:
			out += fmt.Sprintf("%d", v.I)
		}
	}
	return out + ")"
}

func trimZero(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}
