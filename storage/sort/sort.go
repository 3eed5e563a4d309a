// Package sort implements the external merge sorter — spec §2 component 5.
// Rows are buffered in memory, sorted, and spilled to memory-mapped run
// files; the merge phase pulls the global minimum out of a loser tree with
// 2^ceil(log2(R)) leaves over the R runs, where padding leaves beyond the
// last run always lose.
package sort

import (
	"os"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"relcore/relerr"
	"relcore/types"
)

// ExternalSorter accumulates tuples via Write, spills sorted runs once the
// in-memory buffer fills, and merges the runs into a single sorted stream on
// Read after EndWrite/BeginRead.
type ExternalSorter struct {
	schema     types.Schema
	keyCols    []int
	rowWidth   int
	tmpDir     string
	memBudget  int

	buffer []types.Tuple
	runs   []*run
	lt     *loserTree
}

// New creates a sorter over schema's rows, ordered by keyCols (column
// indices into schema, ascending), spilling every memBudget rows and writing
// run files under tmpDir.
func New(schema types.Schema, keyCols []int, memBudget int, tmpDir string) *ExternalSorter {
	if memBudget <= 0 {
		memBudget = 1024
	}
	return &ExternalSorter{
		schema:    schema,
		keyCols:   keyCols,
		rowWidth:  schema.RowWidth(),
		tmpDir:    tmpDir,
		memBudget: memBudget,
	}
}

func (s *ExternalSorter) less(a, b types.Tuple) (bool, error) {
	for _, c := range s.keyCols {
		cmp, err := types.Compare(a.Values[c], b.Values[c])
		if err != nil {
			return false, err
		}
		if cmp != 0 {
			return cmp < 0, nil
		}
	}
	return false, nil
}

// Write buffers row, spilling a sorted run to disk once the buffer is full.
func (s *ExternalSorter) Write(row types.Tuple) error {
	s.buffer = append(s.buffer, row.Clone())
	if len(s.buffer) >= s.memBudget {
		return s.spill()
	}
	return nil
}

func (s *ExternalSorter) spill() error {
	if len(s.buffer) == 0 {
		return nil
	}
	var sortErr error
	sort.SliceStable(s.buffer, func(i, j int) bool {
		if sortErr != nil {
			return false
		}
		lt, err := s.less(s.buffer[i], s.buffer[j])
		if err != nil {
			sortErr = err
		}
		return lt
	})
	if sortErr != nil {
		return sortErr
	}

	f, err := os.CreateTemp(s.tmpDir, "relcore-run-*.tmp")
	if err != nil {
		return errors.Wrap(relerr.ErrUnixError, err.Error())
	}
	path := f.Name()
	for _, row := range s.buffer {
		buf, err := types.EncodeTuple(s.schema, row.Values)
		if err != nil {
			f.Close()
			os.Remove(path)
			return err
		}
		if _, err := f.Write(buf); err != nil {
			f.Close()
			os.Remove(path)
			return errors.Wrap(relerr.ErrUnixError, err.Error())
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrap(relerr.ErrUnixError, err.Error())
	}
	numRows := len(s.buffer)
	s.buffer = s.buffer[:0]

	r, err := openRun(f, path, s.schema, numRows, s.rowWidth)
	if err != nil {
		return err
	}
	s.runs = append(s.runs, r)
	return nil
}

// EndWrite seals the write phase, spilling any remaining buffered rows as a
// final run.
func (s *ExternalSorter) EndWrite() error {
	return s.spill()
}

// BeginRead rewinds every run and constructs the loser tree that drives
// Read/IsEnd.
func (s *ExternalSorter) BeginRead() error {
	for _, r := range s.runs {
		r.rewind()
	}
	s.lt = newLoserTree(s.runs, s.less)
	return s.lt.init()
}

// IsEnd reports whether the merge has been exhausted.
func (s *ExternalSorter) IsEnd() bool {
	return s.lt == nil || s.lt.exhausted()
}

// Read returns the next tuple in global sorted order and advances the merge.
func (s *ExternalSorter) Read() (types.Tuple, error) {
	if s.IsEnd() {
		return types.Tuple{}, errors.Wrap(relerr.ErrInternal, "sort: read past end of merge")
	}
	return s.lt.next()
}

// Close releases every run's mmap and removes its temp file.
func (s *ExternalSorter) Close() error {
	var firstErr error
	for _, r := range s.runs {
		if err := r.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.runs = nil
	return firstErr
}

// run is one sorted, memory-mapped spill file.
type run struct {
	path     string
	data     []byte
	rowWidth int
	numRows  int
	schema   types.Schema
	cursor   int
}

func openRun(f *os.File, path string, schema types.Schema, numRows, rowWidth int) (*run, error) {
	defer f.Close()
	size := numRows * rowWidth
	var data []byte
	if size > 0 {
		fd, err := os.OpenFile(path, os.O_RDONLY, 0)
		if err != nil {
			return nil, errors.Wrap(relerr.ErrUnixError, err.Error())
		}
		defer fd.Close()
		data, err = unix.Mmap(int(fd.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
		if err != nil {
			return nil, errors.Wrap(relerr.ErrUnixError, err.Error())
		}
	}
	return &run{path: path, data: data, rowWidth: rowWidth, numRows: numRows, schema: schema}, nil
}

func (r *run) rewind() { r.cursor = 0 }

// peek returns the current row, or ok=false if the run is exhausted.
func (r *run) peek() (types.Tuple, bool, error) {
	if r.cursor >= r.numRows {
		return types.Tuple{}, false, nil
	}
	off := r.cursor * r.rowWidth
	t, err := types.DecodeTuple(r.schema, r.data[off:off+r.rowWidth])
	if err != nil {
		return types.Tuple{}, false, err
	}
	return t, true, nil
}

func (r *run) advance() { r.cursor++ }

func (r *run) close() error {
	var firstErr error
	if r.data != nil {
		if err := unix.Munmap(r.data); err != nil && firstErr == nil {
			firstErr = errors.Wrap(relerr.ErrUnixError, err.Error())
		}
	}
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) && firstErr == nil {
		firstErr = errors.Wrap(relerr.ErrUnixError, err.Error())
	}
	return firstErr
}

// loserTree is a classic tournament tree of losers over the runs, held as a
// 1-indexed complete binary tree in an array of size s (a power of two,
// s = 2^ceil(log2(numRuns))); tree[1..s-1] hold the loser at each internal
// node, the current overall winner's leaf index is kept in winner, and
// tree[0] is unused. Leaves are implicit (leaf i sits at position s+i); leaf
// indices at or beyond numRuns are padding that always loses.
type loserTree struct {
	s       int
	tree    []int
	winner  int
	runs    []*run
	less    func(a, b types.Tuple) (bool, error)
	current []types.Tuple
	valid   []bool
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p *= 2
	}
	if p == 0 {
		p = 1
	}
	return p
}

func newLoserTree(runs []*run, less func(a, b types.Tuple) (bool, error)) *loserTree {
	s := nextPow2(len(runs))
	if s == 0 {
		s = 1
	}
	return &loserTree{
		s:       s,
		tree:    make([]int, s),
		runs:    runs,
		less:    less,
		current: make([]types.Tuple, len(runs)),
		valid:   make([]bool, len(runs)),
	}
}

// leafLess reports whether leaf a should win over leaf b. An out-of-range or
// exhausted leaf (a padding leaf beyond the last run, or a run that ran dry)
// always loses.
func (lt *loserTree) leafLess(a, b int) (bool, error) {
	av, bv := lt.leafValid(a), lt.leafValid(b)
	switch {
	case !av && !bv:
		return false, nil
	case !av:
		return false, nil
	case !bv:
		return true, nil
	}
	return lt.less(lt.current[a], lt.current[b])
}

func (lt *loserTree) leafValid(i int) bool {
	return i >= 0 && i < len(lt.runs) && lt.valid[i]
}

func (lt *loserTree) loadLeaf(i int) error {
	if i < 0 || i >= len(lt.runs) {
		return nil
	}
	t, ok, err := lt.runs[i].peek()
	if err != nil {
		return err
	}
	lt.valid[i] = ok
	if ok {
		lt.current[i] = t
	}
	return nil
}

// init builds the tree by playing each leaf in turn, per the standard
// incremental tournament-tree construction.
func (lt *loserTree) init() error {
	for i := range lt.tree {
		lt.tree[i] = -1
	}
	for i := 0; i < len(lt.runs); i++ {
		if err := lt.loadLeaf(i); err != nil {
			return err
		}
	}
	for i := 0; i < lt.s; i++ {
		winner := i
		t := (i + lt.s) / 2
		for t > 0 {
			if lt.tree[t] == -1 {
				lt.tree[t] = winner
				break
			}
			lessThan, err := lt.leafLess(winner, lt.tree[t])
			if err != nil {
				return err
			}
			if !lessThan {
				winner, lt.tree[t] = lt.tree[t], winner
			}
			t /= 2
		}
		if t == 0 {
			lt.winner = winner
		}
	}
	return nil
}

// replay re-plays leaf up to the root after its run advances.
func (lt *loserTree) replay(leaf int) error {
	winner := leaf
	t := (leaf + lt.s) / 2
	for t > 0 {
		lessThan, err := lt.leafLess(winner, lt.tree[t])
		if err != nil {
			return err
		}
		if !lessThan {
			winner, lt.tree[t] = lt.tree[t], winner
		}
		t /= 2
	}
	lt.winner = winner
	return nil
}

func (lt *loserTree) exhausted() bool {
	return !lt.leafValid(lt.winner)
}

func (lt *loserTree) next() (types.Tuple, error) {
	winnerLeaf := lt.winner
	row := lt.current[winnerLeaf]
	lt.runs[winnerLeaf].advance()
	if err := lt.loadLeaf(winnerLeaf); err != nil {
		return types.Tuple{}, err
	}
	if err := lt.replay(winnerLeaf); err != nil {
		return types.Tuple{}, err
	}
	return row, nil
}
