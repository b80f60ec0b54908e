package store

import (
	"context"
	"fmt"
	"math/rand/v2"
)

// PredicateCount is the number of statements sharing a predicate.
type PredicateCount struct {
	Predicate string `json:"predicate"`
	Count     int64  `json:"count"`
}

// predicateExpr extracts the text before the first '(' of a statement.
func (s *Store) predicateExpr() string {
	return fmt.Sprintf("TRIM(SUBSTR(%[1]s, 1, INSTR(%[1]s, '(') - 1))", s.column)
}

// PredicateCounts returns predicate frequencies, most frequent first, ties by name.
// Statements without '(' are not counted.
func (s *Store) PredicateCounts(ctx context.Context) ([]PredicateCount, error) {
	q := fmt.Sprintf(`SELECT %s AS predicate, COUNT(*) AS n FROM %s
		WHERE INSTR(%s, '(') > 1
		GROUP BY predicate
		ORDER BY n DESC, predicate ASC`, s.predicateExpr(), s.table, s.column)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to count predicates: %w", err)
	}
	defer rows.Close()

	var out []PredicateCount
	for rows.Next() {
		var pc PredicateCount
		if err := rows.Scan(&pc.Predicate, &pc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan predicate count: %w", err)
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}

// Statements streams statements in rowid order. A limit of 0 streams everything.
func (s *Store) Statements(ctx context.Context, limit int, fn func(id int64, statement string) error) error {
	q := fmt.Sprintf("SELECT rowid, %s FROM %s ORDER BY rowid", s.column, s.table)
	args := []any{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	return s.scan(ctx, q, args, fn)
}

// Recent returns the newest n statements, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]string, error) {
	q := fmt.Sprintf("SELECT rowid, %s FROM %s ORDER BY rowid DESC LIMIT ?", s.column, s.table)
	var out []string
	err := s.scan(ctx, q, []any{n}, func(_ int64, st string) error {
		out = append(out, st)
		return nil
	})
	return out, err
}

// SamplePredicate draws up to n statements of one predicate by reservoir sampling over
// rowid order, so a seeded rng gives the same sample for the same database.
func (s *Store) SamplePredicate(ctx context.Context, predicate string, n int, rng *rand.Rand) ([]string, error) {
	q := fmt.Sprintf("SELECT rowid, %s FROM %s WHERE %s = ? ORDER BY rowid", s.column, s.table, s.predicateExpr())
	r := newReservoir(n, rng)
	if err := s.scan(ctx, q, []any{predicate}, func(_ int64, st string) error {
		r.offer(st)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to sample predicate %s: %w", predicate, err)
	}
	return r.items, nil
}

// SampleRandom draws up to n statements from the whole table, skipping excluded ones.
func (s *Store) SampleRandom(ctx context.Context, n int, rng *rand.Rand, exclude map[string]bool) ([]string, error) {
	q := fmt.Sprintf("SELECT rowid, %s FROM %s ORDER BY rowid", s.column, s.table)
	r := newReservoir(n, rng)
	if err := s.scan(ctx, q, nil, func(_ int64, st string) error {
		if !exclude[st] {
			r.offer(st)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to sample statements: %w", err)
	}
	return r.items, nil
}

// Duplicate is a statement stored more than once.
type Duplicate struct {
	Statement string `json:"statement"`
	Count     int64  `json:"count"`
}

// ExactDuplicates lists statements that occur more than once, most repeated first.
func (s *Store) ExactDuplicates(ctx context.Context, limit int) ([]Duplicate, error) {
	q := fmt.Sprintf(`SELECT %[1]s, COUNT(*) AS c FROM %[2]s
		GROUP BY %[1]s HAVING c > 1
		ORDER BY c DESC, %[1]s ASC LIMIT ?`, s.column, s.table)
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find duplicates: %w", err)
	}
	defer rows.Close()

	var out []Duplicate
	for rows.Next() {
		var d Duplicate
		if err := rows.Scan(&d.Statement, &d.Count); err != nil {
			return nil, fmt.Errorf("failed to scan duplicate: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) scan(ctx context.Context, q string, args []any, fn func(int64, string) error) error {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id int64
			st string
		)
		if err := rows.Scan(&id, &st); err != nil {
			return err
		}
		if err := fn(id, st); err != nil {
			return err
		}
	}
	return rows.Err()
}

// reservoir implements Algorithm R.
type reservoir struct {
	size  int
	seen  int
	items []string
	rng   *rand.Rand
}

func newReservoir(size int, rng *rand.Rand) *reservoir {
	if size < 0 {
		size = 0
	}
	return &reservoir{size: size, rng: rng, items: make([]string, 0, size)}
}

func (r *reservoir) offer(item string) {
	r.seen++
	if len(r.items) < r.size {
		r.items = append(r.items, item)
		return
	}
	if r.size == 0 {
		return
	}
	if j := r.rng.IntN(r.seen); j < r.size {
		r.items[j] = item
	}
}
