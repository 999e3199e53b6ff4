package retrieval

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/article-engine/internal/db"
)

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

// PostgresSearcher calls the match function directly over a pgx pool.
type PostgresSearcher struct {
	pool     db.Pool
	function string
}

// NewPostgresSearcher creates a searcher. The function name must be a plain
// (optionally schema-qualified) identifier.
func NewPostgresSearcher(pool db.Pool, function string) (*PostgresSearcher, error) {
	if function == "" {
		function = DefaultMatchFunction
	}
	if !identRe.MatchString(function) {
		return nil, eris.Errorf("retrieval: invalid match function %q", function)
	}
	return &PostgresSearcher{pool: pool, function: function}, nil
}

// Search implements Searcher.
func (s *PostgresSearcher) Search(ctx context.Context, vector []float32, threshold float64, limit int) ([]Match, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT clause_ref, content, similarity FROM `+db.QuoteTable(s.function)+`($1::vector, $2, $3)`,
		vectorLiteral(vector), threshold, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "retrieval: query %s", s.function)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ClauseRef, &m.Content, &m.Similarity); err != nil {
			return nil, eris.Wrap(err, "retrieval: scan match")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "retrieval: iterate matches")
}

// vectorLiteral renders a pgvector text literal such as "[0.1,0.2]".
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 10)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
