package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sqlite "modernc.org/sqlite"
)

// sqliteConstraint is the SQLITE_CONSTRAINT primary result code; extended
// constraint codes carry it in the low byte.
const sqliteConstraint = 19

// SQLite implements Store on an embedded SQLite database.
type SQLite struct {
	db    *sql.DB
	clock Clock
}

// Open opens (creating if necessary) the database at path, applies the
// production pragmas, and ensures the schema exists. Use ":memory:" for an
// ephemeral database in tests.
func Open(path string, clock Clock) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection sidesteps table-lock contention between pooled
	// connections; SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &SQLite{db: db, clock: clock}, nil
}

// Close releases the underlying connection.
func (s *SQLite) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// UpsertProduct implements Store. The select-then-write pair runs inside one
// transaction so two concurrent upserts for the same url_hash cannot both
// insert.
func (s *SQLite) UpsertProduct(ctx context.Context, c Candidate) (int64, bool, error) {
	if c.URLHash == "" {
		return 0, false, fmt.Errorf("%w: candidate has empty url_hash", ErrConstraintViolation)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var id int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM products WHERE url_hash = ?`, c.URLHash).Scan(&id)
	switch {
	case err == nil:
		_, err = tx.ExecContext(ctx, `
			UPDATE products
			SET title = ?, price = ?, review_score = ?, review_count = ?,
			    description = ?, image_url = ?, scraped_at = ?
			WHERE id = ?`,
			c.Title, c.Price, c.ReviewScore, c.ReviewCount,
			c.Description, c.ImageURL, c.ScrapedAt, id,
		)
		if err != nil {
			return 0, false, mapErr("update product", err)
		}
		if err := tx.Commit(); err != nil {
			return 0, false, fmt.Errorf("commit upsert: %w", err)
		}
		return id, false, nil

	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx, `
			INSERT INTO products
				(title, price, review_score, review_count, link, ecommerce,
				 is_used, scraped_at, sentiment_score, description, image_url, url_hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?)`,
			c.Title, c.Price, c.ReviewScore, c.ReviewCount, c.URL, c.Marketplace,
			c.IsUsed, c.ScrapedAt, c.Description, c.ImageURL, c.URLHash,
		)
		if err != nil {
			return 0, false, mapErr("insert product", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return 0, false, fmt.Errorf("insert product id: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return 0, false, fmt.Errorf("commit upsert: %w", err)
		}
		return id, true, nil

	default:
		return 0, false, fmt.Errorf("lookup url_hash: %w", err)
	}
}

// LinkProductToQuery implements Store via insert-or-ignore on the unique
// (product_id, query_id) constraint.
func (s *SQLite) LinkProductToQuery(ctx context.Context, productID, queryID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO product_queries (product_id, query_id, created_at)
		VALUES (?, ?, ?)`,
		productID, queryID, s.clock.Now(),
	)
	if err != nil {
		return mapErr("link product to query", err)
	}
	return nil
}

// GetOrCreateQuery implements Store. Text is normalized (trimmed,
// lowercased) before lookup so "Laptop " and "laptop" are one query.
func (s *SQLite) GetOrCreateQuery(ctx context.Context, text string) (int64, error) {
	norm := NormalizeQuery(text)
	if norm == "" {
		return 0, fmt.Errorf("%w: empty query text", ErrConstraintViolation)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO queries (query_text, created_at) VALUES (?, ?)`,
		norm, s.clock.Now(),
	); err != nil {
		return 0, mapErr("insert query", err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM queries WHERE query_text = ?`, norm).Scan(&id); err != nil {
		return 0, fmt.Errorf("select query id: %w", err)
	}
	return id, nil
}

// FetchUnscored implements Store with a keyset cursor over unscored rows.
func (s *SQLite) FetchUnscored(ctx context.Context, afterID int64, limit int) ([]Product, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, price, review_score, review_count, link, ecommerce,
		       is_used, scraped_at, sentiment_score, description, image_url, url_hash
		FROM products
		WHERE sentiment_score IS NULL AND id > ?
		ORDER BY id
		LIMIT ?`,
		afterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select unscored: %w", err)
	}
	defer rows.Close()
	return scanProducts(rows)
}

// CountUnscored implements Store.
func (s *SQLite) CountUnscored(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM products WHERE sentiment_score IS NULL`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unscored: %w", err)
	}
	return n, nil
}

// ApplySentimentScore implements Store as a single-row update.
func (s *SQLite) ApplySentimentScore(ctx context.Context, productID int64, score float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET sentiment_score = ? WHERE id = ?`, score, productID,
	)
	if err != nil {
		return mapErr("apply sentiment score", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("apply sentiment score rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: product %d", ErrNotFound, productID)
	}
	return nil
}

// ListProductsByQuery implements Store.
func (s *SQLite) ListProductsByQuery(ctx context.Context, queryText string) ([]Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.title, p.price, p.review_score, p.review_count, p.link,
		       p.ecommerce, p.is_used, p.scraped_at, p.sentiment_score,
		       p.description, p.image_url, p.url_hash
		FROM products p
		JOIN product_queries pq ON pq.product_id = p.id
		JOIN queries q ON q.id = pq.query_id
		WHERE q.query_text = ?
		ORDER BY p.scraped_at DESC, p.id DESC`,
		NormalizeQuery(queryText),
	)
	if err != nil {
		return nil, fmt.Errorf("select products by query: %w", err)
	}
	defer rows.Close()
	return scanProducts(rows)
}

// LinkQueries implements Store.
func (s *SQLite) LinkQueries(ctx context.Context, primaryID, linkedID int64, relationshipType string) error {
	if primaryID == linkedID {
		return fmt.Errorf("%w: query cannot link to itself", ErrConstraintViolation)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_links (primary_query_id, linked_query_id, relationship_type, created_at)
		VALUES (?, ?, ?, ?)`,
		primaryID, linkedID, relationshipType, s.clock.Now(),
	)
	if err != nil {
		return mapErr("link queries", err)
	}
	return nil
}

// LinkedQueries implements Store.
func (s *SQLite) LinkedQueries(ctx context.Context, primaryID int64) ([]QueryLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT primary_query_id, linked_query_id, relationship_type
		FROM query_links
		WHERE primary_query_id = ?
		ORDER BY id`,
		primaryID,
	)
	if err != nil {
		return nil, fmt.Errorf("select query links: %w", err)
	}
	defer rows.Close()

	var links []QueryLink
	for rows.Next() {
		var l QueryLink
		if err := rows.Scan(&l.PrimaryID, &l.LinkedID, &l.RelationshipType); err != nil {
			return nil, fmt.Errorf("scan query link: %w", err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate query links: %w", err)
	}
	return links, nil
}

// QueryText implements Store.
func (s *SQLite) QueryText(ctx context.Context, queryID int64) (string, error) {
	var text string
	err := s.db.QueryRowContext(ctx, `SELECT query_text FROM queries WHERE id = ?`, queryID).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: query %d", ErrNotFound, queryID)
	}
	if err != nil {
		return "", fmt.Errorf("select query text: %w", err)
	}
	return text, nil
}

// Stats implements Store.
func (s *SQLite) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM products),
			(SELECT COUNT(*) FROM products WHERE sentiment_score IS NOT NULL),
			(SELECT COUNT(DISTINCT url_hash) FROM products),
			(SELECT COUNT(*) FROM queries)`,
	).Scan(&st.TotalProducts, &st.ScoredCount, &st.UniqueURLs, &st.QueryCount)
	if err != nil {
		return Stats{}, fmt.Errorf("select stats: %w", err)
	}
	return st, nil
}

// ClearAll implements Store. All four tables go in one transaction or not at
// all.
func (s *SQLite) ClearAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Children first so foreign keys hold mid-transaction.
	for _, table := range []string{"product_queries", "query_links", "products", "queries"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return mapErr("clear "+table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clear: %w", err)
	}
	return nil
}

// NormalizeQuery canonicalizes query text: trimmed, inner whitespace
// collapsed, lowercased.
func NormalizeQuery(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

func scanProducts(rows *sql.Rows) ([]Product, error) {
	var out []Product
	for rows.Next() {
		var (
			p           Product
			url         sql.NullString
			marketplace sql.NullString
			description sql.NullString
			imageURL    sql.NullString
		)
		err := rows.Scan(
			&p.ID, &p.Title, &p.Price, &p.ReviewScore, &p.ReviewCount,
			&url, &marketplace, &p.IsUsed, &p.ScrapedAt, &p.SentimentScore,
			&description, &imageURL, &p.URLHash,
		)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		p.URL = url.String
		p.Marketplace = marketplace.String
		p.Description = description.String
		p.ImageURL = imageURL.String
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return out, nil
}

// mapErr converts driver constraint failures into ErrConstraintViolation so
// callers never depend on sqlite error text.
func mapErr(op string, err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == sqliteConstraint {
		return fmt.Errorf("%s: %w: %v", op, ErrConstraintViolation, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
