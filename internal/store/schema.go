package store

// schema mirrors the tables the rest of the system depends on. CREATE IF NOT
// EXISTS keeps reopening an existing database cheap and idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS products (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	title           TEXT NOT NULL,
	price           REAL,
	review_score    REAL,
	review_count    INTEGER,
	link            TEXT,
	ecommerce       TEXT,
	is_used         BOOLEAN NOT NULL DEFAULT 0,
	scraped_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	sentiment_score REAL,
	description     TEXT,
	image_url       TEXT,
	url_hash        TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS queries (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	query_text TEXT NOT NULL UNIQUE,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS product_queries (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	product_id INTEGER NOT NULL,
	query_id   INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (product_id) REFERENCES products(id),
	FOREIGN KEY (query_id) REFERENCES queries(id),
	UNIQUE (product_id, query_id)
);

CREATE TABLE IF NOT EXISTS query_links (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	primary_query_id  INTEGER NOT NULL,
	linked_query_id   INTEGER NOT NULL,
	relationship_type TEXT NOT NULL,
	created_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (primary_query_id) REFERENCES queries(id),
	FOREIGN KEY (linked_query_id) REFERENCES queries(id),
	UNIQUE (primary_query_id, linked_query_id)
);

CREATE INDEX IF NOT EXISTS idx_products_ecommerce ON products (ecommerce);
CREATE INDEX IF NOT EXISTS idx_products_scraped_at ON products (scraped_at);
CREATE INDEX IF NOT EXISTS idx_products_unscored ON products (id) WHERE sentiment_score IS NULL;
CREATE INDEX IF NOT EXISTS idx_product_queries_product_id ON product_queries (product_id);
CREATE INDEX IF NOT EXISTS idx_product_queries_query_id ON product_queries (query_id);
`
