package indexer

const (
	createSchema = `
CREATE TABLE IF NOT EXISTS documents (
	doc_id     BIGINT PRIMARY KEY,
	url        TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	length     INTEGER NOT NULL,
	category   TEXT NOT NULL DEFAULT '',
	brand      TEXT NOT NULL DEFAULT '',
	price      DOUBLE PRECISION NOT NULL DEFAULT 0,
	segment    BIGINT NOT NULL,
	indexed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS terms (
	id   BIGSERIAL PRIMARY KEY,
	term TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS postings (
	term_id   BIGINT NOT NULL REFERENCES terms(id),
	doc_id    BIGINT NOT NULL REFERENCES documents(doc_id),
	positions INTEGER[] NOT NULL,
	PRIMARY KEY (term_id, doc_id)
);`

	insertDocuments = `INSERT INTO documents (doc_id, url, title, length, category, brand, price, segment)
						VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
						ON CONFLICT(doc_id) DO UPDATE SET
								segment = EXCLUDED.segment,
								indexed_at = NOW()
						`
	insertMissingTerms = `INSERT INTO terms (term)
							SELECT unnest($1::text[])
							ON CONFLICT (term) DO NOTHING
							`
	getIDsByTerms  = `SELECT id, term FROM terms WHERE term = ANY($1::text[])`
	insertPostings = `INSERT INTO postings (term_id, doc_id, positions)
				VALUES ($1, $2, $3)
				ON CONFLICT (term_id, doc_id) DO UPDATE SET
					positions = EXCLUDED.positions`
)
