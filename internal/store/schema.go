package store

// schema creates the three persisted tables. Each statement runs on its own
// because lib/pq rejects multi-statement Exec with arguments and modernc
// only reports the first error.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS chapters (
		doc_id        TEXT PRIMARY KEY,
		book          TEXT NOT NULL DEFAULT '',
		chapter_title TEXT NOT NULL DEFAULT '',
		text          TEXT NOT NULL,
		doc_length    INTEGER NOT NULL CHECK (doc_length >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS inverted_index (
		token     TEXT NOT NULL,
		doc_id    TEXT NOT NULL,
		frequency INTEGER NOT NULL CHECK (frequency > 0),
		UNIQUE (token, doc_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_inverted_index_token ON inverted_index (token)`,
	`CREATE INDEX IF NOT EXISTS idx_inverted_index_doc ON inverted_index (doc_id)`,
	`CREATE TABLE IF NOT EXISTS vocabulary (
		token              TEXT PRIMARY KEY,
		document_frequency INTEGER NOT NULL CHECK (document_frequency >= 0)
	)`,
}

var dropSchema = []string{
	`DROP TABLE IF EXISTS inverted_index`,
	`DROP TABLE IF EXISTS vocabulary`,
	`DROP TABLE IF EXISTS chapters`,
}

const (
	qSelectDocTokens = `SELECT token FROM inverted_index WHERE doc_id = ?`
	qDeletePosting   = `DELETE FROM inverted_index WHERE token = ? AND doc_id = ?`
	qDecrementDF     = `UPDATE vocabulary SET document_frequency = document_frequency - 1 WHERE token = ?`
	qDeleteZeroDF    = `DELETE FROM vocabulary WHERE document_frequency <= 0`
	qUpsertPosting   = `INSERT INTO inverted_index (token, doc_id, frequency) VALUES (?, ?, ?)
		ON CONFLICT (token, doc_id) DO UPDATE SET frequency = excluded.frequency`
	qIncrementDF = `INSERT INTO vocabulary (token, document_frequency) VALUES (?, 1)
		ON CONFLICT (token) DO UPDATE SET document_frequency = vocabulary.document_frequency + 1`
	qUpsertChapter = `INSERT INTO chapters (doc_id, book, chapter_title, text, doc_length) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (doc_id) DO UPDATE SET
			book = excluded.book,
			chapter_title = excluded.chapter_title,
			text = excluded.text,
			doc_length = excluded.doc_length`
	qDeleteChapter   = `DELETE FROM chapters WHERE doc_id = ?`
	qInsertChapter   = `INSERT INTO chapters (doc_id, book, chapter_title, text, doc_length) VALUES (?, ?, ?, ?, ?)`
	qInsertPosting   = `INSERT INTO inverted_index (token, doc_id, frequency) VALUES (?, ?, ?)`
	qInsertVocab     = `INSERT INTO vocabulary (token, document_frequency) VALUES (?, ?)`
	qSelectChapters  = `SELECT doc_id, book, chapter_title, text, doc_length FROM chapters ORDER BY doc_id`
	qSelectPostings  = `SELECT token, doc_id, frequency FROM inverted_index`
	qSelectVocab     = `SELECT token, document_frequency FROM vocabulary`
	qSelectChapterIn = `SELECT doc_id, book, chapter_title, text, doc_length FROM chapters WHERE doc_id IN (%s)`
)
