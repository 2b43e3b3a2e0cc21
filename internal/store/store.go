// Package store persists chapters, postings and the vocabulary aggregate in a
// SQL database. Every write runs in a single transaction: either the whole
// batch lands or nothing does.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/postgres"
)

// maxInParams bounds the IN (...) list of a batch fetch; SQLite's default
// limit on host parameters is 999 on older builds.
const maxInParams = 500

// Store is the persistence contract the indexer engine depends on.
type Store interface {
	Migrate(ctx context.Context) error
	Upsert(ctx context.Context, entries []index.Entry) error
	Delete(ctx context.Context, ids []string) error
	Rebuild(ctx context.Context, entries []index.Entry) error
	Load(ctx context.Context) (*index.Snapshot, error)
	Documents(ctx context.Context, ids []string) ([]index.Document, error)
	Chapters(ctx context.Context) ([]index.Document, error)
	Ping(ctx context.Context) error
	Close() error
}

type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// New wraps an open handle. The caller keeps ownership of db until Close.
func New(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{
		db:      db,
		dialect: dialect,
		logger:  slog.Default().With("component", "store", "dialect", dialect.String()),
	}
}

// OpenSQLite opens (creating if needed) a SQLite database at path. The
// special path ":memory:" yields a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.Storage("opening sqlite", err)
	}
	// one connection: a single writer, and :memory: databases are per connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, apperrors.Storage("setting pragma", err)
		}
	}
	return New(db, SQLite), nil
}

// Open selects the backend named by cfg.Storage.Driver and runs Migrate.
func Open(ctx context.Context, cfg *config.Config) (*SQLStore, error) {
	var (
		s   *SQLStore
		err error
	)
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		var client *postgres.Client
		client, err = postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, apperrors.Storage("connecting to postgres", err)
		}
		s = New(client.DB, Postgres)
	default:
		s, err = OpenSQLite(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) Dialect() Dialect { return s.dialect }

// Migrate creates any missing tables and indexes.
func (s *SQLStore) Migrate(ctx context.Context) error {
	return s.inTx(ctx, "migrating schema", func(tx *sql.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
}

// Upsert writes a batch of documents incrementally. For each document the
// stored token set is diffed against the new one: vanished tokens lose their
// posting and one unit of document frequency, new tokens gain one, and
// surviving tokens only have their frequency replaced.
func (s *SQLStore) Upsert(ctx context.Context, entries []index.Entry) error {
	entries = index.Dedupe(entries)
	if len(entries) == 0 {
		return nil
	}
	err := s.inTx(ctx, "upserting batch", func(tx *sql.Tx) error {
		stmts, err := s.prepare(ctx, tx,
			qSelectDocTokens, qDeletePosting, qDecrementDF, qUpsertPosting, qIncrementDF, qUpsertChapter)
		if err != nil {
			return err
		}
		defer closeAll(stmts)
		selectTokens, deletePosting, decrementDF, upsertPosting, incrementDF, upsertChapter :=
			stmts[0], stmts[1], stmts[2], stmts[3], stmts[4], stmts[5]

		for _, e := range entries {
			id := e.Document.ID
			old, err := queryTokens(ctx, selectTokens, id)
			if err != nil {
				return fmt.Errorf("reading postings of %s: %w", id, err)
			}
			for tok := range old {
				if _, still := e.Frequencies[tok]; still {
					continue
				}
				if _, err := deletePosting.ExecContext(ctx, tok, id); err != nil {
					return fmt.Errorf("deleting posting (%s, %s): %w", tok, id, err)
				}
				if _, err := decrementDF.ExecContext(ctx, tok); err != nil {
					return fmt.Errorf("decrementing df of %s: %w", tok, err)
				}
			}
			for _, tok := range e.Frequencies.Tokens() {
				if _, err := upsertPosting.ExecContext(ctx, tok, id, e.Frequencies[tok]); err != nil {
					return fmt.Errorf("upserting posting (%s, %s): %w", tok, id, err)
				}
				if _, had := old[tok]; had {
					continue
				}
				if _, err := incrementDF.ExecContext(ctx, tok); err != nil {
					return fmt.Errorf("incrementing df of %s: %w", tok, err)
				}
			}
			d := e.Document
			if _, err := upsertChapter.ExecContext(ctx, d.ID, d.Book, d.Title, d.Text, d.Length); err != nil {
				return fmt.Errorf("upserting chapter %s: %w", id, err)
			}
		}
		if _, err := tx.ExecContext(ctx, qDeleteZeroDF); err != nil {
			return fmt.Errorf("pruning vocabulary: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Debug("batch upserted", "documents", len(entries))
	return nil
}

// Delete removes documents with their postings and adjusts the vocabulary.
// Unknown ids are ignored.
func (s *SQLStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.inTx(ctx, "deleting documents", func(tx *sql.Tx) error {
		stmts, err := s.prepare(ctx, tx, qSelectDocTokens, qDeletePosting, qDecrementDF, qDeleteChapter)
		if err != nil {
			return err
		}
		defer closeAll(stmts)
		for _, id := range ids {
			old, err := queryTokens(ctx, stmts[0], id)
			if err != nil {
				return fmt.Errorf("reading postings of %s: %w", id, err)
			}
			for tok := range old {
				if _, err := stmts[1].ExecContext(ctx, tok, id); err != nil {
					return fmt.Errorf("deleting posting (%s, %s): %w", tok, id, err)
				}
				if _, err := stmts[2].ExecContext(ctx, tok); err != nil {
					return fmt.Errorf("decrementing df of %s: %w", tok, err)
				}
			}
			if _, err := stmts[3].ExecContext(ctx, id); err != nil {
				return fmt.Errorf("deleting chapter %s: %w", id, err)
			}
		}
		if _, err := tx.ExecContext(ctx, qDeleteZeroDF); err != nil {
			return fmt.Errorf("pruning vocabulary: %w", err)
		}
		return nil
	})
}

// Rebuild drops all three tables and re-creates them from entries in one
// transaction. Document frequencies are aggregated from the posting rows
// being written, not maintained incrementally.
func (s *SQLStore) Rebuild(ctx context.Context, entries []index.Entry) error {
	entries = index.Dedupe(entries)
	err := s.inTx(ctx, "rebuilding index", func(tx *sql.Tx) error {
		for _, stmt := range dropSchema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		for _, stmt := range schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		stmts, err := s.prepare(ctx, tx, qInsertChapter, qInsertPosting, qInsertVocab)
		if err != nil {
			return err
		}
		defer closeAll(stmts)

		df := make(map[string]int)
		for _, e := range entries {
			d := e.Document
			if _, err := stmts[0].ExecContext(ctx, d.ID, d.Book, d.Title, d.Text, d.Length); err != nil {
				return fmt.Errorf("inserting chapter %s: %w", d.ID, err)
			}
			for _, p := range e.Postings() {
				if _, err := stmts[1].ExecContext(ctx, p.Token, p.DocID, p.Frequency); err != nil {
					return fmt.Errorf("inserting posting (%s, %s): %w", p.Token, p.DocID, err)
				}
				df[p.Token]++
			}
		}
		for tok, n := range df {
			if _, err := stmts[2].ExecContext(ctx, tok, n); err != nil {
				return fmt.Errorf("inserting vocabulary %s: %w", tok, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("index rebuilt", "documents", len(entries))
	return nil
}

// Load reads the full persisted index and assembles a snapshot from it.
func (s *SQLStore) Load(ctx context.Context) (*index.Snapshot, error) {
	var (
		docs     []index.Document
		postings index.PostingList
		vocab    []index.VocabularyEntry
	)
	err := s.inTx(ctx, "loading index", func(tx *sql.Tx) error {
		var err error
		if docs, err = scanDocuments(tx.QueryContext(ctx, qSelectChapters)); err != nil {
			return fmt.Errorf("reading chapters: %w", err)
		}
		rows, err := tx.QueryContext(ctx, qSelectPostings)
		if err != nil {
			return fmt.Errorf("reading postings: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var p index.Posting
			if err := rows.Scan(&p.Token, &p.DocID, &p.Frequency); err != nil {
				return fmt.Errorf("scanning posting: %w", err)
			}
			postings = append(postings, p)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("reading postings: %w", err)
		}
		vrows, err := tx.QueryContext(ctx, qSelectVocab)
		if err != nil {
			return fmt.Errorf("reading vocabulary: %w", err)
		}
		defer vrows.Close()
		for vrows.Next() {
			var v index.VocabularyEntry
			if err := vrows.Scan(&v.Token, &v.DocumentFrequency); err != nil {
				return fmt.Errorf("scanning vocabulary: %w", err)
			}
			vocab = append(vocab, v)
		}
		return vrows.Err()
	})
	if err != nil {
		return nil, err
	}
	snap, err := index.FromRows(docs, postings, vocab)
	if err != nil {
		return nil, apperrors.Storage("validating persisted index", err)
	}
	s.logger.Info("index loaded", "documents", len(docs), "postings", len(postings), "vocabulary", len(vocab))
	return snap, nil
}

// Documents fetches chapters by id in request order. Unknown ids are
// omitted.
func (s *SQLStore) Documents(ctx context.Context, ids []string) ([]index.Document, error) {
	found := make(map[string]index.Document, len(ids))
	for start := 0; start < len(ids); start += maxInParams {
		end := min(start+maxInParams, len(ids))
		chunk := ids[start:end]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		query := s.dialect.Rebind(fmt.Sprintf(qSelectChapterIn, placeholders(len(chunk))))
		docs, err := scanDocuments(s.db.QueryContext(ctx, query, args...))
		if err != nil {
			return nil, apperrors.Storage("fetching chapters", err)
		}
		for _, d := range docs {
			found[d.ID] = d
		}
	}
	out := make([]index.Document, 0, len(found))
	for _, id := range ids {
		if d, ok := found[id]; ok {
			out = append(out, d)
			delete(found, id)
		}
	}
	return out, nil
}

// Chapters returns every stored chapter ordered by id.
func (s *SQLStore) Chapters(ctx context.Context) ([]index.Document, error) {
	docs, err := scanDocuments(s.db.QueryContext(ctx, qSelectChapters))
	if err != nil {
		return nil, apperrors.Storage("listing chapters", err)
	}
	return docs, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// inTx runs fn in a transaction, rolling back on error. Failures are wrapped
// with ErrStorage.
func (s *SQLStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Storage(op, fmt.Errorf("beginning transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		s.logger.Error("transaction rolled back", "op", op, "error", err)
		return apperrors.Storage(op, err)
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Storage(op, fmt.Errorf("committing transaction: %w", err))
	}
	return nil
}

func (s *SQLStore) prepare(ctx context.Context, tx *sql.Tx, queries ...string) ([]*sql.Stmt, error) {
	stmts := make([]*sql.Stmt, 0, len(queries))
	for _, q := range queries {
		stmt, err := tx.PrepareContext(ctx, s.dialect.Rebind(q))
		if err != nil {
			closeAll(stmts)
			return nil, fmt.Errorf("preparing %q: %w", strings.Fields(q)[0], err)
		}
		stmts = append(stmts, stmt)
	}
	return stmts, nil
}

func closeAll(stmts []*sql.Stmt) {
	for _, st := range stmts {
		_ = st.Close()
	}
}

func queryTokens(ctx context.Context, stmt *sql.Stmt, docID string) (map[string]struct{}, error) {
	rows, err := stmt.QueryContext(ctx, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tokens := make(map[string]struct{})
	for rows.Next() {
		var tok string
		if err := rows.Scan(&tok); err != nil {
			return nil, err
		}
		tokens[tok] = struct{}{}
	}
	return tokens, rows.Err()
}

func scanDocuments(rows *sql.Rows, err error) ([]index.Document, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []index.Document
	for rows.Next() {
		var d index.Document
		if err := rows.Scan(&d.ID, &d.Book, &d.Title, &d.Text, &d.Length); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
