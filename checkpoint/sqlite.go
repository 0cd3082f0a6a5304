package checkpoint

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/martinemde/agentgraph/conversation"
)

//go:embed migrations/*.sql
var migrations embed.FS

// zstd encoders and decoders are safe for concurrent use.
var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("checkpoint: zstd encoder initialization failed: " + err.Error())
	}
	decoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("checkpoint: zstd decoder initialization failed: " + err.Error())
	}
}

// SQLiteStore persists checkpoints in a SQLite database. Each snapshot is
// stored as zstd-compressed JSON.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open checkpoint database: %w", err)
	}
	// A single connection gives Save its atomic read-then-insert.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	dir, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("checkpoint migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, dir)
	if err != nil {
		return fmt.Errorf("checkpoint migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply checkpoint migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, cp Checkpoint) (Checkpoint, error) {
	if cp.ThreadID == "" {
		return Checkpoint{}, errors.New("checkpoint: thread id is required")
	}
	if cp.State == nil {
		return Checkpoint{}, errors.New("checkpoint: state is required")
	}
	payload, err := encodeState(cp.State)
	if err != nil {
		return Checkpoint{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("begin checkpoint save: %w", err)
	}
	defer tx.Rollback()

	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM checkpoints WHERE thread_id = ?`, cp.ThreadID,
	).Scan(&seq); err != nil {
		return Checkpoint{}, fmt.Errorf("next checkpoint seq: %w", err)
	}

	created := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO checkpoints (thread_id, seq, node, created_at, payload) VALUES (?, ?, ?, ?, ?)`,
		cp.ThreadID, seq, cp.Node, created.UnixNano(), payload,
	); err != nil {
		return Checkpoint{}, fmt.Errorf("insert checkpoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Checkpoint{}, fmt.Errorf("commit checkpoint: %w", err)
	}

	cp.Seq = seq
	cp.CreatedAt = created
	cp.State = cp.State.Clone()
	return cp, nil
}

func (s *SQLiteStore) Load(ctx context.Context, threadID string) (Checkpoint, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT thread_id, seq, node, created_at, payload FROM checkpoints
		 WHERE thread_id = ? ORDER BY seq DESC LIMIT 1`, threadID)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, err
	}
	return cp, true, nil
}

func (s *SQLiteStore) History(ctx context.Context, threadID string) ([]Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT thread_id, seq, node, created_at, payload FROM checkpoints
		 WHERE thread_id = ? ORDER BY seq ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("query checkpoint history: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read checkpoint history: %w", err)
	}
	return out, nil
}

// Threads returns the ids of every thread with at least one checkpoint,
// most recently updated first.
func (s *SQLiteStore) Threads(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT thread_id FROM checkpoints GROUP BY thread_id ORDER BY MAX(created_at) DESC`)
	if err != nil {
		return nil, fmt.Errorf("query threads: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan thread id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row scanner) (Checkpoint, error) {
	var (
		cp      Checkpoint
		created int64
		payload []byte
	)
	if err := row.Scan(&cp.ThreadID, &cp.Seq, &cp.Node, &created, &payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Checkpoint{}, err
		}
		return Checkpoint{}, fmt.Errorf("scan checkpoint: %w", err)
	}
	state, err := decodeState(payload)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint %s/%d: %w", cp.ThreadID, cp.Seq, err)
	}
	cp.CreatedAt = time.Unix(0, created).UTC()
	cp.State = state
	return cp, nil
}

func encodeState(state *conversation.State) ([]byte, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return encoder.EncodeAll(raw, nil), nil
}

func decodeState(payload []byte) (*conversation.State, error) {
	raw, err := decoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress state: %w", err)
	}
	var state conversation.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &state, nil
}
