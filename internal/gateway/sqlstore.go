package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/1ureka/rtnet/internal/protocol"
)

const gamesSQL = `CREATE TABLE IF NOT EXISTS games (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	type INTEGER NOT NULL,
	server_id INTEGER NOT NULL,
	players INTEGER NOT NULL DEFAULT 0,
	capacity INTEGER NOT NULL,
	ended INTEGER NOT NULL DEFAULT 0,
	created INTEGER NOT NULL
);`

// SQLStore keeps the game registry in a SQLite database, so game ids stay
// unique across gateway restarts.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens (or creates) the database at path. Games left running
// by a previous process are marked ended, since their servers are gone.
func OpenSQLStore(path string) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(gamesSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("gateway: init games table: %w", err)
	}
	if _, err := db.Exec(`UPDATE games SET ended = 1 WHERE ended = 0;`); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) CreateGame(ctx context.Context, serverID uint32, typ protocol.GameType, capacity uint8) (Game, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `INSERT INTO games (
		type,
		server_id,
		capacity,
		created
	) VALUES (
		?,
		?,
		?,
		?
	);`, uint8(typ), serverID, capacity, now.Unix())
	if err != nil {
		return Game{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Game{}, err
	}
	return Game{
		ID:       uint32(id),
		Type:     typ,
		ServerID: serverID,
		Capacity: capacity,
		Created:  time.Unix(now.Unix(), 0),
	}, nil
}

func (s *SQLStore) Game(ctx context.Context, id uint32) (Game, error) {
	var (
		g       Game
		typ     uint8
		ended   bool
		created int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, type, server_id, players, capacity, ended, created FROM games WHERE id = ?;`, id).
		Scan(&g.ID, &typ, &g.ServerID, &g.Players, &g.Capacity, &ended, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Game{}, ErrGameNotFound
	}
	if err != nil {
		return Game{}, err
	}
	g.Type = protocol.GameType(typ)
	g.Ended = ended
	g.Created = time.Unix(created, 0)
	return g, nil
}

func (s *SQLStore) UpdateOccupancy(ctx context.Context, id uint32, players, capacity uint8) error {
	res, err := s.db.ExecContext(ctx, `UPDATE games SET players = ?, capacity = ? WHERE id = ?;`, players, capacity, id)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s *SQLStore) EndGame(ctx context.Context, id uint32) error {
	res, err := s.db.ExecContext(ctx, `UPDATE games SET ended = 1 WHERE id = ?;`, id)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s *SQLStore) EndServerGames(ctx context.Context, serverID uint32) ([]uint32, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM games WHERE server_id = ? AND ended = 0;`, serverID)
	if err != nil {
		return nil, err
	}
	var ids []uint32
	for rows.Next() {
		var id uint32
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE games SET ended = 1 WHERE server_id = ? AND ended = 0;`, serverID); err != nil {
		return nil, err
	}
	return ids, tx.Commit()
}

func (s *SQLStore) ActiveGames(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM games WHERE ended = 0;`).Scan(&n)
	return n, err
}

func (s *SQLStore) Close() error { return s.db.Close() }

func mustAffect(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrGameNotFound
	}
	return nil
}
