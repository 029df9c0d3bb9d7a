package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound 回放不存在
var ErrNotFound = errors.New("replay not found")

// Schema 回放表结构，首次部署时执行
const Schema = `
CREATE TABLE IF NOT EXISTS replays (
    id           BIGSERIAL PRIMARY KEY,
    game_id      BIGINT NOT NULL,
    perspective  TEXT NOT NULL,
    winner       TEXT NOT NULL,
    white_name   TEXT NOT NULL DEFAULT '',
    black_name   TEXT NOT NULL DEFAULT '',
    played_at    BIGINT NOT NULL DEFAULT 0,
    version      TEXT NOT NULL DEFAULT '',
    records      INT NOT NULL,
    content      TEXT NOT NULL,
    uploaded_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (game_id, perspective)
);
`

// Replay 入库的回放记录
type Replay struct {
	ID          int64
	GameID      int64
	Perspective string
	Winner      string
	WhiteName   string
	BlackName   string
	PlayedAt    int64
	Version     string
	Records     int
	Content     string
	UploadedAt  time.Time
}

// ReplayStore 回放的PostgreSQL存储
type ReplayStore struct {
	pool *pgxpool.Pool
}

// NewReplayStore 创建存储实例
func NewReplayStore(pool *pgxpool.Pool) *ReplayStore {
	return &ReplayStore{pool: pool}
}

// Migrate 建表
func (s *ReplayStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("database: migrate replays: %w", err)
	}
	return nil
}

// Insert 写入一条回放，同一对局同一视角重复上传时覆盖旧内容
func (s *ReplayStore) Insert(ctx context.Context, r *Replay) (int64, error) {
	const query = `
INSERT INTO replays (game_id, perspective, winner, white_name, black_name, played_at, version, records, content)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (game_id, perspective) DO UPDATE SET
    winner = EXCLUDED.winner,
    records = EXCLUDED.records,
    content = EXCLUDED.content,
    uploaded_at = now()
RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		r.GameID, r.Perspective, r.Winner, r.WhiteName, r.BlackName,
		r.PlayedAt, r.Version, r.Records, r.Content,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("database: insert replay: %w", err)
	}
	return id, nil
}

// Get 按ID读取回放
func (s *ReplayStore) Get(ctx context.Context, id int64) (*Replay, error) {
	const query = `
SELECT id, game_id, perspective, winner, white_name, black_name, played_at, version, records, content, uploaded_at
FROM replays WHERE id = $1`

	var r Replay
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&r.ID, &r.GameID, &r.Perspective, &r.Winner, &r.WhiteName, &r.BlackName,
		&r.PlayedAt, &r.Version, &r.Records, &r.Content, &r.UploadedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database: get replay %d: %w", id, err)
	}
	return &r, nil
}

// List 按上传时间倒序分页列出回放，不带文件内容
func (s *ReplayStore) List(ctx context.Context, limit, offset int) ([]*Replay, error) {
	const query = `
SELECT id, game_id, perspective, winner, white_name, black_name, played_at, version, records, uploaded_at
FROM replays ORDER BY uploaded_at DESC LIMIT $1 OFFSET $2`

	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("database: list replays: %w", err)
	}
	defer rows.Close()

	var replays []*Replay
	for rows.Next() {
		var r Replay
		if err := rows.Scan(
			&r.ID, &r.GameID, &r.Perspective, &r.Winner, &r.WhiteName, &r.BlackName,
			&r.PlayedAt, &r.Version, &r.Records, &r.UploadedAt,
		); err != nil {
			return nil, fmt.Errorf("database: scan replay: %w", err)
		}
		replays = append(replays, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: list replays: %w", err)
	}
	return replays, nil
}

// Count 回放总数
func (s *ReplayStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM replays`).Scan(&count); err != nil {
		return 0, fmt.Errorf("database: count replays: %w", err)
	}
	return count, nil
}
