package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"zhaojing/internal/session"
)

// records 存为 TEXT 而不是 JSONB，JSONB 会重排键顺序
const postgresSchema = `
CREATE TABLE IF NOT EXISTS recordings (
    id BIGSERIAL PRIMARY KEY,
    timestamp BIGINT NOT NULL,
    url TEXT NOT NULL,
    duration BIGINT NOT NULL,
    records TEXT NOT NULL
);
`

// PostgresConfig 数据库配置
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"` // 非空时忽略其余连接字段
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// DefaultPostgresConfig 默认配置
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		DBName:   "zhaojing",
		SSLMode:  "disable",
		MaxConns: 25,
		MinConns: 2,
	}
}

// ConnString 连接串
func (c PostgresConfig) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// PostgresStore 多实例共享的存储
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore 创建连接池并建表
func NewPostgresStore(ctx context.Context, config PostgresConfig) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(config.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	log.Println("PostgreSQL connection pool ready")
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Create(ctx context.Context, payload *session.Payload) (int64, error) {
	if err := validate(payload); err != nil {
		return 0, err
	}

	records, err := encodeRecords(payload.Records)
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO recordings (timestamp, url, duration, records) VALUES ($1, $2, $3, $4) RETURNING id`,
		payload.Timestamp, payload.URL, payload.Duration, records,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert recording: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Recording, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, timestamp, url, duration, records FROM recordings ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	defer rows.Close()

	var out []Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recordings: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (*Recording, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, timestamp, url, duration, records FROM recordings WHERE id = $1`, id)

	rec, err := scanRecording(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM recordings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete recording %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Stat 连接池统计
func (s *PostgresStore) Stat() *pgxpool.Stat {
	return s.pool.Stat()
}
