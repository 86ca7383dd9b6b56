// Package postgres implements the harness adapter contract on raw pgx
// connections. Each pool slot owns one *pgx.Conn; statements run in
// implicit transactions so every operation commits on its own.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wesleyorama2/dbpulse/internal/adapter"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS dbpulse_load (
    id         BIGSERIAL PRIMARY KEY,
    row_key    TEXT        NOT NULL,
    worker     TEXT        NOT NULL,
    data       TEXT        NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ
)`

// Config holds the connection settings for one PostgreSQL target.
type Config struct {
	Host           string
	Port           int
	Database       string
	User           string
	Password       string
	SSLMode        string
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration
	Params         map[string]string
}

// Adapter drives a PostgreSQL backend.
type Adapter struct {
	cfg Config
	dsn string
}

// New builds a PostgreSQL adapter from cfg.
func New(cfg Config) *Adapter {
	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = 10 * time.Second
	}
	return &Adapter{cfg: cfg, dsn: buildDSN(cfg)}
}

func buildDSN(cfg Config) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   "/" + cfg.Database,
	}
	q := url.Values{}
	q.Set("sslmode", cfg.SSLMode)
	q.Set("connect_timeout", fmt.Sprintf("%d", int(cfg.ConnectTimeout.Seconds())))
	for k, v := range cfg.Params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (a *Adapter) Name() string { return "postgres" }

func (a *Adapter) Open(ctx context.Context) (adapter.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ConnectTimeout)
	defer cancel()

	conn, err := pgx.Connect(ctx, a.dsn)
	if err != nil {
		return nil, classify(err)
	}
	return conn, nil
}

func (a *Adapter) Ping(ctx context.Context, conn adapter.Conn) error {
	pc, err := pgxConn(conn)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.QueryTimeout)
	defer cancel()
	return pc.Ping(ctx)
}

func (a *Adapter) Close(conn adapter.Conn) error {
	pc, err := pgxConn(conn)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return pc.Close(ctx)
}

// Setup creates the load table if it does not exist.
func (a *Adapter) Setup(ctx context.Context, conn adapter.Conn) error {
	pc, err := pgxConn(conn)
	if err != nil {
		return err
	}
	_, err = pc.Exec(ctx, schemaDDL)
	return classify(err)
}

func (a *Adapter) Exec(ctx context.Context, conn adapter.Conn, kind adapter.OperationKind, p *adapter.Payload) (*adapter.Result, error) {
	pc, err := pgxConn(conn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.QueryTimeout)
	defer cancel()

	switch kind {
	case adapter.KindInsert:
		return a.insert(ctx, pc, p)
	case adapter.KindSelect:
		return a.selectRow(ctx, pc, p)
	case adapter.KindUpdate:
		return a.update(ctx, pc, p)
	case adapter.KindDelete:
		return a.delete(ctx, pc, p)
	default:
		return nil, fmt.Errorf("postgres: unsupported operation %v", kind)
	}
}

func (a *Adapter) insert(ctx context.Context, pc *pgx.Conn, p *adapter.Payload) (*adapter.Result, error) {
	var id int64
	err := pc.QueryRow(ctx,
		`INSERT INTO dbpulse_load (row_key, worker, data) VALUES ($1, $2, $3) RETURNING id`,
		p.RowKey, p.Worker, p.Data,
	).Scan(&id)
	if err != nil {
		return nil, classify(err)
	}
	return &adapter.Result{RowID: id, RowKey: p.RowKey, Data: p.Data, RowsAffected: 1}, nil
}

func (a *Adapter) selectRow(ctx context.Context, pc *pgx.Conn, p *adapter.Payload) (*adapter.Result, error) {
	res := &adapter.Result{}
	var err error
	if p.RowID > 0 {
		err = pc.QueryRow(ctx,
			`SELECT id, row_key, data FROM dbpulse_load WHERE id = $1`,
			p.RowID,
		).Scan(&res.RowID, &res.RowKey, &res.Data)
	} else {
		err = pc.QueryRow(ctx, randomRowQuery(`SELECT id, row_key, data FROM dbpulse_load`)).
			Scan(&res.RowID, &res.RowKey, &res.Data)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, adapter.ErrNoRows
	}
	if err != nil {
		return nil, classify(err)
	}
	return res, nil
}

func (a *Adapter) update(ctx context.Context, pc *pgx.Conn, p *adapter.Payload) (*adapter.Result, error) {
	res := &adapter.Result{}
	var err error
	if p.RowID > 0 {
		err = pc.QueryRow(ctx,
			`UPDATE dbpulse_load SET data = $2, updated_at = now() WHERE id = $1 RETURNING id`,
			p.RowID, p.Data,
		).Scan(&res.RowID)
	} else {
		err = pc.QueryRow(ctx,
			`UPDATE dbpulse_load SET data = $1, updated_at = now()
			 WHERE id = (`+randomRowQuery(`SELECT id FROM dbpulse_load`)+`) RETURNING id`,
			p.Data,
		).Scan(&res.RowID)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, adapter.ErrNoRows
	}
	if err != nil {
		return nil, classify(err)
	}
	res.RowsAffected = 1
	return res, nil
}

func (a *Adapter) delete(ctx context.Context, pc *pgx.Conn, p *adapter.Payload) (*adapter.Result, error) {
	res := &adapter.Result{}
	var err error
	if p.RowID > 0 {
		err = pc.QueryRow(ctx,
			`DELETE FROM dbpulse_load WHERE id = $1 RETURNING id`,
			p.RowID,
		).Scan(&res.RowID)
	} else {
		err = pc.QueryRow(ctx,
			`DELETE FROM dbpulse_load
			 WHERE id = (`+randomRowQuery(`SELECT id FROM dbpulse_load`)+`) RETURNING id`,
		).Scan(&res.RowID)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, adapter.ErrNoRows
	}
	if err != nil {
		return nil, classify(err)
	}
	res.RowsAffected = 1
	return res, nil
}

// randomRowQuery wraps a base select so it lands on an approximately
// uniform random existing row without a full scan.
func randomRowQuery(base string) string {
	return base + `
	 WHERE id >= (SELECT (random() * max(id))::bigint FROM dbpulse_load)
	 ORDER BY id LIMIT 1`
}

func pgxConn(conn adapter.Conn) (*pgx.Conn, error) {
	pc, ok := conn.(*pgx.Conn)
	if !ok {
		return nil, fmt.Errorf("postgres: foreign connection handle %T", conn)
	}
	return pc, nil
}

// classify marks authentication and missing-database failures permanent;
// everything else stays transient and retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if strings.HasPrefix(pgErr.Code, "28") || pgErr.Code == "3D000" {
			return adapter.Permanent(err)
		}
	}
	return err
}
