package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/lotmint/lotmint/lotpool"
	"github.com/lotmint/lotmint/types"
)

// SQLite is a durable Store backed by a local SQLite database. The schema is
// append-stable: upgrades may bump meta.version but must not alter the table
// layout.
type SQLite struct {
	db *sqlx.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS meta (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	version    INTEGER NOT NULL,
	admin      TEXT    NOT NULL,
	asset      TEXT    NOT NULL,
	receiver   TEXT    NOT NULL,
	unit_price TEXT    NOT NULL,
	next_token INTEGER NOT NULL,
	remaining  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS ranges (
	seq       INTEGER PRIMARY KEY AUTOINCREMENT,
	start_lot INTEGER NOT NULL,
	end_lot   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS overrides (
	slot INTEGER PRIMARY KEY,
	lot  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tokens (
	id    INTEGER PRIMARY KEY,
	owner TEXT    NOT NULL,
	lot   INTEGER
);

CREATE TABLE IF NOT EXISTS pending (
	request_id INTEGER PRIMARY KEY,
	token_id   INTEGER NOT NULL
);
`

// OpenSQLite opens (and if necessary creates) a SQLite-backed store at path.
// Use ":memory:" for an ephemeral database.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sqlx.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// SQLite handles one writer at a time; a larger pool only produces
	// SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply store schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Initialize(ctx context.Context, genesis types.Genesis) error {
	initialized, err := s.Initialized(ctx)
	if err != nil {
		return err
	}
	if initialized {
		return ErrAlreadyInitialized
	}

	pool := lotpool.New()
	for _, r := range genesis.Ranges {
		if err := pool.ExtendRange(r.Start, r.End); err != nil {
			return err
		}
	}
	price := "0"
	if genesis.UnitPrice != nil {
		price = genesis.UnitPrice.String()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin init: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO meta (id, version, admin, asset, receiver, unit_price, next_token, remaining)
		 VALUES (1, 1, ?, ?, ?, ?, 0, ?)`,
		genesis.Admin.Hex(), genesis.Asset.Hex(), genesis.Receiver.Hex(), price,
		int64(pool.Remaining()))
	if err != nil {
		return fmt.Errorf("write genesis meta: %w", err)
	}
	for _, r := range genesis.Ranges {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO ranges (start_lot, end_lot) VALUES (?, ?)`,
			int64(r.Start), int64(r.End))
		if err != nil {
			return fmt.Errorf("write genesis range: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) Initialized(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM meta`); err != nil {
		return false, fmt.Errorf("read meta: %w", err)
	}
	return count > 0, nil
}

type metaRow struct {
	Version   int64  `db:"version"`
	Admin     string `db:"admin"`
	Asset     string `db:"asset"`
	Receiver  string `db:"receiver"`
	UnitPrice string `db:"unit_price"`
	NextToken int64  `db:"next_token"`
	Remaining int64  `db:"remaining"`
}

func (s *SQLite) Load(ctx context.Context) (*State, error) {
	var meta metaRow
	err := s.db.GetContext(ctx, &meta,
		`SELECT version, admin, asset, receiver, unit_price, next_token, remaining FROM meta WHERE id = 1`)
	if err == sql.ErrNoRows {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("load meta: %w", err)
	}

	price, ok := new(big.Int).SetString(meta.UnitPrice, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt unit price %q", meta.UnitPrice)
	}

	state := &State{
		Admin: common.HexToAddress(meta.Admin),
		Config: types.PriceConfig{
			UnitPrice: price,
			Asset:     common.HexToAddress(meta.Asset),
			Receiver:  common.HexToAddress(meta.Receiver),
		},
		Pool: lotpool.State{
			Remaining: uint64(meta.Remaining),
			Overrides: make(map[uint64]uint64),
		},
		Tokens:    make(map[types.TokenID]types.Token),
		Pending:   make(map[types.RequestID]types.TokenID),
		NextToken: types.TokenID(meta.NextToken),
		Version:   uint64(meta.Version),
	}

	var ranges []struct {
		Start int64 `db:"start_lot"`
		End   int64 `db:"end_lot"`
	}
	if err := s.db.SelectContext(ctx, &ranges, `SELECT start_lot, end_lot FROM ranges ORDER BY seq`); err != nil {
		return nil, fmt.Errorf("load ranges: %w", err)
	}
	for _, r := range ranges {
		state.Pool.Ranges = append(state.Pool.Ranges, lotpool.Range{
			Start: uint64(r.Start),
			End:   uint64(r.End),
		})
	}

	var overrides []struct {
		Slot int64 `db:"slot"`
		Lot  int64 `db:"lot"`
	}
	if err := s.db.SelectContext(ctx, &overrides, `SELECT slot, lot FROM overrides`); err != nil {
		return nil, fmt.Errorf("load overrides: %w", err)
	}
	for _, o := range overrides {
		state.Pool.Overrides[uint64(o.Slot)] = uint64(o.Lot)
	}

	var tokens []struct {
		ID    int64         `db:"id"`
		Owner string        `db:"owner"`
		Lot   sql.NullInt64 `db:"lot"`
	}
	if err := s.db.SelectContext(ctx, &tokens, `SELECT id, owner, lot FROM tokens`); err != nil {
		return nil, fmt.Errorf("load tokens: %w", err)
	}
	for _, row := range tokens {
		token := types.Token{
			ID:    types.TokenID(row.ID),
			Owner: common.HexToAddress(row.Owner),
		}
		if row.Lot.Valid {
			lot := types.LotID(row.Lot.Int64)
			token.Lot = &lot
		}
		state.Tokens[token.ID] = token
	}

	var pending []struct {
		RequestID int64 `db:"request_id"`
		TokenID   int64 `db:"token_id"`
	}
	if err := s.db.SelectContext(ctx, &pending, `SELECT request_id, token_id FROM pending`); err != nil {
		return nil, fmt.Errorf("load pending: %w", err)
	}
	for _, row := range pending {
		state.Pending[types.RequestID(row.RequestID)] = types.TokenID(row.TokenID)
	}

	return state, nil
}

func (s *SQLite) Begin(ctx context.Context) (Tx, error) {
	initialized, err := s.Initialized(ctx)
	if err != nil {
		return nil, err
	}
	if !initialized {
		return nil, ErrNotInitialized
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &sqliteTx{ctx: ctx, tx: tx}, nil
}

func (s *SQLite) Version(ctx context.Context) (uint64, error) {
	var version int64
	err := s.db.GetContext(ctx, &version, `SELECT version FROM meta WHERE id = 1`)
	if err == sql.ErrNoRows {
		return 0, ErrNotInitialized
	}
	if err != nil {
		return 0, fmt.Errorf("read version: %w", err)
	}
	return uint64(version), nil
}

func (s *SQLite) BumpVersion(ctx context.Context) (uint64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE meta SET version = version + 1 WHERE id = 1`)
	if err != nil {
		return 0, fmt.Errorf("bump version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrNotInitialized
	}
	return s.Version(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type sqliteTx struct {
	ctx  context.Context
	tx   *sqlx.Tx
	done bool
}

func (t *sqliteTx) SetPrice(price *big.Int) error {
	_, err := t.tx.ExecContext(t.ctx, `UPDATE meta SET unit_price = ? WHERE id = 1`, price.String())
	return err
}

func (t *sqliteTx) AppendRange(r lotpool.Range) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO ranges (start_lot, end_lot) VALUES (?, ?)`, int64(r.Start), int64(r.End))
	return err
}

func (t *sqliteTx) PutToken(token types.Token) error {
	var lot interface{}
	if token.Lot != nil {
		lot = int64(*token.Lot)
	}
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO tokens (id, owner, lot) VALUES (?, ?, ?)`,
		int64(token.ID), token.Owner.Hex(), lot)
	return err
}

func (t *sqliteTx) BindLot(id types.TokenID, lot types.LotID) error {
	_, err := t.tx.ExecContext(t.ctx,
		`UPDATE tokens SET lot = ? WHERE id = ?`, int64(lot), int64(id))
	return err
}

func (t *sqliteTx) PutPending(req types.RequestID, id types.TokenID) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO pending (request_id, token_id) VALUES (?, ?)`, int64(req), int64(id))
	return err
}

func (t *sqliteTx) DeletePending(req types.RequestID) error {
	_, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM pending WHERE request_id = ?`, int64(req))
	return err
}

func (t *sqliteTx) SavePool(state lotpool.State) error {
	if _, err := t.tx.ExecContext(t.ctx,
		`UPDATE meta SET remaining = ? WHERE id = 1`, int64(state.Remaining)); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM overrides`); err != nil {
		return err
	}
	for slot, lot := range state.Overrides {
		if _, err := t.tx.ExecContext(t.ctx,
			`INSERT INTO overrides (slot, lot) VALUES (?, ?)`, int64(slot), int64(lot)); err != nil {
			return err
		}
	}
	return nil
}

func (t *sqliteTx) SetNextToken(id types.TokenID) error {
	_, err := t.tx.ExecContext(t.ctx, `UPDATE meta SET next_token = ? WHERE id = 1`, int64(id))
	return err
}

func (t *sqliteTx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}

var (
	_ Store = (*SQLite)(nil)
	_ Store = (*Memory)(nil)
)
