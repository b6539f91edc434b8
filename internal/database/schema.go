package database

// Schema creates the core entity tables described in spec §6 "Persisted
// state layout". Decimal-valued columns are stored as TEXT (not REAL) so
// shopspring/decimal round-trips exactly — see
// internal/database/repositories for the encode/decode boundary.
const Schema = `
CREATE TABLE IF NOT EXISTS portfolios (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	total TEXT NOT NULL,
	available TEXT NOT NULL,
	currency TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS strategies (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	exchange_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	portfolio_id TEXT NOT NULL REFERENCES portfolios(id),
	sizing_model TEXT NOT NULL,
	sizing_json TEXT NOT NULL DEFAULT '{}',
	params_json TEXT NOT NULL DEFAULT '{}',
	active INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	strategy_id TEXT NOT NULL REFERENCES strategies(id),
	exchange_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	type TEXT NOT NULL,
	amount TEXT NOT NULL,
	price TEXT,
	cost TEXT NOT NULL DEFAULT '0',
	fee TEXT NOT NULL DEFAULT '0',
	status TEXT NOT NULL,
	exchange_order_id TEXT,
	correlation_id TEXT NOT NULL,
	reconciled INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status);
CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
CREATE INDEX IF NOT EXISTS idx_trades_strategy ON trades(strategy_id);

CREATE TABLE IF NOT EXISTS positions (
	id TEXT PRIMARY KEY,
	strategy_id TEXT NOT NULL REFERENCES strategies(id),
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	entry_price TEXT NOT NULL,
	size TEXT NOT NULL,
	average_entry TEXT NOT NULL,
	stop_loss TEXT,
	take_profit TEXT,
	unrealized_pnl TEXT NOT NULL DEFAULT '0',
	realized_pnl TEXT NOT NULL DEFAULT '0',
	total_fees TEXT NOT NULL DEFAULT '0',
	open INTEGER NOT NULL DEFAULT 1,
	opened_at TEXT NOT NULL,
	closed_at TEXT,
	UNIQUE(strategy_id, symbol)
);

CREATE TABLE IF NOT EXISTS portfolio_rules (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	portfolio_id TEXT NOT NULL REFERENCES portfolios(id),
	kind TEXT NOT NULL,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS strategy_state (
	strategy_id TEXT PRIMARY KEY REFERENCES strategies(id),
	last_processed_bar_ts TEXT,
	last_fingerprint TEXT,
	open_position_id TEXT,
	updated_at TEXT NOT NULL
);
`

// Migrate applies Schema. Idempotent: every statement is CREATE ... IF
// NOT EXISTS, matching the teacher's single-file schema approach rather
// than a versioned migration runner.
func (db *DB) Migrate() error {
	_, err := db.conn.Exec(Schema)
	return err
}
