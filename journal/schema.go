package journal

const Schema = `
CREATE TABLE IF NOT EXISTS actions (
	id TEXT PRIMARY KEY,
	time DATETIME NOT NULL,
	tick_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	action TEXT NOT NULL,
	detail TEXT NOT NULL,
	price REAL NOT NULL,
	amount REAL NOT NULL,
	order_id TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_actions_time ON actions(time);
CREATE INDEX IF NOT EXISTS idx_actions_symbol ON actions(symbol, time);
`
