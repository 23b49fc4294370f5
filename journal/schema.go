package journal

const Schema = `
CREATE TABLE IF NOT EXISTS orders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	time DATETIME NOT NULL,
	order_key TEXT NOT NULL,
	tradestrategy TEXT NOT NULL,
	symbol TEXT NOT NULL,
	event TEXT NOT NULL,
	action TEXT NOT NULL,
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	limit_price REAL NOT NULL,
	stop_price REAL NOT NULL,
	quantity INTEGER NOT NULL,
	filled_quantity INTEGER NOT NULL,
	avg_filled_price REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_key ON orders(order_key);

CREATE TABLE IF NOT EXISTS transitions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	time DATETIME NOT NULL,
	tradestrategy TEXT NOT NULL,
	symbol TEXT NOT NULL,
	from_phase TEXT NOT NULL,
	to_phase TEXT NOT NULL,
	reason TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transitions_ts ON transitions(tradestrategy);
`
