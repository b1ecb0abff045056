package repo

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS customers (
	id    TEXT PRIMARY KEY,
	name  TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS providers (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL DEFAULT '',
	phone               TEXT NOT NULL DEFAULT '',
	verified            BOOLEAN NOT NULL DEFAULT FALSE,
	is_online           BOOLEAN NOT NULL DEFAULT FALSE,
	current_lat         DOUBLE PRECISION,
	current_lng         DOUBLE PRECISION,
	location_updated_at TIMESTAMPTZ,
	tier                TEXT NOT NULL DEFAULT '',
	version             BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS bookings (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	provider_id  TEXT REFERENCES providers(id),
	service_id   TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	address      TEXT NOT NULL DEFAULT '',
	address_lat  DOUBLE PRECISION,
	address_lng  DOUBLE PRECISION,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	completed_at TIMESTAMPTZ,
	version      BIGINT NOT NULL DEFAULT 0,
	CONSTRAINT provider_only_while_active CHECK (
		provider_id IS NULL OR status IN ('PROVIDER_ASSIGNED', 'EN_ROUTE', 'IN_PROGRESS')
	)
);

CREATE INDEX IF NOT EXISTS idx_bookings_provider_status ON bookings (provider_id, status);

CREATE TABLE IF NOT EXISTS booking_events (
	id          BIGSERIAL PRIMARY KEY,
	booking_id  TEXT NOT NULL REFERENCES bookings(id),
	event_type  TEXT NOT NULL,
	from_status TEXT NOT NULL,
	to_status   TEXT NOT NULL,
	provider_id TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_booking_events_booking ON booking_events (booking_id, id);

CREATE TABLE IF NOT EXISTS notifications (
	id             TEXT PRIMARY KEY,
	recipient_kind TEXT NOT NULL,
	recipient_id   TEXT NOT NULL,
	booking_id     TEXT,
	message        TEXT NOT NULL,
	type           TEXT NOT NULL DEFAULT '',
	channel        TEXT NOT NULL DEFAULT 'app',
	sent_at        TIMESTAMPTZ NOT NULL,
	read_at        TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications (recipient_kind, recipient_id, sent_at DESC);
`

// SQLite keeps timestamps as unix nanoseconds and booleans as 0/1.
const schemaSQLite = `
CREATE TABLE IF NOT EXISTS customers (
	id    TEXT PRIMARY KEY,
	name  TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS providers (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL DEFAULT '',
	phone               TEXT NOT NULL DEFAULT '',
	verified            INTEGER NOT NULL DEFAULT 0,
	is_online           INTEGER NOT NULL DEFAULT 0,
	current_lat         REAL,
	current_lng         REAL,
	location_updated_at INTEGER,
	tier                TEXT NOT NULL DEFAULT '',
	version             INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS bookings (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	provider_id  TEXT REFERENCES providers(id),
	service_id   TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	address      TEXT NOT NULL DEFAULT '',
	address_lat  REAL,
	address_lng  REAL,
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL,
	completed_at INTEGER,
	version      INTEGER NOT NULL DEFAULT 0,
	CHECK (provider_id IS NULL OR status IN ('PROVIDER_ASSIGNED', 'EN_ROUTE', 'IN_PROGRESS'))
);

CREATE INDEX IF NOT EXISTS idx_bookings_provider_status ON bookings (provider_id, status);

CREATE TABLE IF NOT EXISTS booking_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	booking_id  TEXT NOT NULL REFERENCES bookings(id),
	event_type  TEXT NOT NULL,
	from_status TEXT NOT NULL,
	to_status   TEXT NOT NULL,
	provider_id TEXT,
	created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_booking_events_booking ON booking_events (booking_id, id);

CREATE TABLE IF NOT EXISTS notifications (
	id             TEXT PRIMARY KEY,
	recipient_kind TEXT NOT NULL,
	recipient_id   TEXT NOT NULL,
	booking_id     TEXT,
	message        TEXT NOT NULL,
	type           TEXT NOT NULL DEFAULT '',
	channel        TEXT NOT NULL DEFAULT 'app',
	sent_at        INTEGER NOT NULL,
	read_at        INTEGER
);

CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications (recipient_kind, recipient_id, sent_at DESC);
`

const activeStatusList = `('PROVIDER_ASSIGNED', 'EN_ROUTE', 'IN_PROGRESS')`
