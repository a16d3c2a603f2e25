package store

// schema uses column types both SQLite and PostgreSQL accept. Timestamps are stored as
// fixed-width UTC text and booleans as 0/1 integers.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS transport_requests (
	id TEXT PRIMARY KEY,
	patient_name TEXT NOT NULL DEFAULT '',
	patient_id TEXT NOT NULL DEFAULT '',
	origin TEXT NOT NULL DEFAULT '',
	destination TEXT NOT NULL DEFAULT '',
	scheduled_time TEXT NOT NULL,
	return_time TEXT,
	transport_type TEXT NOT NULL,
	service_type TEXT NOT NULL,
	status TEXT NOT NULL,
	assigned_vehicle_id TEXT,
	required_equipment TEXT NOT NULL DEFAULT '[]',
	observations TEXT NOT NULL DEFAULT '',
	special_attention TEXT NOT NULL DEFAULT '',
	architectural_barriers TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_requests_status ON transport_requests(status, scheduled_time)`,
	`CREATE TABLE IF NOT EXISTS vehicles (
	id TEXT PRIMARY KEY,
	plate TEXT NOT NULL DEFAULT '',
	zone TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	equipment TEXT NOT NULL DEFAULT '[]',
	cap_stretcher INTEGER NOT NULL DEFAULT 0,
	cap_wheelchair INTEGER NOT NULL DEFAULT 0,
	cap_walking INTEGER NOT NULL DEFAULT 0,
	seq INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS assignments (
	id TEXT PRIMARY KEY,
	request_id TEXT NOT NULL,
	vehicle_id TEXT NOT NULL,
	assigned_at TEXT NOT NULL,
	estimated_arrival TEXT,
	occ_stretcher INTEGER NOT NULL DEFAULT 0,
	occ_wheelchair INTEGER NOT NULL DEFAULT 0,
	occ_walking INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	automatic INTEGER NOT NULL DEFAULT 0,
	incidents TEXT NOT NULL DEFAULT '[]'
)`,
	`CREATE INDEX IF NOT EXISTS idx_assignments_vehicle ON assignments(vehicle_id, status)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_assignments_active_request ON assignments(request_id) WHERE status IN ('scheduled','inProgress')`,
	`CREATE TABLE IF NOT EXISTS vehicle_locations (
	vehicle_id TEXT PRIMARY KEY,
	latitude DOUBLE PRECISION NOT NULL,
	longitude DOUBLE PRECISION NOT NULL,
	speed DOUBLE PRECISION NOT NULL DEFAULT 0,
	heading DOUBLE PRECISION NOT NULL DEFAULT 0,
	ts TEXT NOT NULL,
	status TEXT NOT NULL,
	in_service INTEGER NOT NULL DEFAULT 0,
	assigned_request_id TEXT,
	estimated_arrival TEXT
)`,
	`CREATE TABLE IF NOT EXISTS location_alerts (
	id TEXT PRIMARY KEY,
	vehicle_id TEXT NOT NULL,
	request_id TEXT NOT NULL DEFAULT '',
	assignment_id TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL,
	ts TEXT NOT NULL,
	latitude DOUBLE PRECISION NOT NULL DEFAULT 0,
	longitude DOUBLE PRECISION NOT NULL DEFAULT 0,
	details TEXT NOT NULL DEFAULT '',
	resolved INTEGER NOT NULL DEFAULT 0,
	resolved_at TEXT
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_alerts_open ON location_alerts(vehicle_id, type) WHERE resolved = 0`,
	`CREATE TABLE IF NOT EXISTS occupancy_records (
	id TEXT PRIMARY KEY,
	assignment_id TEXT NOT NULL,
	vehicle_id TEXT NOT NULL,
	request_id TEXT NOT NULL,
	seats_used INTEGER NOT NULL,
	seats_total INTEGER NOT NULL,
	rate DOUBLE PRECISION NOT NULL,
	recorded_at TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	events TEXT NOT NULL DEFAULT '[]',
	secret TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id TEXT PRIMARY KEY,
	subscription_id TEXT NOT NULL DEFAULT '',
	event_type TEXT NOT NULL,
	url TEXT NOT NULL,
	secret TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL,
	status TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	next_attempt_at TEXT NOT NULL,
	last_error TEXT NOT NULL DEFAULT '',
	response_code INTEGER NOT NULL DEFAULT 0,
	latency_ms INTEGER NOT NULL DEFAULT 0,
	delivered_at TEXT,
	dedup_key TEXT NOT NULL,
	created_at TEXT NOT NULL
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_deliveries_dedup ON webhook_deliveries(event_type, url, dedup_key)`,
}
