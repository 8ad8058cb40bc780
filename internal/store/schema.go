package store

// schemaVersion1 is the current schema.
const schemaVersion1 = 1

// schemaV1 is the DDL for a fresh install. Tasks keep a full audit trail
// (delivery status lives on the row; rows are never deleted). Submissions
// reference the issuing task by nonce. Check results are many-per-submission.
var schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);

CREATE TABLE IF NOT EXISTS tasks (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	participant_id  TEXT NOT NULL,
	task_id         TEXT NOT NULL,
	round           INTEGER NOT NULL,
	nonce           TEXT NOT NULL UNIQUE,
	template_id     TEXT NOT NULL,
	brief           TEXT NOT NULL,
	checks          TEXT NOT NULL,
	attachments     TEXT,
	callback_url    TEXT NOT NULL,
	endpoint        TEXT NOT NULL,
	status_code     INTEGER,
	delivery_error  TEXT,
	created_at      TEXT NOT NULL,
	UNIQUE(participant_id, task_id, round)
);
CREATE INDEX IF NOT EXISTS idx_tasks_participant_round ON tasks(participant_id, round);
CREATE INDEX IF NOT EXISTS idx_tasks_nonce ON tasks(nonce);

CREATE TABLE IF NOT EXISTS submissions (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	participant_id     TEXT NOT NULL,
	task_id            TEXT NOT NULL,
	round              INTEGER NOT NULL,
	nonce              TEXT NOT NULL REFERENCES tasks(nonce),
	artifact_location  TEXT NOT NULL,
	content_id         TEXT NOT NULL,
	rendered_url       TEXT NOT NULL,
	received_at        TEXT NOT NULL,
	UNIQUE(participant_id, task_id, round)
);
CREATE INDEX IF NOT EXISTS idx_submissions_round ON submissions(round);

CREATE TABLE IF NOT EXISTS check_results (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	submission_id  INTEGER NOT NULL REFERENCES submissions(id),
	check_name     TEXT NOT NULL,
	score          REAL NOT NULL,
	reason         TEXT,
	evidence       TEXT,
	created_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_submission ON check_results(submission_id);

CREATE TABLE IF NOT EXISTS participants (
	id           TEXT PRIMARY KEY,
	endpoint     TEXT NOT NULL,
	secret_hash  TEXT NOT NULL,
	created_at   TEXT NOT NULL
);
`
