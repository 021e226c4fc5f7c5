package db

const schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
    id          TEXT PRIMARY KEY,
    email       TEXT NOT NULL DEFAULT '',
    points      INTEGER NOT NULL DEFAULT 0 CHECK (points >= 0),
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS hunt_items (
    id               BIGSERIAL PRIMARY KEY,
    code             TEXT NOT NULL UNIQUE,
    points           INTEGER NOT NULL DEFAULT 0,
    max_claims       INTEGER,
    claim_count      INTEGER NOT NULL DEFAULT 0,
    active           BOOLEAN NOT NULL DEFAULT TRUE,
    activation_start TIMESTAMPTZ,
    activation_end   TIMESTAMPTZ,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CHECK (max_claims IS NULL OR claim_count <= max_claims)
);

CREATE TABLE IF NOT EXISTS collectibles (
    id               BIGSERIAL PRIMARY KEY,
    slug             TEXT NOT NULL UNIQUE,
    points           INTEGER NOT NULL DEFAULT 0,
    active           BOOLEAN NOT NULL DEFAULT TRUE,
    activation_start TIMESTAMPTZ,
    activation_end   TIMESTAMPTZ,
    limited          BOOLEAN NOT NULL DEFAULT FALSE,
    remaining        INTEGER NOT NULL DEFAULT 0 CHECK (remaining >= 0),
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS hunt_item_collectibles (
    item_id        BIGINT NOT NULL REFERENCES hunt_items(id),
    collectible_id BIGINT NOT NULL REFERENCES collectibles(id),
    PRIMARY KEY (item_id, collectible_id)
);

CREATE TABLE IF NOT EXISTS item_claims (
    user_id    TEXT NOT NULL REFERENCES users(id),
    item_id    BIGINT NOT NULL REFERENCES hunt_items(id),
    claimed_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (user_id, item_id)
);

CREATE TABLE IF NOT EXISTS collectible_instances (
    id             UUID PRIMARY KEY,
    user_id        TEXT NOT NULL REFERENCES users(id),
    collectible_id BIGINT NOT NULL REFERENCES collectibles(id),
    used           BOOLEAN NOT NULL DEFAULT FALSE,
    added_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS attempt_log (
    id           BIGSERIAL PRIMARY KEY,
    user_id      TEXT NOT NULL,
    code         TEXT NOT NULL,
    success      BOOLEAN NOT NULL,
    item_id      BIGINT,
    attempted_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attempt_log_user_time ON attempt_log (user_id, attempted_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_attempt_log_dedupe ON attempt_log (user_id, code, attempted_at);
`
