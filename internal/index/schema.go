package index

// DDL bootstraps the local index. Core columns are closed; everything
// non-core lives in the attributes blob, so schema evolution normally means
// no migration at all.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS listings (
    id                 TEXT PRIMARY KEY,
    source             TEXT NOT NULL,
    source_listing_id  TEXT NOT NULL,
    title              TEXT NOT NULL DEFAULT '',
    make               TEXT NOT NULL DEFAULT '',
    model              TEXT NOT NULL DEFAULT '',
    year               INTEGER NOT NULL DEFAULT 0,
    trim               TEXT NOT NULL DEFAULT '',
    price              DOUBLE PRECISION,
    mileage            INTEGER,
    body_style         TEXT NOT NULL DEFAULT '',
    exterior_color     TEXT,
    transmission       TEXT NOT NULL DEFAULT '',
    drivetrain         TEXT NOT NULL DEFAULT '',
    fuel_type          TEXT NOT NULL DEFAULT '',
    vin                TEXT NOT NULL DEFAULT '',
    location           TEXT NOT NULL DEFAULT '',
    zip                TEXT NOT NULL DEFAULT '',
    dealer_name        TEXT NOT NULL DEFAULT '',
    url                TEXT NOT NULL DEFAULT '',
    image_urls         JSONB NOT NULL DEFAULT '[]',
    description        TEXT NOT NULL DEFAULT '',
    attributes         JSONB NOT NULL DEFAULT '{}',
    features           JSONB NOT NULL DEFAULT '[]',
    history            JSONB NOT NULL DEFAULT '{}',
    access_count       BIGINT NOT NULL DEFAULT 0,
    active             BOOLEAN NOT NULL DEFAULT TRUE,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_seen_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (source, source_listing_id)
);

CREATE INDEX IF NOT EXISTS idx_listings_make_model ON listings (make, model);
CREATE INDEX IF NOT EXISTS idx_listings_year ON listings (year);
CREATE INDEX IF NOT EXISTS idx_listings_price ON listings (price);
CREATE INDEX IF NOT EXISTS idx_listings_last_seen ON listings (last_seen_at);
CREATE INDEX IF NOT EXISTS idx_listings_active ON listings (active);

CREATE TABLE IF NOT EXISTS refresh_log (
    id          BIGSERIAL PRIMARY KEY,
    listing_id  TEXT NOT NULL,
    source      TEXT NOT NULL,
    status      TEXT NOT NULL,
    detail      TEXT NOT NULL DEFAULT '',
    refreshed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_refresh_log_listing ON refresh_log (listing_id, refreshed_at);

CREATE TABLE IF NOT EXISTS saved_searches (
    id          BIGSERIAL PRIMARY KEY,
    user_id     TEXT NOT NULL,
    query       TEXT NOT NULL,
    filters     JSONB NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_run_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_saved_searches_user ON saved_searches (user_id);
`
