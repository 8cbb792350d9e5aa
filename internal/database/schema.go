package database

// schema is applied statement by statement; the MySQL driver runs one statement per Exec
// unless multiStatements is enabled in the DSN.
var schema = []string{`
CREATE TABLE IF NOT EXISTS accounts (
    user_id BIGINT PRIMARY KEY,
    balance INT NOT NULL DEFAULT 0,
    free_standard INT NOT NULL DEFAULT 0,
    free_hd INT NOT NULL DEFAULT 0,
    is_unlimited TINYINT(1) NOT NULL DEFAULT 0,
    total_spent INT NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    CHECK (balance >= 0),
    CHECK (free_standard >= 0),
    CHECK (free_hd >= 0)
)`, `
CREATE TABLE IF NOT EXISTS usage_log (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    kind VARCHAR(16) NOT NULL,
    environment VARCHAR(64) NOT NULL,
    cost INT NOT NULL,
    source VARCHAR(16) NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    KEY idx_usage_user (user_id, created_at),
    FOREIGN KEY (user_id) REFERENCES accounts(user_id)
)`, `
CREATE TABLE IF NOT EXISTS credit_transactions (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    balance_delta INT NOT NULL,
    free_standard_delta INT NOT NULL,
    free_hd_delta INT NOT NULL,
    tx_type VARCHAR(16) NOT NULL,
    reference VARCHAR(128) NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE KEY uniq_tx_reference (tx_type, reference),
    FOREIGN KEY (user_id) REFERENCES accounts(user_id)
)`, `
CREATE TABLE IF NOT EXISTS generations (
    id CHAR(36) PRIMARY KEY,
    user_id BIGINT NOT NULL,
    kind VARCHAR(16) NOT NULL,
    environment VARCHAR(64) NOT NULL,
    intensity VARCHAR(32) NOT NULL,
    model_variant VARCHAR(32) NOT NULL,
    request_id VARCHAR(128) NOT NULL,
    status VARCHAR(16) NOT NULL,
    cost INT NOT NULL,
    asset_url TEXT,
    failure_reason TEXT,
    asset_expires_at TIMESTAMP NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    KEY idx_generations_user (user_id, created_at),
    FOREIGN KEY (user_id) REFERENCES accounts(user_id)
)`, `
CREATE TABLE IF NOT EXISTS prompt_templates (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    model_variant VARCHAR(32) NOT NULL,
    intensity VARCHAR(32) NOT NULL,
    environment VARCHAR(64) NOT NULL,
    template TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    UNIQUE KEY uniq_prompt_key (model_variant, intensity, environment)
)`, `
CREATE TABLE IF NOT EXISTS credit_packages (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    title VARCHAR(255) NOT NULL,
    currency VARCHAR(16) NOT NULL,
    price_minor_units INT NOT NULL,
    balance_credits INT NOT NULL DEFAULT 0,
    free_standard INT NOT NULL DEFAULT 0,
    free_hd INT NOT NULL DEFAULT 0,
    is_active TINYINT(1) NOT NULL DEFAULT 1,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
)`, `
CREATE TABLE IF NOT EXISTS payments (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    package_id BIGINT NOT NULL,
    provider VARCHAR(64) NOT NULL,
    provider_payment_id VARCHAR(128) NOT NULL,
    currency VARCHAR(16) NOT NULL,
    amount VARCHAR(32) NOT NULL,
    status VARCHAR(32) NOT NULL,
    raw_payload TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    UNIQUE KEY uniq_provider_payment (provider, provider_payment_id)
)`,
}
