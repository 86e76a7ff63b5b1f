package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/mcpay/gateway/internal/config"
	"github.com/mcpay/gateway/internal/dbpool"
	"github.com/mcpay/gateway/internal/metrics"
	"github.com/lib/pq"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// Query timeouts: point lookups get a tighter budget than list scans.
const (
	queryTimeoutGet  = 5 * time.Second
	queryTimeoutList = 10 * time.Second
)

const maxIDLength = 255

var validIdentifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

func validateID(id string) error {
	if len(id) == 0 || len(id) > maxIDLength {
		return fmt.Errorf("invalid id length: must be between 1 and %d characters", maxIDLength)
	}
	return nil
}

func validateTablePrefix(prefix string) error {
	if prefix == "" {
		return nil
	}
	if !validIdentifierRegex.MatchString(prefix) {
		return fmt.Errorf("invalid table prefix %q: must be alphanumeric with underscores only", prefix)
	}
	return nil
}

func withQueryTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// PostgresRepository implements Repository using PostgreSQL. Table names are
// prefixed once at construction time (e.g. "mcpay_" -> mcpay_servers).
type PostgresRepository struct {
	db      *sql.DB
	ownsDB  bool
	metrics *metrics.Metrics

	servers  string
	tools    string
	pricing  string
	users    string
	wallets  string
	payments string
	usage    string
}

// NewPostgresRepository opens a new connection pool and wraps it.
func NewPostgresRepository(cfg config.CatalogConfig) (*PostgresRepository, error) {
	if err := validateTablePrefix(cfg.TablePrefix); err != nil {
		return nil, err
	}

	pool, err := dbpool.NewSharedPool(cfg.PostgresURL, cfg.PostgresPool)
	if err != nil {
		return nil, err
	}

	return newPostgresRepository(pool.DB(), true, cfg.TablePrefix), nil
}

// NewPostgresRepositoryWithDB wraps an existing connection pool, for sharing
// one pool across the catalog and other Postgres-backed components.
func NewPostgresRepositoryWithDB(db *sql.DB, tablePrefix string) (*PostgresRepository, error) {
	if err := validateTablePrefix(tablePrefix); err != nil {
		return nil, err
	}
	return newPostgresRepository(db, false, tablePrefix), nil
}

func newPostgresRepository(db *sql.DB, ownsDB bool, prefix string) *PostgresRepository {
	return &PostgresRepository{
		db:       db,
		ownsDB:   ownsDB,
		servers:  prefix + "servers",
		tools:    prefix + "tools",
		pricing:  prefix + "pricing",
		users:    prefix + "users",
		wallets:  prefix + "wallets",
		payments: prefix + "payments",
		usage:    prefix + "usage_events",
	}
}

// WithMetrics adds metrics collection to the repository.
func (r *PostgresRepository) WithMetrics(m *metrics.Metrics) *PostgresRepository {
	r.metrics = m
	return r
}

func (r *PostgresRepository) GetServerByServerID(ctx context.Context, serverID string) (RegisteredServer, error) {
	defer metrics.MeasureDBQuery(r.metrics, "get_server", "postgres")()

	if err := validateID(serverID); err != nil {
		return RegisteredServer{}, err
	}

	ctx, cancel := withQueryTimeout(ctx, queryTimeoutGet)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT server_id, origin_url, receiver_address, auth_headers, status, metadata, registered_at, updated_at
		FROM %s
		WHERE server_id = $1
	`, pq.QuoteIdentifier(r.servers))

	var s RegisteredServer
	var authHeadersJSON, metadataJSON []byte

	err := r.db.QueryRowContext(ctx, query, serverID).Scan(
		&s.ServerID, &s.OriginURL, &s.ReceiverAddress, &authHeadersJSON,
		&s.Status, &metadataJSON, &s.RegisteredAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return RegisteredServer{}, ErrNotFound
	}
	if err != nil {
		return RegisteredServer{}, fmt.Errorf("query server: %w", err)
	}

	if len(authHeadersJSON) > 0 {
		if err := json.Unmarshal(authHeadersJSON, &s.AuthHeaders); err != nil {
			return RegisteredServer{}, fmt.Errorf("parse auth headers: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &s.Metadata); err != nil {
			return RegisteredServer{}, fmt.Errorf("parse metadata: %w", err)
		}
	}

	return s, nil
}

func (r *PostgresRepository) ListServers(ctx context.Context) ([]RegisteredServer, error) {
	defer metrics.MeasureDBQuery(r.metrics, "list_servers", "postgres")()

	ctx, cancel := withQueryTimeout(ctx, queryTimeoutList)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT server_id, origin_url, receiver_address, auth_headers, status, metadata, registered_at, updated_at
		FROM %s
		ORDER BY registered_at
	`, pq.QuoteIdentifier(r.servers))

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query servers: %w", err)
	}
	defer rows.Close()

	var servers []RegisteredServer
	for rows.Next() {
		var s RegisteredServer
		var authHeadersJSON, metadataJSON []byte
		if err := rows.Scan(
			&s.ServerID, &s.OriginURL, &s.ReceiverAddress, &authHeadersJSON,
			&s.Status, &metadataJSON, &s.RegisteredAt, &s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		if len(authHeadersJSON) > 0 {
			if err := json.Unmarshal(authHeadersJSON, &s.AuthHeaders); err != nil {
				return nil, fmt.Errorf("parse auth headers: %w", err)
			}
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &s.Metadata); err != nil {
				return nil, fmt.Errorf("parse metadata: %w", err)
			}
		}
		servers = append(servers, s)
	}
	return servers, rows.Err()
}

func (r *PostgresRepository) ListToolsByServer(ctx context.Context, serverID string) ([]Tool, error) {
	defer metrics.MeasureDBQuery(r.metrics, "list_tools", "postgres")()

	if err := validateID(serverID); err != nil {
		return nil, err
	}

	ctx, cancel := withQueryTimeout(ctx, queryTimeoutList)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT tool_id, server_id, name, input_schema
		FROM %s
		WHERE server_id = $1
		ORDER BY name ASC
	`, pq.QuoteIdentifier(r.tools))

	rows, err := r.db.QueryContext(ctx, query, serverID)
	if err != nil {
		return nil, fmt.Errorf("query tools: %w", err)
	}
	defer rows.Close()

	var tools []Tool
	for rows.Next() {
		var t Tool
		if err := rows.Scan(&t.ToolID, &t.ServerID, &t.Name, &t.InputSchema); err != nil {
			return nil, fmt.Errorf("scan tool: %w", err)
		}
		tools = append(tools, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tools: %w", err)
	}

	return tools, nil
}

func (r *PostgresRepository) GetToolPricing(ctx context.Context, serverID, toolName string) (Tool, []PricingEntry, error) {
	defer metrics.MeasureDBQuery(r.metrics, "get_tool_pricing", "postgres")()

	if err := validateID(serverID); err != nil {
		return Tool{}, nil, err
	}

	ctx, cancel := withQueryTimeout(ctx, queryTimeoutGet)
	defer cancel()

	toolQuery := fmt.Sprintf(`
		SELECT tool_id, server_id, name, input_schema
		FROM %s
		WHERE server_id = $1 AND name = $2
	`, pq.QuoteIdentifier(r.tools))

	var t Tool
	err := r.db.QueryRowContext(ctx, toolQuery, serverID, toolName).Scan(&t.ToolID, &t.ServerID, &t.Name, &t.InputSchema)
	if err == sql.ErrNoRows {
		return Tool{}, nil, ErrNotFound
	}
	if err != nil {
		return Tool{}, nil, fmt.Errorf("query tool: %w", err)
	}

	pricingQuery := fmt.Sprintf(`
		SELECT id, tool_id, asset_address, network, max_amount_required, token_decimals, active, created_at, updated_at
		FROM %s
		WHERE tool_id = $1 AND active = true
	`, pq.QuoteIdentifier(r.pricing))

	rows, err := r.db.QueryContext(ctx, pricingQuery, t.ToolID)
	if err != nil {
		return Tool{}, nil, fmt.Errorf("query pricing: %w", err)
	}
	defer rows.Close()

	var pricing []PricingEntry
	for rows.Next() {
		var p PricingEntry
		if err := rows.Scan(&p.ID, &p.ToolID, &p.AssetAddress, &p.Network, &p.MaxAmountRequiredRaw, &p.TokenDecimals, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return Tool{}, nil, fmt.Errorf("scan pricing: %w", err)
		}
		pricing = append(pricing, p)
	}
	if err := rows.Err(); err != nil {
		return Tool{}, nil, fmt.Errorf("iterate pricing: %w", err)
	}

	return t, pricing, nil
}

func (r *PostgresRepository) CreateServer(ctx context.Context, server RegisteredServer) error {
	defer metrics.MeasureDBQuery(r.metrics, "create_server", "postgres")()

	if err := validateID(server.ServerID); err != nil {
		return err
	}

	ctx, cancel := withQueryTimeout(ctx, queryTimeoutGet)
	defer cancel()

	now := time.Now()
	if server.RegisteredAt.IsZero() {
		server.RegisteredAt = now
	}
	server.UpdatedAt = now
	if server.Status == "" {
		server.Status = "active"
	}

	authHeadersJSON, err := json.Marshal(server.AuthHeaders)
	if err != nil {
		return fmt.Errorf("marshal auth headers: %w", err)
	}
	metadataJSON, err := json.Marshal(server.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (server_id, origin_url, receiver_address, auth_headers, status, metadata, registered_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, pq.QuoteIdentifier(r.servers))

	_, err = r.db.ExecContext(ctx, query,
		server.ServerID, server.OriginURL, server.ReceiverAddress, authHeadersJSON,
		server.Status, metadataJSON, server.RegisteredAt, server.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert server: %w", err)
	}

	return nil
}

func (r *PostgresRepository) UpdateServer(ctx context.Context, server RegisteredServer) error {
	defer metrics.MeasureDBQuery(r.metrics, "update_server", "postgres")()

	if err := validateID(server.ServerID); err != nil {
		return err
	}

	ctx, cancel := withQueryTimeout(ctx, queryTimeoutGet)
	defer cancel()

	server.UpdatedAt = time.Now()

	authHeadersJSON, err := json.Marshal(server.AuthHeaders)
	if err != nil {
		return fmt.Errorf("marshal auth headers: %w", err)
	}
	metadataJSON, err := json.Marshal(server.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET origin_url = $2, receiver_address = $3, auth_headers = $4, status = $5, metadata = $6, updated_at = $7
		WHERE server_id = $1
	`, pq.QuoteIdentifier(r.servers))

	result, err := r.db.ExecContext(ctx, query,
		server.ServerID, server.OriginURL, server.ReceiverAddress, authHeadersJSON,
		server.Status, metadataJSON, server.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update server: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *PostgresRepository) UpsertTool(ctx context.Context, tool Tool, pricing []PricingEntry) error {
	defer metrics.MeasureDBQuery(r.metrics, "upsert_tool", "postgres")()

	if err := validateID(tool.ServerID); err != nil {
		return err
	}
	if tool.ToolID == "" {
		tool.ToolID = uuid.NewString()
	}

	ctx, cancel := withQueryTimeout(ctx, queryTimeoutList)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	toolQuery := fmt.Sprintf(`
		INSERT INTO %s (tool_id, server_id, name, input_schema)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (server_id, name) DO UPDATE SET input_schema = EXCLUDED.input_schema
		RETURNING tool_id
	`, pq.QuoteIdentifier(r.tools))

	var toolID string
	if err := tx.QueryRowContext(ctx, toolQuery, tool.ToolID, tool.ServerID, tool.Name, tool.InputSchema).Scan(&toolID); err != nil {
		return fmt.Errorf("upsert tool: %w", err)
	}

	deleteQuery := fmt.Sprintf(`DELETE FROM %s WHERE tool_id = $1`, pq.QuoteIdentifier(r.pricing))
	if _, err := tx.ExecContext(ctx, deleteQuery, toolID); err != nil {
		return fmt.Errorf("clear pricing: %w", err)
	}

	insertQuery := fmt.Sprintf(`
		INSERT INTO %s (id, tool_id, asset_address, network, max_amount_required, token_decimals, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, pq.QuoteIdentifier(r.pricing))

	now := time.Now()
	for _, row := range pricing {
		if row.ID == "" {
			row.ID = uuid.NewString()
		}
		if _, err := tx.ExecContext(ctx, insertQuery,
			row.ID, toolID, row.AssetAddress, row.Network,
			row.MaxAmountRequiredRaw, row.TokenDecimals, row.Active, now,
		); err != nil {
			return fmt.Errorf("insert pricing: %w", err)
		}
	}

	return tx.Commit()
}

func (r *PostgresRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	defer metrics.MeasureDBQuery(r.metrics, "get_user_by_id", "postgres")()

	ctx, cancel := withQueryTimeout(ctx, queryTimeoutGet)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, email, display_name, primary_wallet_address, api_key_hash, last_login_at, last_used_at
		FROM %s WHERE id = $1
	`, pq.QuoteIdentifier(r.users))

	return r.scanUser(ctx, query, userID)
}

func (r *PostgresRepository) GetUserByAPIKeyHash(ctx context.Context, hash string) (User, error) {
	defer metrics.MeasureDBQuery(r.metrics, "get_user_by_api_key", "postgres")()

	ctx, cancel := withQueryTimeout(ctx, queryTimeoutGet)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, email, display_name, primary_wallet_address, api_key_hash, last_login_at, last_used_at
		FROM %s WHERE api_key_hash = $1
	`, pq.QuoteIdentifier(r.users))

	return r.scanUser(ctx, query, hash)
}

func (r *PostgresRepository) GetUserByWalletAddress(ctx context.Context, address string) (User, error) {
	defer metrics.MeasureDBQuery(r.metrics, "get_user_by_wallet", "postgres")()

	ctx, cancel := withQueryTimeout(ctx, queryTimeoutGet)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, email, display_name, primary_wallet_address, api_key_hash, last_login_at, last_used_at
		FROM %s WHERE primary_wallet_address = $1
	`, pq.QuoteIdentifier(r.users))

	return r.scanUser(ctx, query, address)
}

func (r *PostgresRepository) scanUser(ctx context.Context, query, arg string) (User, error) {
	var u User
	var email, apiKeyHash sql.NullString
	var lastLoginAt, lastUsedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &email, &u.DisplayName, &u.PrimaryWalletAddress, &apiKeyHash, &lastLoginAt, &lastUsedAt,
	)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("query user: %w", err)
	}

	u.Email = email.String
	u.APIKeyHash = apiKeyHash.String
	u.LastLoginAt = lastLoginAt.Time
	u.LastUsedAt = lastUsedAt.Time
	return u, nil
}

func (r *PostgresRepository) CreateUserWithWallet(ctx context.Context, address, chain string) (User, error) {
	defer metrics.MeasureDBQuery(r.metrics, "create_user_with_wallet", "postgres")()

	ctx, cancel := withQueryTimeout(ctx, queryTimeoutGet)
	defer cancel()

	if existing, err := r.GetUserByWalletAddress(ctx, address); err == nil {
		return existing, nil
	} else if err != ErrNotFound {
		return User{}, err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, display_name, primary_wallet_address, last_login_at, last_used_at)
		VALUES (gen_random_uuid(), $1, $2, now(), now())
		RETURNING id, display_name, primary_wallet_address, last_login_at, last_used_at
	`, pq.QuoteIdentifier(r.users))

	var u User
	err := r.db.QueryRowContext(ctx, query, fmt.Sprintf("%s:%s", chain, address), address).Scan(
		&u.ID, &u.DisplayName, &u.PrimaryWalletAddress, &u.LastLoginAt, &u.LastUsedAt,
	)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}

	return u, nil
}

func (r *PostgresRepository) TouchUserLogin(ctx context.Context, userID string) error {
	defer metrics.MeasureDBQuery(r.metrics, "touch_user_login", "postgres")()

	ctx, cancel := withQueryTimeout(ctx, queryTimeoutGet)
	defer cancel()

	query := fmt.Sprintf(`UPDATE %s SET last_login_at = now(), last_used_at = now() WHERE id = $1`, pq.QuoteIdentifier(r.users))

	result, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("touch user login: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) GetUserWallets(ctx context.Context, userID string, activeOnly bool) ([]Wallet, error) {
	defer metrics.MeasureDBQuery(r.metrics, "get_user_wallets", "postgres")()

	ctx, cancel := withQueryTimeout(ctx, queryTimeoutList)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, user_id, address, network, is_smart_account, active
		FROM %s WHERE user_id = $1
	`, pq.QuoteIdentifier(r.wallets))
	if activeOnly {
		query += " AND active = true"
	}

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query wallets: %w", err)
	}
	defer rows.Close()

	var wallets []Wallet
	for rows.Next() {
		var w Wallet
		if err := rows.Scan(&w.ID, &w.UserID, &w.Address, &w.Network, &w.IsSmartAccount, &w.Active); err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallets: %w", err)
	}

	return wallets, nil
}

func (r *PostgresRepository) CreatePayment(ctx context.Context, record PaymentRecord) error {
	defer metrics.MeasureDBQuery(r.metrics, "create_payment", "postgres")()

	ctx, cancel := withQueryTimeout(ctx, queryTimeoutGet)
	defer cancel()

	now := time.Now()
	record.CreatedAt = now
	record.UpdatedAt = now
	if record.Status == "" {
		record.Status = PaymentStatusPending
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, tool_id, user_id, amount_raw, token_decimals, asset_address, network, status, signature, payer_address, created_at, updated_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, pq.QuoteIdentifier(r.payments))

	var userID *string
	if record.UserID != "" {
		userID = &record.UserID
	}

	_, err := r.db.ExecContext(ctx, query,
		record.ToolID, userID, record.AmountRaw, record.TokenDecimals, record.AssetAddress,
		record.Network, record.Status, record.Signature, record.PayerAddress, record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return ErrSignatureExists
		}
		return fmt.Errorf("insert payment: %w", err)
	}

	return nil
}

func (r *PostgresRepository) GetPaymentBySignature(ctx context.Context, signature string) (PaymentRecord, error) {
	defer metrics.MeasureDBQuery(r.metrics, "get_payment_by_signature", "postgres")()

	ctx, cancel := withQueryTimeout(ctx, queryTimeoutGet)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, tool_id, user_id, amount_raw, token_decimals, asset_address, network, status, signature, payer_address, created_at, updated_at
		FROM %s WHERE signature = $1
	`, pq.QuoteIdentifier(r.payments))

	var rec PaymentRecord
	var userID sql.NullString

	err := r.db.QueryRowContext(ctx, query, signature).Scan(
		&rec.ID, &rec.ToolID, &userID, &rec.AmountRaw, &rec.TokenDecimals, &rec.AssetAddress,
		&rec.Network, &rec.Status, &rec.Signature, &rec.PayerAddress, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return PaymentRecord{}, ErrNotFound
	}
	if err != nil {
		return PaymentRecord{}, fmt.Errorf("query payment: %w", err)
	}

	rec.UserID = userID.String
	return rec, nil
}

func (r *PostgresRepository) RecordToolUsage(ctx context.Context, event UsageEvent) error {
	defer metrics.MeasureDBQuery(r.metrics, "record_tool_usage", "postgres")()

	ctx, cancel := withQueryTimeout(ctx, queryTimeoutGet)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, tool_id, server_id, user_id, response_status, execution_time_ms, ip_address, user_agent, request_snapshot, result_snapshot, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, now())
	`, pq.QuoteIdentifier(r.usage))

	var userID *string
	if event.UserID != "" {
		userID = &event.UserID
	}

	_, err := r.db.ExecContext(ctx, query,
		event.ToolID, event.ServerID, userID, event.ResponseStatus, event.ExecutionTimeMs,
		event.IPAddress, event.UserAgent, event.RequestSnapshot, event.ResultSnapshot,
	)
	if err != nil {
		return fmt.Errorf("insert usage event: %w", err)
	}

	return nil
}

// Close closes the database connection only if this repository owns it.
func (r *PostgresRepository) Close() error {
	if r.ownsDB {
		return r.db.Close()
	}
	return nil
}
