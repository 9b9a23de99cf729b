package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using a PostgreSQL backend.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore initializes a new PostgresStore with a connection pool.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// --- Cluster Operations ---

func (s *PostgresStore) UpsertCluster(ctx context.Context, c *Cluster) error {
	query := `
		INSERT INTO clusters (cluster_id, owner_id, name, status, agent_version, update_available, update_notes, last_seen_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (cluster_id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			updated_at = NOW()
	`
	_, err := s.pool.Exec(ctx, query,
		c.ClusterID, c.OwnerID, c.Name, c.Status, c.AgentVersion,
		c.UpdateAvailable, c.UpdateNotes, c.LastSeenAt,
	)
	return err
}

func (s *PostgresStore) GetCluster(ctx context.Context, clusterID string) (*Cluster, error) {
	query := `
		SELECT cluster_id, owner_id, name, status, agent_version, update_available, update_notes, last_seen_at, created_at, updated_at
		FROM clusters WHERE cluster_id = $1
	`
	var c Cluster
	err := s.pool.QueryRow(ctx, query, clusterID).Scan(
		&c.ClusterID, &c.OwnerID, &c.Name, &c.Status, &c.AgentVersion,
		&c.UpdateAvailable, &c.UpdateNotes, &c.LastSeenAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) ListClusters(ctx context.Context) ([]*Cluster, error) {
	query := `
		SELECT cluster_id, owner_id, name, status, agent_version, update_available, update_notes, last_seen_at, created_at, updated_at
		FROM clusters ORDER BY created_at
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clusters []*Cluster
	for rows.Next() {
		var c Cluster
		if err := rows.Scan(
			&c.ClusterID, &c.OwnerID, &c.Name, &c.Status, &c.AgentVersion,
			&c.UpdateAvailable, &c.UpdateNotes, &c.LastSeenAt, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		clusters = append(clusters, &c)
	}
	return clusters, rows.Err()
}

func (s *PostgresStore) TouchCluster(ctx context.Context, clusterID string, seenAt time.Time) error {
	query := `UPDATE clusters SET last_seen_at = $2, status = 'healthy', updated_at = NOW() WHERE cluster_id = $1`
	tag, err := s.pool.Exec(ctx, query, clusterID, seenAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateClusterVersion(ctx context.Context, clusterID string, version string, updateAvailable bool, updateNotes string) error {
	query := `
		UPDATE clusters SET agent_version = $2, update_available = $3, update_notes = $4, updated_at = NOW()
		WHERE cluster_id = $1
	`
	tag, err := s.pool.Exec(ctx, query, clusterID, version, updateAvailable, updateNotes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateClusterStatus(ctx context.Context, clusterID string, status string) error {
	query := `UPDATE clusters SET status = $2, updated_at = NOW() WHERE cluster_id = $1`
	tag, err := s.pool.Exec(ctx, query, clusterID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Agent Key Operations ---

func (s *PostgresStore) CreateAgentKey(ctx context.Context, k *AgentKey) error {
	query := `
		INSERT INTO agent_keys (key_id, cluster_id, name, key_hash, plaintext_key, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`
	_, err := s.pool.Exec(ctx, query, k.KeyID, k.ClusterID, k.Name, k.KeyHash, k.PlaintextKey, k.Active)
	return err
}

func (s *PostgresStore) GetAgentKeyByHash(ctx context.Context, hash string) (*AgentKey, error) {
	query := `
		SELECT key_id, cluster_id, name, key_hash, plaintext_key, active, created_at, last_used_at
		FROM agent_keys WHERE key_hash = $1 AND key_hash <> ''
	`
	return s.scanAgentKey(ctx, query, hash)
}

func (s *PostgresStore) GetAgentKeyByPlaintext(ctx context.Context, raw string) (*AgentKey, error) {
	query := `
		SELECT key_id, cluster_id, name, key_hash, plaintext_key, active, created_at, last_used_at
		FROM agent_keys WHERE key_hash = '' AND plaintext_key = $1 AND plaintext_key <> ''
	`
	return s.scanAgentKey(ctx, query, raw)
}

func (s *PostgresStore) scanAgentKey(ctx context.Context, query string, arg string) (*AgentKey, error) {
	var k AgentKey
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&k.KeyID, &k.ClusterID, &k.Name, &k.KeyHash, &k.PlaintextKey,
		&k.Active, &k.CreatedAt, &k.LastUsedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (s *PostgresStore) BackfillAgentKeyHash(ctx context.Context, keyID string, hash string) error {
	// Conditional on the hash still being empty so two concurrent fallback
	// authentications cannot both rewrite the row.
	query := `UPDATE agent_keys SET key_hash = $2, plaintext_key = '' WHERE key_id = $1 AND key_hash = ''`
	_, err := s.pool.Exec(ctx, query, keyID, hash)
	return err
}

func (s *PostgresStore) TouchAgentKey(ctx context.Context, keyID string, usedAt time.Time) error {
	query := `UPDATE agent_keys SET last_used_at = $2 WHERE key_id = $1`
	_, err := s.pool.Exec(ctx, query, keyID, usedAt)
	return err
}

// --- Command Queue Operations ---

func (s *PostgresStore) CreateCommand(ctx context.Context, cmd *Command) error {
	if err := cmd.ValidateParams(); err != nil {
		return err
	}
	if cmd.Status == "" {
		cmd.Status = CommandPending
	}
	query := `
		INSERT INTO commands (command_id, cluster_id, type, params, status, source, result, delivery_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`
	_, err := s.pool.Exec(ctx, query,
		cmd.CommandID, cmd.ClusterID, cmd.Type, cmd.Params, cmd.Status,
		cmd.Source, cmd.Result, cmd.DeliveryCount,
	)
	return err
}

// DeliverPendingCommands flips pending rows to "sent" and returns them in one
// conditional UPDATE, so two racing polls for the same cluster can never both
// receive the same command.
func (s *PostgresStore) DeliverPendingCommands(ctx context.Context, clusterID string, now time.Time) ([]*Command, error) {
	query := `
		UPDATE commands SET status = 'sent', executed_at = $2, delivery_count = delivery_count + 1
		WHERE command_id IN (
			SELECT command_id FROM commands
			WHERE cluster_id = $1 AND status = 'pending'
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
		)
		RETURNING command_id, cluster_id, type, params, status, source, result, delivery_count, created_at, executed_at, completed_at
	`
	rows, err := s.pool.Query(ctx, query, clusterID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commands []*Command
	for rows.Next() {
		var cmd Command
		if err := rows.Scan(
			&cmd.CommandID, &cmd.ClusterID, &cmd.Type, &cmd.Params, &cmd.Status,
			&cmd.Source, &cmd.Result, &cmd.DeliveryCount, &cmd.CreatedAt, &cmd.ExecutedAt, &cmd.CompletedAt,
		); err != nil {
			return nil, err
		}
		commands = append(commands, &cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// RETURNING does not guarantee order
	sortCommandsFIFO(commands)
	return commands, nil
}

func sortCommandsFIFO(commands []*Command) {
	for i := 1; i < len(commands); i++ {
		for j := i; j > 0 && commands[j].CreatedAt.Before(commands[j-1].CreatedAt); j-- {
			commands[j], commands[j-1] = commands[j-1], commands[j]
		}
	}
}

func (s *PostgresStore) AckCommand(ctx context.Context, clusterID string, commandID string, status string, result string, now time.Time) error {
	// Ownership check first so a cross-tenant ack is distinguishable from an
	// unknown command id.
	var owner string
	err := s.pool.QueryRow(ctx, `SELECT cluster_id FROM commands WHERE command_id = $1`, commandID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if owner != clusterID {
		return ErrForbidden
	}

	// Conditional update keeps the lifecycle monotonic: a command already in
	// a terminal state is never overwritten.
	query := `
		UPDATE commands SET status = $2, result = $3, completed_at = $4
		WHERE command_id = $1 AND cluster_id = $5 AND status NOT IN ('completed', 'failed')
	`
	tag, err := s.pool.Exec(ctx, query, commandID, status, result, now, clusterID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) GetCommand(ctx context.Context, commandID string) (*Command, error) {
	query := `
		SELECT command_id, cluster_id, type, params, status, source, result, delivery_count, created_at, executed_at, completed_at
		FROM commands WHERE command_id = $1
	`
	var cmd Command
	err := s.pool.QueryRow(ctx, query, commandID).Scan(
		&cmd.CommandID, &cmd.ClusterID, &cmd.Type, &cmd.Params, &cmd.Status,
		&cmd.Source, &cmd.Result, &cmd.DeliveryCount, &cmd.CreatedAt, &cmd.ExecutedAt, &cmd.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cmd, nil
}

func (s *PostgresStore) ListCommands(ctx context.Context, clusterID string, limit int) ([]*Command, error) {
	query := `
		SELECT command_id, cluster_id, type, params, status, source, result, delivery_count, created_at, executed_at, completed_at
		FROM commands WHERE cluster_id = $1 ORDER BY created_at DESC LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, clusterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commands []*Command
	for rows.Next() {
		var cmd Command
		if err := rows.Scan(
			&cmd.CommandID, &cmd.ClusterID, &cmd.Type, &cmd.Params, &cmd.Status,
			&cmd.Source, &cmd.Result, &cmd.DeliveryCount, &cmd.CreatedAt, &cmd.ExecutedAt, &cmd.CompletedAt,
		); err != nil {
			return nil, err
		}
		commands = append(commands, &cmd)
	}
	return commands, rows.Err()
}

func (s *PostgresStore) RequeueStaleCommands(ctx context.Context, cutoff time.Time, maxDeliveries int) (int, int, error) {
	expireQuery := `
		UPDATE commands SET status = 'failed', result = 'delivery timeout', completed_at = NOW()
		WHERE status = 'sent' AND executed_at < $1 AND delivery_count >= $2
	`
	expireTag, err := s.pool.Exec(ctx, expireQuery, cutoff, maxDeliveries)
	if err != nil {
		return 0, 0, err
	}

	requeueQuery := `
		UPDATE commands SET status = 'pending', executed_at = NULL
		WHERE status = 'sent' AND executed_at < $1 AND delivery_count < $2
	`
	requeueTag, err := s.pool.Exec(ctx, requeueQuery, cutoff, maxDeliveries)
	if err != nil {
		return 0, int(expireTag.RowsAffected()), err
	}
	return int(requeueTag.RowsAffected()), int(expireTag.RowsAffected()), nil
}

// --- Anomaly / Threat Operations ---

func (s *PostgresStore) CreateAnomaly(ctx context.Context, a *Anomaly) error {
	query := `
		INSERT INTO anomalies (anomaly_id, cluster_id, type, severity, description, metadata, resolved, auto_heal_applied, action_taken, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	if a.DetectedAt.IsZero() {
		a.DetectedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, query,
		a.AnomalyID, a.ClusterID, a.Type, a.Severity, a.Description,
		a.Metadata, a.Resolved, a.AutoHealApplied, a.ActionTaken, a.DetectedAt,
	)
	return err
}

func (s *PostgresStore) CreateThreat(ctx context.Context, th *SecurityThreat) error {
	query := `
		INSERT INTO security_threats (threat_id, cluster_id, type, severity, description, metadata, mitigated, auto_heal_applied, action_taken, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	if th.DetectedAt.IsZero() {
		th.DetectedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, query,
		th.ThreatID, th.ClusterID, th.Type, th.Severity, th.Description,
		th.Metadata, th.Mitigated, th.AutoHealApplied, th.ActionTaken, th.DetectedAt,
	)
	return err
}

func (s *PostgresStore) ListOpenAnomalies(ctx context.Context, clusterID string, limit int) ([]*Anomaly, error) {
	query := `
		SELECT anomaly_id, cluster_id, type, severity, description, metadata, resolved, auto_heal_applied, action_taken, detected_at, resolved_at
		FROM anomalies WHERE cluster_id = $1 AND resolved = FALSE
		ORDER BY detected_at DESC LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, clusterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var anomalies []*Anomaly
	for rows.Next() {
		var a Anomaly
		if err := rows.Scan(
			&a.AnomalyID, &a.ClusterID, &a.Type, &a.Severity, &a.Description,
			&a.Metadata, &a.Resolved, &a.AutoHealApplied, &a.ActionTaken, &a.DetectedAt, &a.ResolvedAt,
		); err != nil {
			return nil, err
		}
		anomalies = append(anomalies, &a)
	}
	return anomalies, rows.Err()
}

func (s *PostgresStore) ListOpenThreats(ctx context.Context, clusterID string, limit int) ([]*SecurityThreat, error) {
	query := `
		SELECT threat_id, cluster_id, type, severity, description, metadata, mitigated, auto_heal_applied, action_taken, detected_at, mitigated_at
		FROM security_threats WHERE cluster_id = $1 AND mitigated = FALSE
		ORDER BY detected_at DESC LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, clusterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threats []*SecurityThreat
	for rows.Next() {
		var th SecurityThreat
		if err := rows.Scan(
			&th.ThreatID, &th.ClusterID, &th.Type, &th.Severity, &th.Description,
			&th.Metadata, &th.Mitigated, &th.AutoHealApplied, &th.ActionTaken, &th.DetectedAt, &th.MitigatedAt,
		); err != nil {
			return nil, err
		}
		threats = append(threats, &th)
	}
	return threats, rows.Err()
}

func (s *PostgresStore) GetAnomaly(ctx context.Context, anomalyID string) (*Anomaly, error) {
	query := `
		SELECT anomaly_id, cluster_id, type, severity, description, metadata, resolved, auto_heal_applied, action_taken, detected_at, resolved_at
		FROM anomalies WHERE anomaly_id = $1
	`
	var a Anomaly
	err := s.pool.QueryRow(ctx, query, anomalyID).Scan(
		&a.AnomalyID, &a.ClusterID, &a.Type, &a.Severity, &a.Description,
		&a.Metadata, &a.Resolved, &a.AutoHealApplied, &a.ActionTaken, &a.DetectedAt, &a.ResolvedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) GetThreat(ctx context.Context, threatID string) (*SecurityThreat, error) {
	query := `
		SELECT threat_id, cluster_id, type, severity, description, metadata, mitigated, auto_heal_applied, action_taken, detected_at, mitigated_at
		FROM security_threats WHERE threat_id = $1
	`
	var th SecurityThreat
	err := s.pool.QueryRow(ctx, query, threatID).Scan(
		&th.ThreatID, &th.ClusterID, &th.Type, &th.Severity, &th.Description,
		&th.Metadata, &th.Mitigated, &th.AutoHealApplied, &th.ActionTaken, &th.DetectedAt, &th.MitigatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &th, nil
}

// ApplyRemediation runs the command insert and the trigger-record flip in one
// transaction so a crash mid-sequence cannot leave a resolved anomaly with no
// queued command (or the reverse).
func (s *PostgresStore) ApplyRemediation(ctx context.Context, r *Remediation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	cmd := r.Command
	if cmd.Status == "" {
		cmd.Status = CommandPending
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO commands (command_id, cluster_id, type, params, status, source, result, delivery_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`, cmd.CommandID, cmd.ClusterID, cmd.Type, cmd.Params, cmd.Status, cmd.Source, cmd.Result, cmd.DeliveryCount)
	if err != nil {
		return err
	}

	var tag string
	switch r.TriggerType {
	case TriggerAnomaly:
		tag = `
			UPDATE anomalies SET resolved = TRUE, auto_heal_applied = TRUE, action_taken = $2, resolved_at = NOW()
			WHERE anomaly_id = $1
		`
	case TriggerThreat:
		tag = `
			UPDATE security_threats SET mitigated = TRUE, auto_heal_applied = TRUE, action_taken = $2, mitigated_at = NOW()
			WHERE threat_id = $1
		`
	default:
		return ErrNotFound
	}
	res, err := tx.Exec(ctx, tag, r.TriggerID, r.ActionTaken)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}

	return tx.Commit(ctx)
}

// --- Settings Operations ---

func (s *PostgresStore) GetAutoHealSettings(ctx context.Context, clusterID string) (*AutoHealSettings, error) {
	query := `
		SELECT cluster_id, enabled, severity_threshold, auto_apply_anomalies, auto_apply_threats, updated_at
		FROM auto_heal_settings WHERE cluster_id = $1
	`
	var set AutoHealSettings
	err := s.pool.QueryRow(ctx, query, clusterID).Scan(
		&set.ClusterID, &set.Enabled, &set.SeverityThreshold,
		&set.AutoApplyAnomaly, &set.AutoApplyThreat, &set.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &set, nil
}

func (s *PostgresStore) UpsertAutoHealSettings(ctx context.Context, set *AutoHealSettings) error {
	query := `
		INSERT INTO auto_heal_settings (cluster_id, enabled, severity_threshold, auto_apply_anomalies, auto_apply_threats, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (cluster_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			severity_threshold = EXCLUDED.severity_threshold,
			auto_apply_anomalies = EXCLUDED.auto_apply_anomalies,
			auto_apply_threats = EXCLUDED.auto_apply_threats,
			updated_at = NOW()
	`
	_, err := s.pool.Exec(ctx, query,
		set.ClusterID, set.Enabled, set.SeverityThreshold, set.AutoApplyAnomaly, set.AutoApplyThreat,
	)
	return err
}

// --- Action Log Operations ---

func (s *PostgresStore) CreateActionLog(ctx context.Context, l *AutoHealActionLog) error {
	query := `
		INSERT INTO auto_heal_action_logs (log_id, cluster_id, trigger_type, trigger_id, action, params, status, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`
	_, err := s.pool.Exec(ctx, query,
		l.LogID, l.ClusterID, l.TriggerType, l.TriggerID, l.Action, l.Params, l.Status, l.Error,
	)
	return err
}

func (s *PostgresStore) FinishActionLog(ctx context.Context, logID string, status string, errMsg string, finishedAt time.Time) error {
	query := `UPDATE auto_heal_action_logs SET status = $2, error = $3, finished_at = $4 WHERE log_id = $1`
	tag, err := s.pool.Exec(ctx, query, logID, status, errMsg, finishedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListActionLogs(ctx context.Context, clusterID string, limit int) ([]*AutoHealActionLog, error) {
	query := `
		SELECT log_id, cluster_id, trigger_type, trigger_id, action, params, status, error, created_at, finished_at
		FROM auto_heal_action_logs WHERE cluster_id = $1 ORDER BY created_at DESC LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, clusterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*AutoHealActionLog
	for rows.Next() {
		var l AutoHealActionLog
		if err := rows.Scan(
			&l.LogID, &l.ClusterID, &l.TriggerType, &l.TriggerID, &l.Action,
			&l.Params, &l.Status, &l.Error, &l.CreatedAt, &l.FinishedAt,
		); err != nil {
			return nil, err
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

// --- Version Catalog Operations ---

func (s *PostgresStore) GetLatestAgentVersion(ctx context.Context) (*AgentVersion, error) {
	query := `
		SELECT version, is_latest, release_type, is_required, release_notes, published_at
		FROM agent_versions WHERE is_latest = TRUE
	`
	var v AgentVersion
	err := s.pool.QueryRow(ctx, query).Scan(
		&v.Version, &v.IsLatest, &v.ReleaseType, &v.IsRequired, &v.ReleaseNotes, &v.PublishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// PublishAgentVersion runs the clear-then-set inside one transaction so two
// concurrent publishes can never both end up latest.
func (s *PostgresStore) PublishAgentVersion(ctx context.Context, v *AgentVersion) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE agent_versions SET is_latest = FALSE WHERE is_latest = TRUE`); err != nil {
		return err
	}

	v.IsLatest = true
	if v.PublishedAt.IsZero() {
		v.PublishedAt = time.Now()
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO agent_versions (version, is_latest, release_type, is_required, release_notes, published_at)
		VALUES ($1, TRUE, $2, $3, $4, $5)
		ON CONFLICT (version) DO UPDATE SET
			is_latest = TRUE,
			release_type = EXCLUDED.release_type,
			is_required = EXCLUDED.is_required,
			release_notes = EXCLUDED.release_notes,
			published_at = EXCLUDED.published_at
	`, v.Version, v.ReleaseType, v.IsRequired, v.ReleaseNotes, v.PublishedAt)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ListAgentVersions(ctx context.Context) ([]*AgentVersion, error) {
	query := `
		SELECT version, is_latest, release_type, is_required, release_notes, published_at
		FROM agent_versions ORDER BY published_at DESC
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []*AgentVersion
	for rows.Next() {
		var v AgentVersion
		if err := rows.Scan(
			&v.Version, &v.IsLatest, &v.ReleaseType, &v.IsRequired, &v.ReleaseNotes, &v.PublishedAt,
		); err != nil {
			return nil, err
		}
		versions = append(versions, &v)
	}
	return versions, rows.Err()
}
