package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore holds the in-memory state of clusters, keys, commands and
// remediation records. It implements the Store interface and is used for
// single-node operation and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	clusters  map[string]*Cluster
	keys      map[string]*AgentKey
	commands  map[string]*Command
	anomalies map[string]*Anomaly
	threats   map[string]*SecurityThreat
	settings  map[string]*AutoHealSettings
	logs      map[string]*AutoHealActionLog
	versions  map[string]*AgentVersion
}

// NewMemoryStore initializes a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clusters:  make(map[string]*Cluster),
		keys:      make(map[string]*AgentKey),
		commands:  make(map[string]*Command),
		anomalies: make(map[string]*Anomaly),
		threats:   make(map[string]*SecurityThreat),
		settings:  make(map[string]*AutoHealSettings),
		logs:      make(map[string]*AutoHealActionLog),
		versions:  make(map[string]*AgentVersion),
	}
}

// --- Cluster Operations ---

func (s *MemoryStore) UpsertCluster(ctx context.Context, c *Cluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.UpdatedAt = time.Now()
	cp := *c
	s.clusters[c.ClusterID] = &cp
	return nil
}

func (s *MemoryStore) GetCluster(ctx context.Context, clusterID string) (*Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clusters[clusterID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ListClusters(ctx context.Context) ([]*Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Cluster, 0, len(s.clusters))
	for _, c := range s.clusters {
		cp := *c
		result = append(result, &cp)
	}
	return result, nil
}

func (s *MemoryStore) TouchCluster(ctx context.Context, clusterID string, seenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clusters[clusterID]
	if !ok {
		return ErrNotFound
	}
	c.LastSeenAt = seenAt
	c.Status = "healthy"
	c.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) UpdateClusterVersion(ctx context.Context, clusterID string, version string, updateAvailable bool, updateNotes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clusters[clusterID]
	if !ok {
		return ErrNotFound
	}
	c.AgentVersion = version
	c.UpdateAvailable = updateAvailable
	c.UpdateNotes = updateNotes
	c.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) UpdateClusterStatus(ctx context.Context, clusterID string, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clusters[clusterID]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = time.Now()
	return nil
}

// --- Agent Key Operations ---

func (s *MemoryStore) CreateAgentKey(ctx context.Context, k *AgentKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now()
	}
	cp := *k
	s.keys[k.KeyID] = &cp
	return nil
}

func (s *MemoryStore) GetAgentKeyByHash(ctx context.Context, hash string) (*AgentKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.KeyHash != "" && k.KeyHash == hash {
			cp := *k
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) GetAgentKeyByPlaintext(ctx context.Context, raw string) (*AgentKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.KeyHash == "" && k.PlaintextKey != "" && k.PlaintextKey == raw {
			cp := *k
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) BackfillAgentKeyHash(ctx context.Context, keyID string, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[keyID]
	if !ok {
		return ErrNotFound
	}
	k.KeyHash = hash
	k.PlaintextKey = ""
	return nil
}

func (s *MemoryStore) TouchAgentKey(ctx context.Context, keyID string, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[keyID]
	if !ok {
		return ErrNotFound
	}
	t := usedAt
	k.LastUsedAt = &t
	return nil
}

// --- Command Queue Operations ---

func (s *MemoryStore) CreateCommand(ctx context.Context, cmd *Command) error {
	if err := cmd.ValidateParams(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = time.Now()
	}
	if cmd.Status == "" {
		cmd.Status = CommandPending
	}
	cp := *cmd
	s.commands[cmd.CommandID] = &cp
	return nil
}

// DeliverPendingCommands does the select and the flip to "sent" under one
// lock, so two racing polls for the same cluster cannot both see a command
// as pending.
func (s *MemoryStore) DeliverPendingCommands(ctx context.Context, clusterID string, now time.Time) ([]*Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var delivered []*Command
	for _, cmd := range s.commands {
		if cmd.ClusterID == clusterID && cmd.Status == CommandPending {
			cmd.Status = CommandSent
			t := now
			cmd.ExecutedAt = &t
			cmd.DeliveryCount++
			cp := *cmd
			delivered = append(delivered, &cp)
		}
	}
	// FIFO: oldest first
	sort.Slice(delivered, func(i, j int) bool {
		return delivered[i].CreatedAt.Before(delivered[j].CreatedAt)
	})
	return delivered, nil
}

func (s *MemoryStore) AckCommand(ctx context.Context, clusterID string, commandID string, status string, result string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd, ok := s.commands[commandID]
	if !ok {
		return ErrNotFound
	}
	if cmd.ClusterID != clusterID {
		return ErrForbidden
	}
	if cmd.Status == CommandCompleted || cmd.Status == CommandFailed {
		return ErrConflict
	}
	cmd.Status = status
	cmd.Result = result
	t := now
	cmd.CompletedAt = &t
	return nil
}

func (s *MemoryStore) GetCommand(ctx context.Context, commandID string) (*Command, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cmd, ok := s.commands[commandID]
	if !ok {
		return nil, nil
	}
	cp := *cmd
	return &cp, nil
}

func (s *MemoryStore) ListCommands(ctx context.Context, clusterID string, limit int) ([]*Command, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*Command
	for _, cmd := range s.commands {
		if cmd.ClusterID == clusterID {
			cp := *cmd
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) RequeueStaleCommands(ctx context.Context, cutoff time.Time, maxDeliveries int) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	requeued, expired := 0, 0
	for _, cmd := range s.commands {
		if cmd.Status != CommandSent || cmd.ExecutedAt == nil || !cmd.ExecutedAt.Before(cutoff) {
			continue
		}
		if cmd.DeliveryCount >= maxDeliveries {
			cmd.Status = CommandFailed
			cmd.Result = "delivery timeout"
			now := time.Now()
			cmd.CompletedAt = &now
			expired++
			continue
		}
		cmd.Status = CommandPending
		cmd.ExecutedAt = nil
		requeued++
	}
	return requeued, expired, nil
}

// --- Anomaly / Threat Operations ---

func (s *MemoryStore) CreateAnomaly(ctx context.Context, a *Anomaly) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.DetectedAt.IsZero() {
		a.DetectedAt = time.Now()
	}
	cp := *a
	s.anomalies[a.AnomalyID] = &cp
	return nil
}

func (s *MemoryStore) CreateThreat(ctx context.Context, th *SecurityThreat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if th.DetectedAt.IsZero() {
		th.DetectedAt = time.Now()
	}
	cp := *th
	s.threats[th.ThreatID] = &cp
	return nil
}

func (s *MemoryStore) ListOpenAnomalies(ctx context.Context, clusterID string, limit int) ([]*Anomaly, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*Anomaly
	for _, a := range s.anomalies {
		if a.ClusterID == clusterID && !a.Resolved {
			cp := *a
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DetectedAt.After(result[j].DetectedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) ListOpenThreats(ctx context.Context, clusterID string, limit int) ([]*SecurityThreat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*SecurityThreat
	for _, th := range s.threats {
		if th.ClusterID == clusterID && !th.Mitigated {
			cp := *th
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DetectedAt.After(result[j].DetectedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) GetAnomaly(ctx context.Context, anomalyID string) (*Anomaly, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.anomalies[anomalyID]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) GetThreat(ctx context.Context, threatID string) (*SecurityThreat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	th, ok := s.threats[threatID]
	if !ok {
		return nil, nil
	}
	cp := *th
	return &cp, nil
}

// ApplyRemediation performs the dependent writes of one auto-heal attempt
// under a single lock: enqueue the command and flip the trigger record.
func (s *MemoryStore) ApplyRemediation(ctx context.Context, r *Remediation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	switch r.TriggerType {
	case TriggerAnomaly:
		a, ok := s.anomalies[r.TriggerID]
		if !ok {
			return ErrNotFound
		}
		a.Resolved = true
		a.AutoHealApplied = true
		a.ActionTaken = r.ActionTaken
		a.ResolvedAt = &now
	case TriggerThreat:
		th, ok := s.threats[r.TriggerID]
		if !ok {
			return ErrNotFound
		}
		th.Mitigated = true
		th.AutoHealApplied = true
		th.ActionTaken = r.ActionTaken
		th.MitigatedAt = &now
	default:
		return ErrNotFound
	}

	cmd := r.Command
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = now
	}
	if cmd.Status == "" {
		cmd.Status = CommandPending
	}
	cp := *cmd
	s.commands[cmd.CommandID] = &cp
	return nil
}

// --- Settings Operations ---

func (s *MemoryStore) GetAutoHealSettings(ctx context.Context, clusterID string) (*AutoHealSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.settings[clusterID]
	if !ok {
		return nil, nil
	}
	cp := *set
	return &cp, nil
}

func (s *MemoryStore) UpsertAutoHealSettings(ctx context.Context, set *AutoHealSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set.UpdatedAt = time.Now()
	cp := *set
	s.settings[set.ClusterID] = &cp
	return nil
}

// --- Action Log Operations ---

func (s *MemoryStore) CreateActionLog(ctx context.Context, l *AutoHealActionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	cp := *l
	s.logs[l.LogID] = &cp
	return nil
}

func (s *MemoryStore) FinishActionLog(ctx context.Context, logID string, status string, errMsg string, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[logID]
	if !ok {
		return ErrNotFound
	}
	l.Status = status
	l.Error = errMsg
	t := finishedAt
	l.FinishedAt = &t
	return nil
}

func (s *MemoryStore) ListActionLogs(ctx context.Context, clusterID string, limit int) ([]*AutoHealActionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*AutoHealActionLog
	for _, l := range s.logs {
		if l.ClusterID == clusterID {
			cp := *l
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// --- Version Catalog Operations ---

func (s *MemoryStore) GetLatestAgentVersion(ctx context.Context) (*AgentVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.versions {
		if v.IsLatest {
			cp := *v
			return &cp, nil
		}
	}
	return nil, nil
}

// PublishAgentVersion clears every other latest flag before setting the new
// one, all under the same lock, so the single-latest invariant holds even
// under concurrent publishes.
func (s *MemoryStore) PublishAgentVersion(ctx context.Context, v *AgentVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.versions {
		existing.IsLatest = false
	}
	if v.PublishedAt.IsZero() {
		v.PublishedAt = time.Now()
	}
	v.IsLatest = true
	cp := *v
	s.versions[v.Version] = &cp
	return nil
}

func (s *MemoryStore) ListAgentVersions(ctx context.Context) ([]*AgentVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*AgentVersion, 0, len(s.versions))
	for _, v := range s.versions {
		cp := *v
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].PublishedAt.After(result[j].PublishedAt)
	})
	return result, nil
}
