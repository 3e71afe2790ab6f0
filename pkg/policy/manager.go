package policy

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/datalodge/record-archiver/pkg/compression"
	"github.com/datalodge/record-archiver/pkg/storage"
)

// WildcardProvider matches every provider scope.
const WildcardProvider = "*"

// Policy groups archival rules under a provider scope. An empty
// EndpointPattern matches every endpoint; otherwise it is a regular
// expression compiled once when the policy enters the catalog.
type Policy struct {
	ID              string    `json:"id" yaml:"id"`
	Name            string    `json:"name" yaml:"name"`
	Provider        string    `json:"provider" yaml:"provider"`
	EndpointPattern string    `json:"endpoint_pattern,omitempty" yaml:"endpoint_pattern,omitempty"`
	Rules           []Rule    `json:"rules" yaml:"rules"`
	Enabled         bool      `json:"enabled" yaml:"enabled"`
	CreatedAt       time.Time `json:"created_at" yaml:"-"`
	UpdatedAt       time.Time `json:"updated_at" yaml:"-"`

	re *regexp.Regexp
}

func (p *Policy) compile() error {
	if p.EndpointPattern == "" {
		p.re = nil
		return nil
	}
	re, err := regexp.Compile(p.EndpointPattern)
	if err != nil {
		return fmt.Errorf("policy %s: bad endpoint pattern: %w", p.ID, err)
	}
	p.re = re
	return nil
}

func (p *Policy) matches(provider, endpoint string) bool {
	if !p.Enabled {
		return false
	}
	if p.Provider != WildcardProvider && p.Provider != provider {
		return false
	}
	if p.re != nil && !p.re.MatchString(endpoint) {
		return false
	}
	return true
}

// Manager owns the in-memory policy catalog. All policies live in memory
// and are rebuilt at startup from a fixed catalog or explicit calls.
type Manager struct {
	mu       sync.RWMutex
	policies []*Policy

	logger *zap.Logger
	now    func() time.Time
}

// Option provides mechanism to configure Manager.
type Option func(m *Manager) error

// WithLogger sets the logger for Manager.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) error {
		m.logger = logger
		return nil
	}
}

// WithClock overrides the time source, used by rule-evaluation tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) error {
		m.now = now
		return nil
	}
}

// WithCatalog seeds the manager with an initial policy catalog.
func WithCatalog(policies []*Policy) Option {
	return func(m *Manager) error {
		for _, p := range policies {
			if err := m.AddPolicy(p); err != nil {
				return err
			}
		}
		return nil
	}
}

// NewManager creates a Manager with given options.
func NewManager(opts ...Option) (*Manager, error) {
	m := &Manager{now: time.Now}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	if m.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		m.logger = l
	}
	return m, nil
}

// AddPolicy validates, compiles and appends a policy to the catalog.
func (m *Manager) AddPolicy(p *Policy) error {
	if p.ID == "" {
		return fmt.Errorf("policy without id")
	}
	for _, r := range p.Rules {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	if err := p.compile(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.policies {
		if existing.ID == p.ID {
			return fmt.Errorf("policy %s already exists", p.ID)
		}
	}
	now := m.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	m.policies = append(m.policies, p)
	m.logger.Debug("policy added", zap.String("policy_id", p.ID), zap.Int("rules", len(p.Rules)))
	return nil
}

// UpdatePolicy replaces the policy with the same ID and re-stamps UpdatedAt.
func (m *Manager) UpdatePolicy(p *Policy) error {
	for _, r := range p.Rules {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	if err := p.compile(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.policies {
		if existing.ID == p.ID {
			p.CreatedAt = existing.CreatedAt
			p.UpdatedAt = m.now()
			m.policies[i] = p
			return nil
		}
	}
	return fmt.Errorf("policy %s not found", p.ID)
}

// RemovePolicy removes a policy from the catalog. Removing an absent ID is
// a logged no-op; in-flight tasks holding the policy's rules are unaffected.
func (m *Manager) RemovePolicy(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.policies {
		if existing.ID == id {
			m.policies = append(m.policies[:i], m.policies[i+1:]...)
			return
		}
	}
	m.logger.Info("remove of unknown policy ignored", zap.String("policy_id", id))
}

// GetPolicy returns the policy with the given ID.
func (m *Manager) GetPolicy(id string) (*Policy, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.policies {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// Policies returns the catalog in insertion order.
func (m *Manager) Policies() []*Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Policy, len(m.policies))
	copy(out, m.policies)
	return out
}

// RulesFor pools the rules of every enabled policy matching the provider
// and endpoint, sorted by descending priority. Ties keep catalog order.
func (m *Manager) RulesFor(provider, endpoint string) []Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var rules []Rule
	for _, p := range m.policies {
		if p.matches(provider, endpoint) {
			rules = append(rules, p.Rules...)
		}
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})
	return rules
}

// Evaluate reports whether the rule's trigger condition currently holds for
// the candidate metadata. Disabled rules and missing metadata fields always
// evaluate false.
func (m *Manager) Evaluate(rule Rule, meta Metadata) bool {
	if !rule.Enabled {
		return false
	}
	now := m.now()
	switch rule.Trigger {
	case TriggerAgeBased:
		if meta.CreatedAt.IsZero() {
			return false
		}
		ageDays := int(now.Sub(meta.CreatedAt).Hours() / 24)
		return ageDays >= rule.Condition.MaxAgeDays
	case TriggerSizeBased:
		if meta.DataSizeBytes <= 0 {
			return false
		}
		sizeMB := float64(meta.DataSizeBytes) / (1024 * 1024)
		return sizeMB >= rule.Condition.MaxSizeMB
	case TriggerUsageBased:
		if meta.LastAccessed == nil || meta.LastAccessed.IsZero() {
			return false
		}
		unusedDays := int(now.Sub(*meta.LastAccessed).Hours() / 24)
		return unusedDays >= rule.Condition.MaxUnusedDays
	case TriggerManual:
		return meta.ManualArchiveRequested
	}
	return false
}

// Stats is a read-only aggregation over the catalog.
type Stats struct {
	TotalPolicies   int                 `json:"total_policies"`
	EnabledPolicies int                 `json:"enabled_policies"`
	TotalRules      int                 `json:"total_rules"`
	EnabledRules    int                 `json:"enabled_rules"`
	ByProvider      map[string]int      `json:"by_provider"`
	RulesByTrigger  map[TriggerType]int `json:"rules_by_trigger"`
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{
		ByProvider:     map[string]int{},
		RulesByTrigger: map[TriggerType]int{},
	}
	for _, p := range m.policies {
		s.TotalPolicies++
		if p.Enabled {
			s.EnabledPolicies++
		}
		s.ByProvider[p.Provider]++
		for _, r := range p.Rules {
			s.TotalRules++
			if r.Enabled {
				s.EnabledRules++
			}
			s.RulesByTrigger[r.Trigger]++
		}
	}
	return s
}

// DefaultCatalog is the fixed catalog installed at startup when no catalog
// file is configured.
func DefaultCatalog() []*Policy {
	return []*Policy{
		{
			ID:       "default-aging",
			Name:     "Archive aging responses",
			Provider: WildcardProvider,
			Enabled:  true,
			Rules: []Rule{
				{
					ID:            "age-90d",
					Name:          "Archive responses older than 90 days",
					Trigger:       TriggerAgeBased,
					Condition:     Condition{MaxAgeDays: 90},
					Target:        storage.LocationLocalDisk,
					Compression:   compression.TypeGzip,
					RetentionDays: 365,
					Enabled:       true,
					Priority:      10,
				},
				{
					ID:            "stale-180d",
					Name:          "Archive responses unused for 180 days",
					Trigger:       TriggerUsageBased,
					Condition:     Condition{MaxUnusedDays: 180},
					Target:        storage.LocationLocalDisk,
					Compression:   compression.TypeGzip,
					RetentionDays: 365,
					Enabled:       true,
					Priority:      5,
				},
			},
		},
		{
			ID:       "default-oversized",
			Name:     "Archive oversized responses",
			Provider: WildcardProvider,
			Enabled:  true,
			Rules: []Rule{
				{
					ID:            "size-50mb",
					Name:          "Archive responses larger than 50 MB",
					Trigger:       TriggerSizeBased,
					Condition:     Condition{MaxSizeMB: 50},
					Target:        storage.LocationLocalDisk,
					Compression:   compression.TypeXz,
					RetentionDays: 180,
					Enabled:       true,
					Priority:      20,
				},
			},
		},
	}
}

// LoadCatalog reads a policy catalog from a YAML file.
func LoadCatalog(path string) ([]*Policy, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Policies []*Policy `yaml:"policies"`
	}
	if err := yaml.Unmarshal(buf, &doc); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return doc.Policies, nil
}
