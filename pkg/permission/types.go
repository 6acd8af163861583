package permission

import (
	"time"

	"github.com/steward-dev/steward/pkg/config"
)

// RiskLevel is a coarse classification of how dangerous an invocation
// is judged to be. The zero value doubles as the "none" auto-approve
// policy, which never approves anything.
type RiskLevel int

const (
	AutoApproveNone RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
)

// String returns the wire form of the level.
func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "none"
	}
}

// ParseRiskLevel maps the wire form back to a level. Unknown strings
// parse as AutoApproveNone, the safest policy.
func ParseRiskLevel(s string) RiskLevel {
	switch s {
	case "low":
		return RiskLow
	case "medium":
		return RiskMedium
	case "high":
		return RiskHigh
	default:
		return AutoApproveNone
	}
}

// Category groups risk reasons for the per-category approval
// requirements in the settings.
type Category string

const (
	CategoryFile    Category = "file"
	CategoryNetwork Category = "network"
	CategorySystem  Category = "system"
)

// Scope is how long a granted permission remains valid.
type Scope string

const (
	// ScopeOnce authorizes exactly one call and remembers nothing.
	ScopeOnce Scope = "once"

	// ScopeSession lives in the bounded in-memory session set until
	// cleared or evicted.
	ScopeSession Scope = "session"

	// ScopeAlways persists across calls until expiry and is the only
	// scope restored from the grant store.
	ScopeAlways Scope = "always"
)

// Decision is the stored answer of a grant.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// ToolRef names the operation being authorized. For resources and
// prompts the connection manager builds a synthetic ref so one
// classifier covers every operation kind.
type ToolRef struct {
	Name        string
	Description string
}

// Assessment is the classifier's verdict: the maximum triggered level
// and every human-readable reason that contributed.
type Assessment struct {
	Level      RiskLevel
	Reasons    []string
	Categories []Category
}

// HasCategory reports whether the assessment touched the category.
func (a Assessment) HasCategory(c Category) bool {
	for _, got := range a.Categories {
		if got == c {
			return true
		}
	}
	return false
}

// Grant is a stored tool permission keyed by (server, tool).
type Grant struct {
	Server   string    `json:"serverId"`
	Tool     string    `json:"toolName"`
	Decision Decision  `json:"permission"`
	Scope    Scope     `json:"scope"`
	Risk     RiskLevel `json:"-"`

	GrantedAt time.Time `json:"grantedAt"`
	// ExpiresAt is zero when the grant never expires.
	ExpiresAt time.Time `json:"expiresAt,omitzero"`

	// Argument fences derived from the authorizing call. Empty fences
	// fall back to ArgsHash exact matching.
	AllowedPaths   []string `json:"allowedPaths,omitempty"`
	AllowedDomains []string `json:"allowedDomains,omitempty"`
	ArgsHash       string   `json:"-"`

	UsageCount int       `json:"usageCount"`
	LastUsed   time.Time `json:"lastUsed,omitzero"`
}

// Expired reports whether the grant's expiry has passed at the given time.
func (g *Grant) Expired(now time.Time) bool {
	return !g.ExpiresAt.IsZero() && g.ExpiresAt.Before(now)
}

func (g *Grant) clone() *Grant {
	c := *g
	c.AllowedPaths = append([]string(nil), g.AllowedPaths...)
	c.AllowedDomains = append([]string(nil), g.AllowedDomains...)
	return &c
}

// PendingApproval describes an authorization waiting for a user
// decision. It is published on the event stream so a presentation
// layer can render a prompt.
type PendingApproval struct {
	ID          string         `json:"id"`
	Server      string         `json:"serverId"`
	Tool        string         `json:"toolName"`
	Args        map[string]any `json:"arguments"`
	Risk        RiskLevel      `json:"-"`
	RiskLabel   string         `json:"riskLevel"`
	RiskReasons []string       `json:"riskReasons"`
	RequestedAt time.Time      `json:"requestedAt"`
}

// Response answers a pending approval.
type Response struct {
	Approved bool   `json:"approved"`
	Scope    Scope  `json:"scope"`
	Reason   string `json:"reason,omitempty"`
}

// Stats summarizes the permission store.
type Stats struct {
	Total        int `json:"total"`
	Session      int `json:"session"`
	Expired      int `json:"expired"`
	ExpiringSoon int `json:"expiringSoon"`
}

// Settings is the process-wide authorization policy.
type Settings struct {
	AutoApproveLevel          RiskLevel
	RequestTimeout            time.Duration
	RequireApprovalForFile    bool
	RequireApprovalForNetwork bool
	RequireApprovalForSystem  bool
	// AlwaysPermissionDuration is the lifetime of an "always" grant;
	// zero means grants never expire.
	AlwaysPermissionDuration time.Duration
	EnableArgumentValidation bool
	MaxSessionPermissions    int
	NotifyBeforeExpiry       bool
	TrustedServers           []string
}

// SettingsFromConfig converts the YAML policy into engine settings.
func SettingsFromConfig(p config.PermissionConfig) Settings {
	return Settings{
		AutoApproveLevel:          ParseRiskLevel(p.AutoApproveLevel),
		RequestTimeout:            p.RequestTimeout(),
		RequireApprovalForFile:    p.RequireApprovalForFile,
		RequireApprovalForNetwork: p.RequireApprovalForNetwork,
		RequireApprovalForSystem:  p.RequireApprovalForSystem,
		AlwaysPermissionDuration:  p.AlwaysPermissionDuration(),
		EnableArgumentValidation:  p.EnableArgumentValidation,
		MaxSessionPermissions:     p.MaxSessionPermissions,
		NotifyBeforeExpiry:        p.NotifyBeforeExpiry,
		TrustedServers:            append([]string(nil), p.TrustedServers...),
	}
}

// SettingsUpdate merges into Settings; nil fields keep their value.
type SettingsUpdate struct {
	AutoApproveLevel          *RiskLevel
	RequestTimeout            *time.Duration
	RequireApprovalForFile    *bool
	RequireApprovalForNetwork *bool
	RequireApprovalForSystem  *bool
	AlwaysPermissionDuration  *time.Duration
	EnableArgumentValidation  *bool
	MaxSessionPermissions     *int
	NotifyBeforeExpiry        *bool
	TrustedServers            *[]string
}
