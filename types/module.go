package types

// Tier buckets a module for the tiered catalog view.
type Tier string

const (
	TierFeatured Tier = "featured"
	TierStandard Tier = "standard"
	TierToolkit  Tier = "toolkit"
	TierInternal Tier = "internal"
)

// Stability communicates a module's API maturity.
type Stability string

const (
	StabilityStable       Stability = "stable"
	StabilityBeta         Stability = "beta"
	StabilityAlpha        Stability = "alpha"
	StabilityExperimental Stability = "experimental"
	StabilityDeprecated   Stability = "deprecated"
)

// Capability is one entry from the fixed capability vocabulary.
type Capability string

const (
	CapNetworkPublic     Capability = "network.public"
	CapNetworkPrivate    Capability = "network.private"
	CapFilesystemRead    Capability = "filesystem.read"
	CapFilesystemWrite   Capability = "filesystem.write"
	CapShellExec         Capability = "shell.exec"
	CapCredentialsAccess Capability = "credentials.access"
	CapPIIAccess         Capability = "pii.access"
	CapBrowserControl    Capability = "browser.control"
)

var knownCapabilities = map[Capability]bool{
	CapNetworkPublic: true, CapNetworkPrivate: true, CapFilesystemRead: true,
	CapFilesystemWrite: true, CapShellExec: true, CapCredentialsAccess: true,
	CapPIIAccess: true, CapBrowserControl: true,
}

// IsKnownCapability reports membership in the fixed capability vocabulary.
func IsKnownCapability(c Capability) bool { return knownCapabilities[c] }

// ParamSpec describes one entry of a module's params_schema.
type ParamSpec struct {
	Type        DataType     `json:"type" yaml:"type"`
	Required    bool         `json:"required,omitempty" yaml:"required,omitempty"`
	Default     interface{}  `json:"default,omitempty" yaml:"default,omitempty"`
	Constraints *Constraints `json:"constraints,omitempty" yaml:"constraints,omitempty"`
	Multiline   bool         `json:"multiline,omitempty" yaml:"multiline,omitempty"`
	Options     []string     `json:"options,omitempty" yaml:"options,omitempty"`
	Aliases     []string     `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

// OutputSpec describes one entry of a module's output_schema.
type OutputSpec struct {
	Type            DataType `json:"type" yaml:"type"`
	Description     string   `json:"description,omitempty" yaml:"description,omitempty"`
	DescriptionKey  string   `json:"description_key,omitempty" yaml:"description_key,omitempty"`
}

// Example is one entry of a module's documented usage examples.
type Example struct {
	ID       string                 `json:"id" yaml:"id"`
	Title    string                 `json:"title" yaml:"title"`
	Params   map[string]interface{} `json:"params" yaml:"params"`
	Expected interface{}            `json:"expected,omitempty" yaml:"expected,omitempty"`
}

// ModuleMetadata is a module registry entry.
type ModuleMetadata struct {
	// Identity
	ModuleID    string `json:"module_id" validate:"required"`
	Version     string `json:"version" validate:"required,semver"`
	SpecVersion string `json:"spec_version,omitempty"`

	// Classification
	Category  string    `json:"category"`
	Namespace string    `json:"namespace"`
	Tags      []string  `json:"tags,omitempty"`
	Tier      Tier      `json:"tier" validate:"required,oneof=featured standard toolkit internal"`
	Stability Stability `json:"stability" validate:"required,oneof=stable beta alpha experimental deprecated"`

	// UI
	Label           string `json:"label"`
	Description     string `json:"description"`
	LabelKey        string `json:"label_key,omitempty"`
	DescriptionKey  string `json:"description_key,omitempty"`
	Icon            string `json:"icon,omitempty"`
	Color           string `json:"color,omitempty"`

	// Contract
	ParamsSchema   map[string]ParamSpec  `json:"params_schema,omitempty"`
	OutputSchema   map[string]OutputSpec `json:"output_schema,omitempty"`
	InputTypes     []DataType            `json:"input_types,omitempty"`
	OutputTypes    []DataType            `json:"output_types,omitempty"`
	CanReceiveFrom []string              `json:"can_receive_from,omitempty"`
	CanConnectTo   []string              `json:"can_connect_to,omitempty"`
	CanBeStart     *bool                 `json:"can_be_start,omitempty"`

	// Execution contract
	TimeoutMS      int      `json:"timeout_ms,omitempty"`
	Retryable      bool     `json:"retryable,omitempty"`
	MaxRetries     int      `json:"max_retries,omitempty"`
	ConcurrentSafe bool     `json:"concurrent_safe,omitempty"`
	Deterministic  bool     `json:"deterministic,omitempty"`
	Replayable     bool     `json:"replayable,omitempty"`
	SideEffects    []string `json:"side_effects,omitempty"`

	// Security
	RequiresCredentials bool         `json:"requires_credentials,omitempty"`
	HandlesSensitiveData bool        `json:"handles_sensitive_data,omitempty"`
	RequiredPermissions []string     `json:"required_permissions,omitempty"`
	Capabilities        []Capability `json:"capabilities,omitempty"`

	// Context protocol
	RequiresContext []string `json:"requires_context,omitempty"`
	ProvidesContext []string `json:"provides_context,omitempty"`

	Examples []Example `json:"examples,omitempty"`
}

// IsStartCandidate infers can_be_start when the metadata does not declare it
// explicitly: a module with no declared input types, or only `any`, can
// start a graph.
func (m *ModuleMetadata) IsStartCandidate() bool {
	if m.CanBeStart != nil {
		return *m.CanBeStart
	}
	if len(m.InputTypes) == 0 {
		return true
	}
	if len(m.InputTypes) == 1 && m.InputTypes[0] == TypeAny {
		return true
	}
	return false
}

// IsBuiltin reports whether this module id belongs to the in-process
// `flow.*` builtin family.
func IsBuiltin(moduleID string) bool {
	return len(moduleID) > 5 && moduleID[:5] == "flow."
}
