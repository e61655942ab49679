package onboard

import (
	"fmt"
	"strings"
)

const (
	// StepNewLibrary collects the library name.
	StepNewLibrary = "NewLibrary"
	// StepPrivacy collects the telemetry preference and is the terminal step.
	StepPrivacy = "Privacy"
)

// TelemetryOption is the privacy choice made during onboarding.
type TelemetryOption string

const (
	TelemetryShare   TelemetryOption = "share-telemetry"
	TelemetryMinimal TelemetryOption = "minimal-telemetry"
)

// Valid reports whether o is a known option.
func (o TelemetryOption) Valid() bool {
	return o == TelemetryShare || o == TelemetryMinimal
}

// Sharing reports whether full telemetry was chosen.
func (o TelemetryOption) Sharing() bool {
	return o == TelemetryShare
}

// NewLibraryValues is the typed payload of StepNewLibrary.
type NewLibraryValues struct {
	Name string `json:"name"`
}

// Validate rejects a blank name.
func (v NewLibraryValues) Validate() error {
	if strings.TrimSpace(v.Name) == "" {
		return fmt.Errorf("onboard: library name is blank")
	}
	return nil
}

// PrivacyValues is the typed payload of StepPrivacy.
type PrivacyValues struct {
	ShareTelemetry TelemetryOption `json:"shareTelemetry"`
}

// Validate implements hydrate post-decode checks.
func (p PrivacyValues) Validate() error {
	if !p.ShareTelemetry.Valid() {
		return fmt.Errorf("onboard: unknown telemetry option %q", p.ShareTelemetry)
	}
	return nil
}

// libraryDialect holds the library rules spelled for one engine. The blank
// helper comes from DefaultRuleFunctions and reads the same everywhere.
type libraryDialect struct {
	nameIsText     string
	trimName       string
	telemetryKnown string
}

var libraryDialects = map[RuleEngine]libraryDialect{
	EngineExpr: {
		nameIsText:     `type(name) == "string" && len(name) >= 1`,
		trimName:       `trim(name)`,
		telemetryKnown: fmt.Sprintf(`shareTelemetry in [%q, %q]`, TelemetryShare, TelemetryMinimal),
	},
	EngineCEL: {
		nameIsText:     `type(name) == string && size(name) >= 1`,
		trimName:       `name.trim()`,
		telemetryKnown: fmt.Sprintf(`shareTelemetry in [%q, %q]`, TelemetryShare, TelemetryMinimal),
	},
	EngineJS: {
		nameIsText:     `typeof name === "string" && name.length >= 1`,
		trimName:       `name.trim()`,
		telemetryKnown: fmt.Sprintf(`[%q, %q].indexOf(shareTelemetry) >= 0`, TelemetryShare, TelemetryMinimal),
	},
}

func dialectFor(engine RuleEngine) (libraryDialect, []RuleSchemaOption, error) {
	if engine == "" {
		engine = EngineExpr
	}
	dialect, ok := libraryDialects[engine]
	if !ok {
		return libraryDialect{}, nil, fmt.Errorf("onboard: unknown rule engine %q", engine)
	}
	evaluator, err := NewEvaluator(engine,
		WithProgramCache(NewProgramCache()),
		WithRuleFunctions(DefaultRuleFunctions()),
	)
	if err != nil {
		return libraryDialect{}, nil, err
	}
	return dialect, []RuleSchemaOption{WithEvaluator(evaluator)}, nil
}

func newLibrarySchema(dialect libraryDialect, opts []RuleSchemaOption) (*RuleSchema, error) {
	base := []RuleSchemaOption{
		WithFields("name"),
		WithRule("name", dialect.nameIsText, "Name is required"),
		WithRule("name", `!blank(name)`, "Name must contain a non-whitespace character"),
		WithTransform("name", dialect.trimName),
	}
	return NewRuleSchema(StepNewLibrary, append(base, opts...)...)
}

func privacySchema(dialect libraryDialect, opts []RuleSchemaOption) (*RuleSchema, error) {
	base := []RuleSchemaOption{
		WithFields("shareTelemetry"),
		WithRule("shareTelemetry", dialect.telemetryKnown, "Choose a telemetry option"),
	}
	return NewRuleSchema(StepPrivacy, append(base, opts...)...)
}

// NewLibrarySchema validates the library name: a non-empty string with at
// least one non-whitespace character, trimmed on success.
func NewLibrarySchema(opts ...RuleSchemaOption) (*RuleSchema, error) {
	return newLibrarySchema(libraryDialects[EngineExpr], opts)
}

// PrivacySchema validates the telemetry choice.
func PrivacySchema(opts ...RuleSchemaOption) (*RuleSchema, error) {
	return privacySchema(libraryDialects[EngineExpr], opts)
}

// LibrarySchemas returns the two-step library creation sequence.
func LibrarySchemas(opts ...RuleSchemaOption) (*Schemas, error) {
	return LibrarySchemasFor(EngineExpr, opts...)
}

// LibrarySchemasFor returns the library steps with rules written for engine.
// Both steps share one evaluator and program cache.
func LibrarySchemasFor(engine RuleEngine, opts ...RuleSchemaOption) (*Schemas, error) {
	dialect, base, err := dialectFor(engine)
	if err != nil {
		return nil, err
	}
	opts = append(base, opts...)
	newLibrary, err := newLibrarySchema(dialect, opts)
	if err != nil {
		return nil, err
	}
	privacy, err := privacySchema(dialect, opts)
	if err != nil {
		return nil, err
	}
	return NewSchemas(
		Step{Name: StepNewLibrary, Schema: newLibrary},
		Step{Name: StepPrivacy, Schema: privacy},
	)
}

// LibraryDefaults is the fallback resolver for the library steps. Privacy
// defaults to sharing telemetry.
func LibraryDefaults(step string, _ FlowState) map[string]any {
	switch step {
	case StepPrivacy:
		return map[string]any{"shareTelemetry": string(TelemetryShare)}
	case StepNewLibrary:
		return map[string]any{"name": ""}
	default:
		return map[string]any{}
	}
}
