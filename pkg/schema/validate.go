package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidationError represents a single validation error with location context.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`  // JSON-path-like location (e.g., "steps[0].tool_id")
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Phase, e.Path, e.Message)
}

// ValidateChainFile performs the full 3-phase validation pipeline on a
// chain definition file.
// Phase 1: Structural (strict YAML decode)
// Phase 2: Semantic (JSON Schema validation)
// Phase 3: Domain (custom Go rules)
func ValidateChainFile(path string) (*Chain, []*ValidationError) {
	c, err := LoadChainFile(path)
	if err != nil {
		return nil, []*ValidationError{{
			Phase:    "structural",
			Message:  err.Error(),
			Severity: "error",
		}}
	}
	return c, ValidateChain(c)
}

// ValidateChain runs the semantic and domain phases on a decoded chain.
func ValidateChain(c *Chain) []*ValidationError {
	var allErrors []*ValidationError
	allErrors = append(allErrors, validateSemantic(c)...)
	allErrors = append(allErrors, validateDomain(c)...)
	return allErrors
}

// validateSemantic validates the chain against the generated JSON Schema.
func validateSemantic(c *Chain) []*ValidationError {
	data, err := json.Marshal(c)
	if err != nil {
		return []*ValidationError{semanticError(fmt.Sprintf("marshal for schema validation: %v", err))}
	}

	schemaJSON, err := GenerateChainJSONSchema()
	if err != nil {
		return []*ValidationError{semanticError(fmt.Sprintf("generate schema: %v", err))}
	}

	var schemaDoc interface{}
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return []*ValidationError{semanticError(fmt.Sprintf("unmarshal schema: %v", err))}
	}

	comp := sjsonschema.NewCompiler()
	if err := comp.AddResource("chain-v0.json", schemaDoc); err != nil {
		return []*ValidationError{semanticError(fmt.Sprintf("add schema resource: %v", err))}
	}
	sch, err := comp.Compile("chain-v0.json")
	if err != nil {
		return []*ValidationError{semanticError(fmt.Sprintf("compile schema: %v", err))}
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return []*ValidationError{semanticError(fmt.Sprintf("unmarshal document: %v", err))}
	}

	if err := sch.Validate(doc); err != nil {
		return []*ValidationError{semanticError(err.Error())}
	}
	return nil
}

// validateDomain applies chain-specific rules the schema cannot express.
// Registry membership of step tool_ids is checked by the engine at
// definition time, not here — this phase is registry-independent.
func validateDomain(c *Chain) []*ValidationError {
	var errs []*ValidationError

	if strings.TrimSpace(c.ChainID) == "" {
		errs = append(errs, domainError("chain_id", "chain_id must be non-empty"))
	}
	if len(c.Steps) == 0 {
		errs = append(errs, domainError("steps", "chain must have at least one step"))
	}
	for i, step := range c.Steps {
		if strings.TrimSpace(step.ToolID) == "" {
			errs = append(errs, domainError(
				fmt.Sprintf("steps[%d].tool_id", i),
				"step tool_id must be non-empty"))
		}
	}
	return errs
}

func semanticError(msg string) *ValidationError {
	return &ValidationError{Phase: "semantic", Message: msg, Severity: "error"}
}

func domainError(path, msg string) *ValidationError {
	return &ValidationError{Phase: "domain", Path: path, Message: msg, Severity: "error"}
}
