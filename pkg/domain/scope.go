package domain

import dErrors "cirvia/pkg/domain-errors"

// ScopeType names the kind of context a visibility setting applies to.
type ScopeType string

const (
	ScopeGlobalDefault ScopeType = "GLOBAL_DEFAULT"
	ScopeCirvia        ScopeType = "CIRVIA"
	ScopeChat          ScopeType = "CHAT"
	ScopeEvent         ScopeType = "EVENT"
)

var validScopeTypes = map[ScopeType]bool{
	ScopeGlobalDefault: true,
	ScopeCirvia:        true,
	ScopeChat:          true,
	ScopeEvent:         true,
}

// ParseScopeType constructs a ScopeType from external input.
func ParseScopeType(s string) (ScopeType, error) {
	t := ScopeType(s)
	if !t.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid scope type")
	}
	return t, nil
}

func (t ScopeType) IsValid() bool { return validScopeTypes[t] }

func (t ScopeType) String() string { return string(t) }

// ScopeRef identifies one scope as a first-class value so composite lookups
// never go through string concatenation. RefID is empty for GLOBAL_DEFAULT and
// required for every other type.
type ScopeRef struct {
	Type  ScopeType
	RefID string
}

// GlobalScope is the scope every user falls back to.
func GlobalScope() ScopeRef {
	return ScopeRef{Type: ScopeGlobalDefault}
}

// CirviaScope references a community context.
func CirviaScope(id CirviaID) ScopeRef {
	return ScopeRef{Type: ScopeCirvia, RefID: id.String()}
}

// ChatScope references a chat context.
func ChatScope(id ChatID) ScopeRef {
	return ScopeRef{Type: ScopeChat, RefID: id.String()}
}

// Validate enforces the type/ref pairing invariant.
func (r ScopeRef) Validate() error {
	if !r.Type.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid scope type")
	}
	if r.Type == ScopeGlobalDefault && r.RefID != "" {
		return dErrors.New(dErrors.CodeInvalidInput, "global default scope cannot carry a scope id")
	}
	if r.Type != ScopeGlobalDefault && r.RefID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "scope id is required for non-global scopes")
	}
	return nil
}

// IsGlobal reports whether this is the global default scope.
func (r ScopeRef) IsGlobal() bool { return r.Type == ScopeGlobalDefault }
