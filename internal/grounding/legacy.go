package grounding

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"warden/internal/envelope"
	"warden/internal/logging"
)

// =============================================================================
// LEGACY GROUNDING SHIM (ablation mode only)
// =============================================================================
// Everything below is the pre-authority local grounding heuristic, preserved
// behind the legacy_grounding configuration switch for A/B ablation runs.
// It grounds text with a small datalog policy instead of asking the reducer.
// The normal decision path never reaches this code: Ground() rejects the
// LocalResult shape outright unless an Adapter was built with legacy enabled.

// LocalResult is the legacy grounding shape. It carries no authority
// provenance, which is exactly why the default adapter refuses it.
type LocalResult struct {
	Pass   bool
	Reason string
}

// defaultLegacyPolicy is the historical token heuristic expressed as a
// Mangle policy: a candidate passes when it contains a known goal verb and
// no blocked token.
const defaultLegacyPolicy = `
Decl candidate_token(Tok).

goal_verb("mine").
goal_verb("craft").
goal_verb("smelt").
goal_verb("collect").
goal_verb("gather").
goal_verb("build").
goal_verb("explore").
goal_verb("fish").
goal_verb("farm").
goal_verb("plant").

blocked_token("grief").
blocked_token("destroy").
blocked_token("attack").
blocked_token("kill").
blocked_token("burn").
blocked_token("flood").

legacy_goal(Tok) :- candidate_token(Tok), goal_verb(Tok).
legacy_blocked(Tok) :- candidate_token(Tok), blocked_token(Tok).
`

// Shim evaluates the legacy policy. Safe for concurrent use; each call
// evaluates against a fresh fact store.
type Shim struct {
	mu          sync.Mutex
	programInfo *analysis.ProgramInfo
	predIndex   map[string]ast.PredicateSym
}

// NewShim compiles a Mangle policy source. Pass "" for the historical
// default policy.
func NewShim(policy string) (*Shim, error) {
	if policy == "" {
		policy = defaultLegacyPolicy
	}

	unit, err := parse.Unit(strings.NewReader(policy))
	if err != nil {
		return nil, fmt.Errorf("parse legacy policy: %w", err)
	}

	programInfo, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, fmt.Errorf("analyze legacy policy: %w", err)
	}

	predIndex := make(map[string]ast.PredicateSym, len(programInfo.Decls))
	for sym := range programInfo.Decls {
		predIndex[sym.Symbol] = sym
	}

	return &Shim{programInfo: programInfo, predIndex: predIndex}, nil
}

// Ground evaluates the policy over the envelope's token set. Total: policy
// evaluation errors fail closed with a reason, never panic or propagate.
func (s *Shim) Ground(env envelope.Envelope) LocalResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	store := factstore.NewSimpleInMemoryStore()

	tokenSym, ok := s.predIndex["candidate_token"]
	if !ok {
		return LocalResult{Pass: false, Reason: "legacy: policy missing candidate_token"}
	}
	for _, tok := range tokenize(env.Text) {
		store.Add(ast.Atom{Predicate: tokenSym, Args: []ast.BaseTerm{ast.String(tok)}})
	}

	if err := mengine.EvalProgram(s.programInfo, store); err != nil {
		logging.Grounding("legacy policy evaluation failed for %s: %v", env.ID, err)
		return LocalResult{Pass: false, Reason: "legacy: policy evaluation failed"}
	}

	if tok, found := s.firstFact(store, "legacy_blocked"); found {
		return LocalResult{Pass: false, Reason: fmt.Sprintf("legacy: blocked token %q", tok)}
	}
	if tok, found := s.firstFact(store, "legacy_goal"); found {
		return LocalResult{Pass: true, Reason: fmt.Sprintf("legacy: goal verb %q", tok)}
	}
	return LocalResult{Pass: false, Reason: "legacy: no recognizable goal verb"}
}

// firstFact returns the first string argument of any derived fact for the
// given predicate.
func (s *Shim) firstFact(store factstore.FactStore, predicate string) (string, bool) {
	sym, ok := s.predIndex[predicate]
	if !ok {
		return "", false
	}
	var value string
	var found bool
	_ = store.GetFacts(ast.NewQuery(sym), func(atom ast.Atom) error {
		if !found && len(atom.Args) > 0 {
			if c, ok := atom.Args[0].(ast.Constant); ok && c.Type == ast.StringType {
				value = c.Symbol
				found = true
			}
		}
		return nil
	})
	return value, found
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	seen := make(map[string]bool, len(fields))
	var out []string
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// Adapter binds the relay to an optional legacy shim. The legacy path is a
// single configuration switch, not scattered conditionals: callers hold one
// Adapter and never test the flag themselves.
type Adapter struct {
	shim          *Shim
	legacyEnabled bool
}

// NewAdapter creates an authority-only adapter.
func NewAdapter() *Adapter {
	return &Adapter{}
}

// NewLegacyAdapter creates an adapter that additionally accepts LocalResult
// shapes produced by its own shim. policy == "" selects the default policy.
func NewLegacyAdapter(policy string) (*Adapter, error) {
	shim, err := NewShim(policy)
	if err != nil {
		return nil, err
	}
	return &Adapter{shim: shim, legacyEnabled: true}, nil
}

// LegacyEnabled reports whether the ablation switch is on.
func (a *Adapter) LegacyEnabled() bool { return a.legacyEnabled }

// Ground relays an outcome. LocalResult shapes are accepted only when the
// adapter was built in legacy mode; otherwise they are rejected the same as
// any other non-authority shape.
func (a *Adapter) Ground(v any) View {
	switch r := v.(type) {
	case LocalResult:
		return a.groundLocal(r)
	case *LocalResult:
		if r == nil {
			return View{Pass: false, Reason: ReasonAuthorityRequired}
		}
		return a.groundLocal(*r)
	default:
		return Ground(v)
	}
}

// GroundLocal runs the legacy shim directly over an envelope. Fails closed
// when legacy mode is off.
func (a *Adapter) GroundLocal(env envelope.Envelope) View {
	if !a.legacyEnabled || a.shim == nil {
		return View{Pass: false, Reason: ReasonAuthorityRequired}
	}
	return a.groundLocal(a.shim.Ground(env))
}

func (a *Adapter) groundLocal(r LocalResult) View {
	if !a.legacyEnabled {
		logging.Grounding("rejecting legacy grounding result (legacy mode off)")
		return View{Pass: false, Reason: ReasonAuthorityRequired}
	}
	return View{Pass: r.Pass, Reason: r.Reason}
}
