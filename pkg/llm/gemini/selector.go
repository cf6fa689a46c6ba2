package gemini

import (
	"strings"

	"github.com/user/llmgate/pkg/llm"
)

// Candidate is one entry in the model preference list.
type Candidate struct {
	DisplayName string
	ModelID     string
}

// State enumerates the selector's lifecycle.
type State int

const (
	StateUnselected State = iota
	StateProbing
	StateSelected
	StateExhausted
)

// maxResets bounds how many times a selected model may be demoted
// within one adapter instance before the selector gives up.
const maxResets = 2

// Selector picks a working model id from an ordered preference list,
// excluding candidates that have already failed. Selection state lives
// for the lifetime of one adapter instance; constructing a new adapter
// resets it, so exclusions never leak across unrelated requests.
type Selector struct {
	candidates []Candidate
	excluded   map[string]bool
	tried      []string
	resets     int
	state      State
	current    Candidate
}

// NewSelector creates a selector over the preference-ordered candidate
// list (most capable first).
func NewSelector(candidates []Candidate) *Selector {
	return &Selector{
		candidates: candidates,
		excluded:   make(map[string]bool),
		state:      StateUnselected,
	}
}

// State returns the selector's current lifecycle state.
func (s *Selector) State() State { return s.state }

// Select returns the model to use. If none is selected it probes the
// preference list, skipping excluded candidates and, when available is
// non-nil, candidates the backend does not list. A nil available list
// means availability is unknown and every candidate may be probed.
func (s *Selector) Select(available []string) (Candidate, error) {
	switch s.state {
	case StateSelected:
		return s.current, nil
	case StateExhausted:
		return Candidate{}, s.exhaustedErr()
	}

	s.state = StateProbing
	for _, c := range s.candidates {
		if s.excluded[c.ModelID] {
			continue
		}
		if available != nil && !containsModel(available, c.ModelID) {
			s.noteTried(c.ModelID)
			continue
		}
		s.current = c
		s.state = StateSelected
		return c, nil
	}
	s.state = StateExhausted
	return Candidate{}, s.exhaustedErr()
}

// MarkUnavailable excludes the model id and re-enters probing, bounded
// at maxResets demotions per adapter instance. Once excluded, an id is
// never re-attempted by this selector.
func (s *Selector) MarkUnavailable(id string) error {
	if !s.excluded[id] {
		s.excluded[id] = true
		s.noteTried(id)
	}
	s.resets++
	if s.resets > maxResets {
		s.state = StateExhausted
		return s.exhaustedErr()
	}
	s.state = StateProbing
	s.current = Candidate{}
	return nil
}

func (s *Selector) noteTried(id string) {
	for _, t := range s.tried {
		if t == id {
			return
		}
	}
	s.tried = append(s.tried, id)
}

func (s *Selector) exhaustedErr() *llm.Error {
	tried := s.tried
	if len(tried) == 0 {
		for _, c := range s.candidates {
			tried = append(tried, c.ModelID)
		}
	}
	return llm.Errf(llm.KindModelUnavailable, providerName,
		"no usable model (tried %s)", strings.Join(tried, ", "))
}

func containsModel(models []string, id string) bool {
	for _, m := range models {
		if m == id {
			return true
		}
	}
	return false
}
