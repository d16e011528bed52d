package config

import (
	"bytes"
	"fmt"
	"strings"
)

// Sections is an ordered list of top-level sections.
type Sections []*Section

// Section is a named top-level config block (e.g. "core", "remote"),
// carrying its own options plus any named subsections ("remote \"origin\"").
type Section struct {
	Name        string
	Options     Options
	Subsections Subsections
}

// Subsections is an ordered list of named subsections within one Section.
type Subsections []*Subsection

// Subsection is a named block within a Section, e.g. the "origin" in
// [remote "origin"]. Unlike Section names, subsection names are matched
// case-sensitively, the way git itself treats them.
type Subsection struct {
	Name    string
	Options Options
}

func (s *Section) GoString() string {
	return fmt.Sprintf("&config.Section{Name:%q, Options:%s, Subsections:%s}",
		s.Name, s.Options.GoString(), s.Subsections.GoString())
}

func (secs Sections) GoString() string {
	var buf bytes.Buffer
	for i, s := range secs {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(s.GoString())
	}
	return buf.String()
}

func (s *Subsection) GoString() string {
	return fmt.Sprintf("&config.Subsection{Name:%q, Options:%s}", s.Name, s.Options.GoString())
}

func (subs Subsections) GoString() string {
	var buf bytes.Buffer
	for i, s := range subs {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(s.GoString())
	}
	return buf.String()
}

// IsName reports whether s's name matches name case-insensitively, the way
// git treats section names.
func (s *Section) IsName(name string) bool {
	return strings.EqualFold(s.Name, name)
}

// IsName reports whether sub's name matches name case-sensitively, the way
// git treats subsection names.
func (sub *Subsection) IsName(name string) bool {
	return sub.Name == name
}

// Subsection returns the named subsection, creating and appending an empty
// one if it doesn't already exist.
func (s *Section) Subsection(name string) *Subsection {
	for _, sub := range s.Subsections {
		if sub.IsName(name) {
			return sub
		}
	}
	sub := &Subsection{Name: name}
	s.Subsections = append(s.Subsections, sub)
	return sub
}

// HasSubsection reports whether s has a subsection with the given name.
func (s *Section) HasSubsection(name string) bool {
	for _, sub := range s.Subsections {
		if sub.IsName(name) {
			return true
		}
	}
	return false
}

// RemoveSubsection removes the named subsection, if present, and returns s
// for chaining.
func (s *Section) RemoveSubsection(name string) *Section {
	result := make(Subsections, 0, len(s.Subsections))
	for _, sub := range s.Subsections {
		if !sub.IsName(name) {
			result = append(result, sub)
		}
	}
	s.Subsections = result
	return s
}

// Option returns the last value recorded under key, or "" if none.
func (s *Section) Option(key string) string {
	vals := s.Options.GetAll(key)
	if len(vals) == 0 {
		return ""
	}
	return vals[len(vals)-1]
}

// OptionAll returns every value recorded under key, in declaration order.
func (s *Section) OptionAll(key string) []string {
	return s.Options.GetAll(key)
}

// HasOption reports whether s has any option under key.
func (s *Section) HasOption(key string) bool {
	return s.Options.Has(key)
}

// AddOption appends a new key/value pair, leaving any existing occurrences
// of key alone - git config's own "add another line" semantics.
func (s *Section) AddOption(key, value string) *Section {
	s.Options = append(s.Options, &Option{Key: key, Value: value})
	return s
}

// SetOption replaces every existing occurrence of key with a single
// key/value pair appended at the end.
func (s *Section) SetOption(key, value string) *Section {
	s.RemoveOption(key)
	return s.AddOption(key, value)
}

// RemoveOption removes every occurrence of key and returns s for chaining.
func (s *Section) RemoveOption(key string) *Section {
	result := make(Options, 0, len(s.Options))
	for _, o := range s.Options {
		if !o.IsKey(key) {
			result = append(result, o)
		}
	}
	s.Options = result
	return s
}

// Option returns the last value recorded under key, or "" if none.
func (sub *Subsection) Option(key string) string {
	vals := sub.Options.GetAll(key)
	if len(vals) == 0 {
		return ""
	}
	return vals[len(vals)-1]
}

// OptionAll returns every value recorded under key, in declaration order.
func (sub *Subsection) OptionAll(key string) []string {
	return sub.Options.GetAll(key)
}

// HasOption reports whether sub has any option under key.
func (sub *Subsection) HasOption(key string) bool {
	return sub.Options.Has(key)
}

// AddOption appends a new key/value pair.
func (sub *Subsection) AddOption(key, value string) *Subsection {
	sub.Options = append(sub.Options, &Option{Key: key, Value: value})
	return sub
}

// SetOption replaces every existing occurrence of key with the given
// values, each appended as its own key/value pair at the end. Calling it
// with no values removes key entirely.
func (sub *Subsection) SetOption(key string, values ...string) *Subsection {
	sub.RemoveOption(key)
	for _, v := range values {
		sub.AddOption(key, v)
	}
	return sub
}

// RemoveOption removes every occurrence of key and returns sub for chaining.
func (sub *Subsection) RemoveOption(key string) *Subsection {
	result := make(Options, 0, len(sub.Options))
	for _, o := range sub.Options {
		if !o.IsKey(key) {
			result = append(result, o)
		}
	}
	sub.Options = result
	return sub
}
