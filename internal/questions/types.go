// Package questions defines the question document handed to a human and the
// typed answers that come back, together with parsing and validation.
package questions

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Question types.
const (
	TypeSingle = "single"
	TypeMulti  = "multi"
	TypeText   = "text"
	TypeImage  = "image"
	TypeInfo   = "info"
)

var knownTypes = map[string]bool{
	TypeSingle: true,
	TypeMulti:  true,
	TypeText:   true,
	TypeImage:  true,
	TypeInfo:   true,
}

// Document is a validated set of questions.
type Document struct {
	Title       string     `json:"title,omitempty" yaml:"title"`
	Description string     `json:"description,omitempty" yaml:"description"`
	Questions   []Question `json:"questions" yaml:"questions"`
}

// Question is one entry of a Document.
type Question struct {
	ID          string     `json:"id" yaml:"id"`
	Type        string     `json:"type" yaml:"type"`
	Question    string     `json:"question" yaml:"question"`
	Description string     `json:"description,omitempty" yaml:"description"`
	Placeholder string     `json:"placeholder,omitempty" yaml:"placeholder"`
	Options     []string   `json:"options,omitempty" yaml:"options"`
	Recommended StringList `json:"recommended,omitempty" yaml:"recommended"`
	Required    *bool      `json:"required,omitempty" yaml:"required"`
	AllowOther  bool       `json:"allowOther,omitempty" yaml:"allowOther"`
}

// IsInteractive reports whether the question expects an answer at all.
func (q Question) IsInteractive() bool {
	return q.Type != TypeInfo
}

// IsRequired reports whether a submit must carry an answer for q.
// Interactive questions are required unless explicitly marked otherwise.
func (q Question) IsRequired() bool {
	if !q.IsInteractive() {
		return false
	}
	if q.Required == nil {
		return true
	}
	return *q.Required
}

// wantsList reports whether answers to q are lists rather than plain strings.
func (q Question) wantsList() bool {
	return q.Type == TypeMulti || q.Type == TypeImage
}

// StringList accepts either a single string or a list of strings.
type StringList []string

func (s *StringList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var one string
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*s = StringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("expected string or list of strings: %w", err)
	}
	*s = many
	return nil
}

func (s *StringList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*s = StringList{node.Value}
		return nil
	}
	var many []string
	if err := node.Decode(&many); err != nil {
		return fmt.Errorf("expected string or list of strings: %w", err)
	}
	*s = many
	return nil
}

// Value is a single answer: either plain text or an ordered list of strings.
// Lists carry multi-select choices and uploaded file references.
type Value struct {
	Text  string
	Items []string
	List  bool
}

// Text returns a plain string answer.
func Text(s string) Value {
	return Value{Text: s}
}

// List returns a list answer.
func List(items ...string) Value {
	if len(items) == 0 {
		items = nil
	}
	return Value{Items: items, List: true}
}

// IsEmpty reports whether v carries no answer content.
func (v Value) IsEmpty() bool {
	if v.List {
		return len(v.Items) == 0
	}
	return v.Text == ""
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.List {
		if v.Items == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.Items)
	}
	return json.Marshal(v.Text)
}

func (v *Value) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return fmt.Errorf("empty answer value")
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = Text(s)
		return nil
	case '[':
		var items []string
		if err := json.Unmarshal(b, &items); err != nil {
			return fmt.Errorf("answer list must contain only strings: %w", err)
		}
		*v = List(items...)
		return nil
	default:
		return fmt.Errorf("answer must be a string or a list of strings")
	}
}

// Answers maps question ids to submitted values.
type Answers map[string]Value

// Clone returns a copy of a that shares no slices with it.
func (a Answers) Clone() Answers {
	if a == nil {
		return nil
	}
	out := make(Answers, len(a))
	for id, v := range a {
		if v.Items != nil {
			v.Items = append([]string(nil), v.Items...)
		}
		out[id] = v
	}
	return out
}

// Response is one answer in document order.
type Response struct {
	ID    string `json:"id"`
	Value Value  `json:"value"`
}
