package questions

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Problem is one validation failure.
type Problem struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError collects every problem found in a document or answer set.
type ValidationError struct {
	Problems []Problem `json:"problems"`
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("%s: %s", e.Problems[0].Path, e.Problems[0].Message)
	}
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.Path + ": " + p.Message
	}
	return fmt.Sprintf("%d problems: %s", len(e.Problems), strings.Join(parts, "; "))
}

func (e *ValidationError) add(path, format string, args ...any) {
	e.Problems = append(e.Problems, Problem{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationError) orNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}

// Load reads and parses a question document. A path of "-" reads stdin as JSON.
func Load(path string) (*Document, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading questions: %w", err)
	}
	return Parse(data, path)
}

// Parse decodes a document, as YAML when name has a .yaml/.yml extension and
// as JSON otherwise, and validates it.
func Parse(data []byte, name string) (*Document, error) {
	var doc Document
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing questions: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing questions: %w", err)
		}
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks structural rules of the document.
func (d *Document) Validate() error {
	var verr ValidationError
	if d == nil || len(d.Questions) == 0 {
		verr.add("questions", "at least one question is required")
		return verr.orNil()
	}

	seen := make(map[string]bool, len(d.Questions))
	for i, q := range d.Questions {
		path := fmt.Sprintf("questions[%d]", i)
		switch {
		case q.ID == "":
			verr.add(path+".id", "id is required")
		case seen[q.ID]:
			verr.add(path+".id", "duplicate id %q", q.ID)
		}
		seen[q.ID] = true

		if !knownTypes[q.Type] {
			verr.add(path+".type", "unknown type %q", q.Type)
			continue
		}
		if q.Question == "" {
			verr.add(path+".question", "question text is required")
		}
		if q.Type == TypeSingle || q.Type == TypeMulti {
			if len(q.Options) == 0 {
				verr.add(path+".options", "%s question needs at least one option", q.Type)
			}
			if q.Type == TypeSingle && len(q.Recommended) > 1 {
				verr.add(path+".recommended", "single question can recommend at most one option")
			}
			for _, r := range q.Recommended {
				if !slices.Contains(q.Options, r) {
					verr.add(path+".recommended", "%q is not one of the options", r)
				}
			}
		} else if len(q.Recommended) > 0 {
			verr.add(path+".recommended", "only single and multi questions take a recommendation")
		}
		if q.Type == TypeInfo && q.Required != nil && *q.Required {
			verr.add(path+".required", "info questions cannot be required")
		}
	}
	return verr.orNil()
}

// Question returns the question with the given id.
func (d *Document) Question(id string) (Question, bool) {
	for _, q := range d.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// CheckAnswers validates the shape of a against the document. When complete
// is set, every required question must also carry a non-empty answer.
func (d *Document) CheckAnswers(a Answers, complete bool) error {
	var verr ValidationError

	ids := make([]string, 0, len(a))
	for id := range a {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		v := a[id]
		path := "answers." + id
		q, ok := d.Question(id)
		if !ok {
			verr.add(path, "unknown question")
			continue
		}
		if !q.IsInteractive() {
			verr.add(path, "info questions take no answer")
			continue
		}
		if q.wantsList() != v.List {
			if q.wantsList() {
				verr.add(path, "%s question expects a list", q.Type)
			} else {
				verr.add(path, "%s question expects a string", q.Type)
			}
			continue
		}
		if q.AllowOther || v.IsEmpty() {
			continue
		}
		switch q.Type {
		case TypeSingle:
			if !slices.Contains(q.Options, v.Text) {
				verr.add(path, "%q is not one of the options", v.Text)
			}
		case TypeMulti:
			for _, item := range v.Items {
				if !slices.Contains(q.Options, item) {
					verr.add(path, "%q is not one of the options", item)
				}
			}
		}
	}

	if complete {
		for _, q := range d.Questions {
			if !q.IsRequired() {
				continue
			}
			if v, ok := a[q.ID]; !ok || v.IsEmpty() {
				verr.add("answers."+q.ID, "answer is required")
			}
		}
	}
	return verr.orNil()
}

// Responses returns the answers in document order, skipping unanswered questions.
func (d *Document) Responses(a Answers) []Response {
	out := make([]Response, 0, len(a))
	for _, q := range d.Questions {
		if v, ok := a[q.ID]; ok {
			out = append(out, Response{ID: q.ID, Value: v})
		}
	}
	return out
}

// FileAnswer reports whether answers to the question with the given id are
// file references.
func (d *Document) FileAnswer(id string) bool {
	q, ok := d.Question(id)
	return ok && q.Type == TypeImage
}
