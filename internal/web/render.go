// Package web renders the self-contained interview form document. The same
// document serves the live session and standalone snapshot files.
package web

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
)

//go:embed templates/form.html
var templatesFS embed.FS

var formTemplate = template.Must(template.ParseFS(templatesFS, "templates/form.html"))

// DataBlockID tags the inlined data block. Snapshot decoding locates the block
// by this id, so it must never change.
const DataBlockID = "interview-snapshot"

// ConfigBlockID tags the inlined runtime configuration.
const ConfigBlockID = "interview-config"

// Render modes.
const (
	ModeLive   = "live"
	ModeStatic = "static"
)

// Config is the runtime configuration handed to the browser.
type Config struct {
	Mode            string `json:"mode"`
	Token           string `json:"token,omitempty"`
	TimeoutSeconds  int    `json:"timeoutSeconds,omitempty"`
	HeartbeatMillis int    `json:"heartbeatMillis,omitempty"`
}

// Page is everything needed to render one form document.
type Page struct {
	Title  string
	Config Config
	// Data is marshalled into the tagged data block. It must contain the
	// question document under "questions" and saved answers under "answers".
	Data any
}

// Render writes the form document for p to w.
func Render(w io.Writer, p Page) error {
	cfg, err := json.Marshal(p.Config)
	if err != nil {
		return fmt.Errorf("encoding page config: %w", err)
	}
	data, err := json.Marshal(p.Data)
	if err != nil {
		return fmt.Errorf("encoding page data: %w", err)
	}

	title := p.Title
	if title == "" {
		title = "Questions"
	}

	// encoding/json escapes <, > and & so neither block can terminate its
	// script element early.
	return formTemplate.Execute(w, map[string]any{
		"Title":         title,
		"Static":        p.Config.Mode == ModeStatic,
		"ConfigBlockID": ConfigBlockID,
		"DataBlockID":   DataBlockID,
		"ConfigJSON":    template.JS(cfg),
		"DataJSON":      template.JS(data),
	})
}
