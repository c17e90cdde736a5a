package view

import (
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/mowesport/mowe/internal/roles"
	"github.com/mowesport/mowe/web"
)

// Engine renders HTML templates.
type Engine struct {
	templates *template.Template
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title       string
	CSRFToken   string
	CurrentPath string
	User        *UserData
	Sections    any
	Data        any
}

// UserData is the signed-in user as shown in the page chrome.
type UserData struct {
	Name   string
	Email  string
	Role   roles.Descriptor
	Status roles.StatusDescriptor
	// Inactive is set for accounts restricted to their profile pages.
	Inactive bool
}

// NewEngine parses templates at build-time.
func NewEngine() (*Engine, error) {
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02/01/2006 15:04")
		},
		"initials": initials,
		"active": func(current, href string) bool {
			return href != "" && (current == href || strings.HasPrefix(current, href+"/"))
		},
	}
	tpl, err := web.ParseTemplates(funcMap)
	if err != nil {
		return nil, err
	}
	return &Engine{templates: tpl}, nil
}

// Render executes a named template with TemplateData.
func (e *Engine) Render(w http.ResponseWriter, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return e.templates.ExecuteTemplate(w, name, data)
}

func initials(name string) string {
	var out []rune
	for _, part := range strings.Fields(name) {
		for _, r := range part {
			out = append(out, r)
			break
		}
		if len(out) == 2 {
			break
		}
	}
	return strings.ToUpper(string(out))
}
