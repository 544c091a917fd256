package core

import (
	"bytes"
	"context"
	htmltmpl "html/template"
	"io/fs"
	"net/mail"
	"path"
	"strings"
	"sync"
	texttmpl "text/template"

	"github.com/pkg/errors"
)

const emailTemplatesDir = "templates/email"

var errTemplateNotFound = errors.New("email template not found")

type (
	tmplCacheEntry struct {
		text *texttmpl.Template
		html *htmltmpl.Template
	}

	// EmailTemplates renders named templates from `templates/email/<name>.txt|.gohtml`,
	// each wrapped by `_base.txt|_base.gohtml`.
	EmailTemplates struct {
		fsys            fs.FS
		frontendBaseURL string
		strict          bool

		once  sync.Once
		err   error
		cache map[string]*tmplCacheEntry
	}

	EmailMessage struct {
		To      []mail.Address
		Subject string
		BodyStr string // simple text/plain, non-templated content

		// templated contents
		TemplateName string // without ext
		TemplateData interface{}
		TextContent  string
		HTMLContent  string
	}

	ContextData struct {
		FrontendBaseURL string
		Data            interface{}
	}

	// EmailService is any service that can send emails.
	// Send is synchronous; callers wanting fire-and-forget go through the task runner.
	EmailService interface {
		Send(ctx context.Context, msg *EmailMessage) error
	}
)

func NewEmailTemplates(fsys fs.FS, conf *Config) *EmailTemplates {
	return &EmailTemplates{
		fsys:            fsys,
		frontendBaseURL: conf.FrontendBaseURL,
		strict:          conf.Debug || conf.TestMode,
	}
}

func (t *EmailTemplates) parse() {
	t.cache = make(map[string]*tmplCacheEntry)

	fps, err := fs.Glob(t.fsys, path.Join(emailTemplatesDir, "*"))
	if err != nil {
		t.err = errors.Wrap(err, "listing email templates")
		return
	}

	for _, fp := range fps {
		fname := path.Base(fp)
		ext := path.Ext(fname)
		if strings.HasPrefix(fname, "_") || !(ext == ".txt" || ext == ".gohtml") {
			continue
		}
		name := strings.TrimSuffix(fname, ext)
		entry, ok := t.cache[name]
		if !ok {
			entry = new(tmplCacheEntry)
			t.cache[name] = entry
		}

		if ext == ".txt" {
			tmpl, err := texttmpl.ParseFS(t.fsys, path.Join(emailTemplatesDir, "_base.txt"), fp)
			if err != nil {
				t.err = errors.Wrapf(err, "parsing %s", fname)
				return
			}
			if t.strict {
				tmpl = tmpl.Option("missingkey=error")
			}
			entry.text = tmpl
		} else {
			tmpl, err := htmltmpl.ParseFS(t.fsys, path.Join(emailTemplatesDir, "_base.gohtml"), fp)
			if err != nil {
				t.err = errors.Wrapf(err, "parsing %s", fname)
				return
			}
			if t.strict {
				tmpl = tmpl.Option("missingkey=error")
			}
			entry.html = tmpl
		}
	}
}

// Render fills msg.TextContent and msg.HTMLContent.
func (t *EmailTemplates) Render(msg *EmailMessage) error {
	if msg.BodyStr != "" {
		msg.TextContent = msg.BodyStr
	}
	if msg.TemplateName == "" {
		return nil
	}

	t.once.Do(t.parse) // only parse once during first render
	if t.err != nil {
		return t.err
	}
	entry, ok := t.cache[msg.TemplateName]
	if !ok {
		return errors.Wrap(errTemplateNotFound, msg.TemplateName)
	}

	data := ContextData{FrontendBaseURL: t.frontendBaseURL, Data: msg.TemplateData}
	var buff bytes.Buffer
	if entry.text != nil && msg.BodyStr == "" {
		if err := entry.text.Execute(&buff, data); err != nil {
			return errors.Wrap(err, "rendering text")
		}
		msg.TextContent = buff.String()
		buff.Reset()
	}
	if entry.html != nil {
		if err := entry.html.Execute(&buff, data); err != nil {
			return errors.Wrap(err, "rendering html")
		}
		msg.HTMLContent = buff.String()
	}
	return nil
}

func (m *EmailMessage) HasRecipients() bool { return len(m.To) > 0 }
func (m *EmailMessage) HasContent() bool    { return (m.TextContent != "") || (m.HTMLContent != "") }
