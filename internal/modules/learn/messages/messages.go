// Package messages holds the learner-facing strings of the script engine.
package messages

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

const (
	LangZH = "zh"
	LangEN = "en"

	DefaultLang = LangZH
)

const (
	RejectOptions    = "reject.options"
	RejectInputEmpty = "reject.input_empty"
	RejectPhone      = "reject.phone"
	RejectCheckcode  = "reject.checkcode"
	ButtonContinue   = "button.continue"
	LoginLabel       = "login.label"
	PaymentLabel     = "payment.label"
	CheckcodeSMS     = "checkcode.sms"
	SafetyFallback   = "safety.fallback"
	SafetySystem     = "safety.system"
	SafetyPrompt     = "safety.prompt"
	AskSystem        = "ask.system"
	AskDisabled      = "ask.disabled"
)

// Catalog maps language to message key to text.
type Catalog struct {
	langs map[string]map[string]string
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	return Parse(catalogYAML)
}

// MustLoad is Load for package initialisation and tests.
func MustLoad() *Catalog {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}

func Parse(raw []byte) (*Catalog, error) {
	langs := map[string]map[string]string{}
	if err := yaml.Unmarshal(raw, &langs); err != nil {
		return nil, fmt.Errorf("parse message catalog: %w", err)
	}
	if _, ok := langs[DefaultLang]; !ok {
		return nil, fmt.Errorf("message catalog missing default language %q", DefaultLang)
	}
	return &Catalog{langs: langs}, nil
}

// Normalize maps a stored language preference such as "en-US" to a catalog language.
func (c *Catalog) Normalize(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	if _, ok := c.langs[lang]; ok {
		return lang
	}
	return DefaultLang
}

// Get returns the message for key in lang, falling back to the default language and
// finally to the key itself.
func (c *Catalog) Get(lang, key string) string {
	if m, ok := c.langs[c.Normalize(lang)]; ok {
		if s, ok := m[key]; ok {
			return s
		}
	}
	if s, ok := c.langs[DefaultLang][key]; ok {
		return s
	}
	return key
}

// Format returns the message with {name} placeholders replaced from vars.
func (c *Catalog) Format(lang, key string, vars map[string]string) string {
	return Fill(c.Get(lang, key), vars)
}

// Fill replaces {name} placeholders. Unknown names are left as written.
func Fill(tmpl string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(tmpl, "{") {
		return tmpl
	}
	var b strings.Builder
	b.Grow(len(tmpl))
	for i := 0; i < len(tmpl); {
		if tmpl[i] == '{' {
			if end := strings.IndexByte(tmpl[i+1:], '}'); end >= 0 {
				name := tmpl[i+1 : i+1+end]
				if v, ok := vars[name]; ok && name != "" && !strings.ContainsAny(name, "{ \n") {
					b.WriteString(v)
					i += end + 2
					continue
				}
			}
		}
		b.WriteByte(tmpl[i])
		i++
	}
	return b.String()
}
