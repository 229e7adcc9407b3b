package payments

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed gateway_errors.yaml
var defaultCatalogueYAML []byte

// Catalogue maps gateway error codes and error text to shopper-facing messages.
type Catalogue struct {
	Default string            `yaml:"default"`
	Codes   map[string]string `yaml:"codes"`
	Matches []CatalogueMatch  `yaml:"matches"`
}

// CatalogueMatch maps a substring of the gateway's error text to a message.
type CatalogueMatch struct {
	Contains string `yaml:"contains"`
	Message  string `yaml:"message"`
}

// ParseCatalogue decodes a catalogue from YAML.
func ParseCatalogue(data []byte) (*Catalogue, error) {
	var c Catalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("payments: parse error catalogue: %w", err)
	}
	normalized := make(map[string]string, len(c.Codes))
	for code, msg := range c.Codes {
		normalized[strings.ToLower(strings.TrimSpace(code))] = msg
	}
	c.Codes = normalized
	for i := range c.Matches {
		c.Matches[i].Contains = strings.ToLower(c.Matches[i].Contains)
	}
	if strings.TrimSpace(c.Default) == "" {
		c.Default = "Payment failed. Please try again."
	}
	return &c, nil
}

var defaultCatalogue = sync.OnceValue(func() *Catalogue {
	c, err := ParseCatalogue(defaultCatalogueYAML)
	if err != nil {
		panic(err)
	}
	return c
})

// DefaultCatalogue returns the embedded catalogue. The result is shared and must not be modified.
func DefaultCatalogue() *Catalogue {
	return defaultCatalogue()
}

// Message resolves the message for a failure. Codes win over substring matches; the
// gateway's own text is used when nothing matches and it reads like a sentence.
func (c *Catalogue) Message(code, text string) string {
	if msg, ok := c.Codes[strings.ToLower(strings.TrimSpace(code))]; ok {
		return msg
	}
	lower := strings.ToLower(text)
	for _, m := range c.Matches {
		if m.Contains != "" && strings.Contains(lower, m.Contains) {
			return m.Message
		}
	}
	if text = strings.TrimSpace(text); text != "" && strings.Contains(text, " ") {
		return text
	}
	return c.Default
}

// ErrorMessage extracts a shopper-facing message from callback parameters.
func (c *Catalogue) ErrorMessage(p Params) string {
	return c.Message(failureCode(p), p.Get("error_Message", "error_message", "error", "errorMessage", "message"))
}

func failureCode(p Params) string {
	if code := p.Get("error_code", "code"); code != "" {
		return code
	}
	if status := p.Get(statusKeys...); status != "" {
		return status
	}
	return "payment_failed"
}
