// Package i18n implements §6.6: the engine holds no translation bundles
// itself, just the machinery to resolve a module's *_key fields (label_key,
// description_key, OutputSpec.DescriptionKey) against whatever bundle the
// host application loaded, falling back to the English defaults already
// carried on types.ModuleMetadata when a key is missing.
//
// Grounded on compozy's layered configuration resolution (a value comes
// from the most specific source available, falling back toward a default)
// applied here to translation lookup instead of config keys. Bundles are
// intentionally inert: flat string maps, no template syntax, so a
// misconfigured translation can never execute code or reach into context.
package i18n

import (
	"fmt"

	"github.com/lyzr/flowengine/errs"
	"github.com/lyzr/flowengine/types"
)

// MaxValueLength is the longest a bundle string may be; longer values are
// rejected at load time rather than silently truncated.
const MaxValueLength = 500

// Bundle is a single locale's flat key -> string map.
type Bundle struct {
	Locale string
	values map[string]string
}

// NewBundle validates and wraps a raw key/value map as a Bundle.
func NewBundle(locale string, values map[string]string) (*Bundle, error) {
	for k, v := range values {
		if len(v) > MaxValueLength {
			return nil, errs.New(errs.ValidationError, fmt.Sprintf("i18n: bundle %s key %q exceeds max length %d", locale, k, MaxValueLength))
		}
	}
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &Bundle{Locale: locale, values: copied}, nil
}

// Lookup returns the bundle's value for key, if present.
func (b *Bundle) Lookup(key string) (string, bool) {
	v, ok := b.values[key]
	return v, ok
}

// Translator resolves *_key fields against a set of loaded bundles,
// falling back to English defaults carried on the metadata itself.
type Translator struct {
	bundles      map[string]*Bundle
	defaultLocale string
}

// NewTranslator constructs a Translator with no bundles loaded; Load adds
// them. defaultLocale is used when Resolve is called without an explicit
// locale.
func NewTranslator(defaultLocale string) *Translator {
	if defaultLocale == "" {
		defaultLocale = "en"
	}
	return &Translator{bundles: map[string]*Bundle{}, defaultLocale: defaultLocale}
}

// Load registers or replaces a bundle for its locale.
func (t *Translator) Load(b *Bundle) {
	t.bundles[b.Locale] = b
}

// ModuleKeyFormat is the documented key shape:
// modules.{category}.{module}.{section}.{field}.
func ModuleKeyFormat(category, module, section, field string) string {
	return fmt.Sprintf("modules.%s.%s.%s.%s", category, module, section, field)
}

// ResolveModule translates a module's label/description, in locale,
// falling back to the metadata's own Label/Description when the bundle
// has no entry (missing bundle, missing locale, or missing key are all
// the same fallback path).
func (t *Translator) ResolveModule(meta types.ModuleMetadata, locale string) (label, description string) {
	label, description = meta.Label, meta.Description
	b := t.bundleFor(locale)
	if b == nil {
		return label, description
	}
	if meta.LabelKey != "" {
		if v, ok := b.Lookup(meta.LabelKey); ok {
			label = v
		}
	}
	if meta.DescriptionKey != "" {
		if v, ok := b.Lookup(meta.DescriptionKey); ok {
			description = v
		}
	}
	return label, description
}

// ResolveOutputField translates one output_schema entry's description.
func (t *Translator) ResolveOutputField(spec types.OutputSpec, locale string) string {
	if spec.DescriptionKey == "" {
		return spec.Description
	}
	b := t.bundleFor(locale)
	if b == nil {
		return spec.Description
	}
	if v, ok := b.Lookup(spec.DescriptionKey); ok {
		return v
	}
	return spec.Description
}

func (t *Translator) bundleFor(locale string) *Bundle {
	if locale == "" {
		locale = t.defaultLocale
	}
	if b, ok := t.bundles[locale]; ok {
		return b
	}
	return t.bundles[t.defaultLocale]
}
