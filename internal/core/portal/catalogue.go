package portal

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"maintscraper/internal/core/record"
)

//go:embed catalogue.yaml
var defaultCatalogue []byte

// Pages holds the selectors used to log in and search.
type Pages struct {
	LoginURL             string                 `yaml:"login_url"`
	HomeURL              string                 `yaml:"home_url"`
	UsernameSelector     string                 `yaml:"username_selector"`
	PasswordSelector     string                 `yaml:"password_selector"`
	SubmitSelector       string                 `yaml:"submit_selector"`
	SecondFactorSelector string                 `yaml:"second_factor_selector"`
	TrustSelector        string                 `yaml:"trust_selector"`
	AuthenticatedMarker  string                 `yaml:"authenticated_selector"`
	Search               map[record.Kind]Search `yaml:"search"`
}

// Search holds the per-kind search form selectors.
type Search struct {
	TabSelector     string `yaml:"tab_selector"`
	InputSelector   string `yaml:"input_selector"`
	SubmitSelector  string `yaml:"submit_selector"`
	ResultsSelector string `yaml:"results_selector"`
}

// Probe is the fixed position whose label identifies a layout.
type Probe struct {
	Locator Locator `yaml:"locator"`
	Label   string  `yaml:"label"`
}

// Layout is one known arrangement of fields on a result page.
type Layout struct {
	Name   string             `yaml:"name"`
	Probe  Probe              `yaml:"probe"`
	Fields map[string]Locator `yaml:"fields"`
}

// Matches reports whether text read at the probe position is this layout's label.
func (l Layout) Matches(text string) bool {
	return normalizeLabel(text) == normalizeLabel(l.Probe.Label)
}

func normalizeLabel(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.ToLower(strings.TrimRight(s, ": "))
}

// Catalogue is the portal description: page selectors plus the two layouts of
// each kind in detection order.
type Catalogue struct {
	Pages   Pages                    `yaml:"portal"`
	Layouts map[record.Kind][]Layout `yaml:"layouts"`
}

// LoadCatalogue parses the embedded catalogue, or the file at path when set.
func LoadCatalogue(path string) (*Catalogue, error) {
	data := defaultCatalogue
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read portal file: %w", err)
		}
		data = b
	}
	return ParseCatalogue(data)
}

// ParseCatalogue decodes and validates a YAML catalogue.
func ParseCatalogue(data []byte) (*Catalogue, error) {
	var c Catalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode portal catalogue: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks that each kind has exactly two layouts with known fields.
func (c *Catalogue) Validate() error {
	for _, kind := range []record.Kind{record.KindRequest, record.KindOrder} {
		layouts := c.Layouts[kind]
		if len(layouts) != 2 {
			return fmt.Errorf("portal catalogue: %s needs exactly 2 layouts, got %d", kind, len(layouts))
		}
		schema := record.SchemaFor(kind)
		for _, l := range layouts {
			if l.Probe.Locator == "" || l.Probe.Label == "" {
				return fmt.Errorf("portal catalogue: %s layout %q has no probe", kind, l.Name)
			}
			for field := range l.Fields {
				if _, ok := schema.Column(field); !ok || field == schema.KeyColumn {
					return fmt.Errorf("portal catalogue: %s layout %q names unknown field %q", kind, l.Name, field)
				}
			}
		}
	}
	return nil
}

// For returns the layouts of a kind in detection order.
func (c *Catalogue) For(kind record.Kind) []Layout { return c.Layouts[kind] }
