// Package sites describes the pages the relay automates: where they live,
// and which elements to look for on them.
package sites

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/golden-h/novelrelay/internal/assets"
)

// Kind selects the script that drives a page.
type Kind string

const (
	KindAssistant Kind = "assistant"
	KindReading   Kind = "reading"
	KindPublisher Kind = "publisher"
)

// Locator finds one element. In YAML a bare string is a CSS selector.
type Locator struct {
	CSS   string `yaml:"css" json:"css,omitempty"`
	Text  string `yaml:"text" json:"text,omitempty"`
	Exact bool   `yaml:"exact" json:"exact,omitempty"`
	Has   string `yaml:"has" json:"has,omitempty"`
	Last  bool   `yaml:"last" json:"last,omitempty"`
}

func (l *Locator) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		*l = Locator{CSS: n.Value}
		return nil
	}
	type plain Locator
	return n.Decode((*plain)(l))
}

func (l Locator) IsZero() bool { return l.CSS == "" && l.Text == "" }

// JSON is the form handed to the in-page DOM helper.
func (l Locator) JSON() string {
	b, _ := json.Marshal(l)
	return string(b)
}

func (l Locator) String() string {
	s := l.CSS
	if s == "" {
		s = "*"
	}
	if l.Has != "" {
		s += ":has(" + l.Has + ")"
	}
	if l.Text != "" {
		s += fmt.Sprintf("[text%s%q]", map[bool]string{true: "=", false: "~="}[l.Exact], l.Text)
	}
	if l.Last {
		s += ":last"
	}
	return s
}

// Duration reads "2s" style values.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	v, err := time.ParseDuration(strings.TrimSpace(n.Value))
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

// Step is one publishing action. Exactly one of Click, Fill, Wait and Sleep
// is set. Value may reference {title} and {content}.
type Step struct {
	Name  string   `yaml:"name"`
	Click *Locator `yaml:"click"`
	Fill  *Locator `yaml:"fill"`
	Value string   `yaml:"value"`
	Wait  *Locator `yaml:"wait"`
	Sleep Duration `yaml:"sleep"`
}

func (s Step) action() (string, int) {
	n := 0
	act := ""
	if s.Click != nil {
		n, act = n+1, "click"
	}
	if s.Fill != nil {
		n, act = n+1, "fill"
	}
	if s.Wait != nil {
		n, act = n+1, "wait"
	}
	if s.Sleep > 0 {
		n, act = n+1, "sleep"
	}
	return act, n
}

// Action names the step's operation.
func (s Step) Action() string {
	a, _ := s.action()
	return a
}

// Label is the step's name, or its action and target when unnamed.
func (s Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	switch {
	case s.Click != nil:
		return "click " + s.Click.String()
	case s.Fill != nil:
		return "fill " + s.Fill.String()
	case s.Wait != nil:
		return "wait " + s.Wait.String()
	}
	return "sleep " + time.Duration(s.Sleep).String()
}

// Render substitutes {title} and {content} in the step's value.
func (s Step) Render(title, content string) string {
	return strings.NewReplacer("{title}", title, "{content}", content).Replace(s.Value)
}

// Profile is one automated site. Which fields matter depends on Kind.
type Profile struct {
	Name  string   `yaml:"name"`
	Kind  Kind     `yaml:"kind"`
	Match []string `yaml:"match"`

	// assistant
	Input      []Locator `yaml:"input"`
	Submit     []Locator `yaml:"submit"`
	Ready      []Locator `yaml:"ready"`
	Result     Locator   `yaml:"result"`
	Paragraphs string    `yaml:"paragraphs"`
	Footer     []string  `yaml:"footer"`

	// reading
	Candidates   []string `yaml:"candidates"`
	Keywords     []string `yaml:"keywords"`
	Source       Locator  `yaml:"source"`
	TitleField   Locator  `yaml:"titleField"`
	ContentField Locator  `yaml:"contentField"`
	MarkDone     Locator  `yaml:"markDone"`

	// publisher
	Steps []Step `yaml:"steps"`
}

// Matches reports whether url belongs to the profile.
func (p Profile) Matches(url string) bool {
	for _, m := range p.Match {
		if strings.HasPrefix(url, m) {
			return true
		}
	}
	return false
}

// IsFooter reports whether a result paragraph is boilerplate.
func (p Profile) IsFooter(text string) bool {
	for _, f := range p.Footer {
		if strings.Contains(text, f) {
			return true
		}
	}
	return false
}

func (p Profile) validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile without name")
	}
	switch p.Kind {
	case KindAssistant:
		if len(p.Input) == 0 || len(p.Submit) == 0 || len(p.Ready) == 0 || p.Result.IsZero() {
			return fmt.Errorf("%s: assistant profile needs input, submit, ready and result", p.Name)
		}
	case KindReading:
		if p.Source.IsZero() || p.TitleField.IsZero() || p.ContentField.IsZero() {
			return fmt.Errorf("%s: reading profile needs source, titleField and contentField", p.Name)
		}
	case KindPublisher:
		if len(p.Steps) == 0 {
			return fmt.Errorf("%s: publisher profile has no steps", p.Name)
		}
		for i, s := range p.Steps {
			if _, n := s.action(); n != 1 {
				return fmt.Errorf("%s: step %d must have exactly one of click, fill, wait, sleep", p.Name, i+1)
			}
		}
	default:
		return fmt.Errorf("%s: unknown kind %q", p.Name, p.Kind)
	}
	return nil
}

// Set is the loaded list of profiles.
type Set struct {
	Profiles []Profile `yaml:"sites"`
}

// Parse decodes and validates a YAML profile list.
func Parse(data []byte) (*Set, error) {
	var s Set
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse sites: %w", err)
	}
	if len(s.Profiles) == 0 {
		return nil, fmt.Errorf("parse sites: no profiles")
	}
	seen := make(map[string]bool, len(s.Profiles))
	for i := range s.Profiles {
		p := &s.Profiles[i]
		if p.Paragraphs == "" {
			p.Paragraphs = "p"
		}
		if err := p.validate(); err != nil {
			return nil, err
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate profile %q", p.Name)
		}
		seen[p.Name] = true
	}
	return &s, nil
}

// Load reads profiles from path, or the built-in set when path is empty.
func Load(path string) (*Set, error) {
	if path == "" {
		return Parse(assets.SitesYAML)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sites: %w", err)
	}
	return Parse(data)
}

// ForURL returns the first profile whose match list covers url.
func (s *Set) ForURL(url string) (Profile, bool) {
	for _, p := range s.Profiles {
		if p.Matches(url) {
			return p, true
		}
	}
	return Profile{}, false
}

// First returns the first profile of kind.
func (s *Set) First(kind Kind) (Profile, bool) {
	for _, p := range s.Profiles {
		if p.Kind == kind {
			return p, true
		}
	}
	return Profile{}, false
}
