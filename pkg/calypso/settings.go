package calypso

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Settings configures the secure session engine.
//
//	sam_revision: C1
//	ratification_asked: true
//	extended_mode: false
//	batch_digest: false
//	buffer_limit: 0
//	keys:
//	  debit: {kif: 0x30, kvc: 0x79}
type Settings struct {
	SamRevision       SamRevision `yaml:"sam_revision"`
	RatificationAsked bool        `yaml:"ratification_asked"`
	ExtendedMode      bool        `yaml:"extended_mode"`
	BatchDigest       bool        `yaml:"batch_digest"`
	// BufferLimit overrides the capacity advertised by the card when non-zero.
	BufferLimit int  `yaml:"buffer_limit"`
	Keys        Keys `yaml:"keys"`
}

// Keys holds the default key reference of each access level.
type Keys struct {
	Perso KeyReference `yaml:"perso"`
	Load  KeyReference `yaml:"load"`
	Debit KeyReference `yaml:"debit"`
}

// DefaultSettings returns the usual Calypso defaults.
func DefaultSettings() Settings {
	return Settings{
		SamRevision:       SamC1,
		RatificationAsked: true,
		Keys: Keys{
			Perso: KeyReference{KIF: 0x21, KVC: 0x79},
			Load:  KeyReference{KIF: 0x27, KVC: 0x79},
			Debit: KeyReference{KIF: 0x30, KVC: 0x79},
		},
	}
}

// Key returns the key reference bound to level.
func (s Settings) Key(level AccessLevel) KeyReference {
	switch level {
	case Load:
		return s.Keys.Load
	case Debit:
		return s.Keys.Debit
	default:
		return s.Keys.Perso
	}
}

// SignatureLength is 8 in extended mode, 4 otherwise.
func (s Settings) SignatureLength() int {
	if s.ExtendedMode {
		return 8
	}
	return 4
}

// Validate checks the settings for values the engine cannot honor.
func (s Settings) Validate() error {
	var errs []error
	if s.SamRevision < SamC1 || s.SamRevision > SamS1D {
		errs = append(errs, fmt.Errorf("sam_revision: unsupported value %d", int(s.SamRevision)))
	}
	if s.BufferLimit < 0 {
		errs = append(errs, fmt.Errorf("buffer_limit: must not be negative, got %d", s.BufferLimit))
	}
	for _, level := range []AccessLevel{Perso, Load, Debit} {
		if s.Key(level).KIF == 0x00 {
			errs = append(errs, fmt.Errorf("keys.%s: KIF must be set", level))
		}
	}
	return errors.Join(errs...)
}

// LoadSettings decodes YAML from r over DefaultSettings and validates the result.
func LoadSettings(r io.Reader) (Settings, error) {
	s := DefaultSettings()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return Settings{}, fmt.Errorf("decoding settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

// LoadSettingsFile reads settings from a YAML file.
func LoadSettingsFile(path string) (Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return Settings{}, err
	}
	defer f.Close()
	return LoadSettings(f)
}

// UnmarshalYAML reads a SAM revision name.
func (r *SamRevision) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err != nil {
		return err
	}
	parsed, err := ParseSamRevision(name)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// MarshalYAML writes the revision name.
func (r SamRevision) MarshalYAML() (any, error) {
	return r.String(), nil
}
