package acqmodel

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// ChannelMode is a recognized optics/illumination preset. Name is unique
// within a ChannelConfigurationSet (per objective).
type ChannelMode struct {
	XMLName                xml.Name `xml:"mode"`
	Name                   string   `xml:"Name,attr"`
	IlluminationSource     int      `xml:"IlluminationSource,attr"`
	IlluminationIntensity  float64  `xml:"IlluminationIntensity,attr"`
	ExposureTimeMs         float64  `xml:"ExposureTime,attr"`
	AnalogGain             float64  `xml:"AnalogGain,attr"`
	ZOffsetUm              *float64 `xml:"ZOffset,attr,omitempty"`
	EmissionFilterPosition int      `xml:"EmissionFilterPosition,attr"`
}

// IsBayerOrRGB reports whether the mode name indicates an RGB composite
// channel (spec.md §6: "if a config name contains 'RGB'").
func (c ChannelMode) IsBayerOrRGB() bool {
	return strings.Contains(strings.ToUpper(c.Name), "RGB")
}

// Validate checks the per-mode invariants from spec.md §3.
func (c ChannelMode) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("channel mode: name must not be empty")
	}
	if c.ExposureTimeMs <= 0 {
		return fmt.Errorf("channel mode %q: exposure_time_ms must be > 0, got %v", c.Name, c.ExposureTimeMs)
	}
	if c.AnalogGain < 0 {
		return fmt.Errorf("channel mode %q: analog_gain must be >= 0, got %v", c.Name, c.AnalogGain)
	}
	if c.IlluminationIntensity < 0 || c.IlluminationIntensity > 100 {
		return fmt.Errorf("channel mode %q: illumination_intensity must be in [0,100], got %v", c.Name, c.IlluminationIntensity)
	}
	return nil
}

// ChannelConfigurationSet is the ordered list of ChannelMode for one
// objective, persisted as configurations.xml per experiment.
type ChannelConfigurationSet struct {
	XMLName  xml.Name      `xml:"modes"`
	Modes    []ChannelMode `xml:"mode"`
	Objective string       `xml:"objective,attr,omitempty"`
}

// Validate checks that mode names are unique within the set, as required by
// spec.md §3's invariant.
func (s ChannelConfigurationSet) Validate() error {
	seen := make(map[string]bool, len(s.Modes))
	for _, m := range s.Modes {
		if err := m.Validate(); err != nil {
			return err
		}
		if seen[m.Name] {
			return fmt.Errorf("duplicate channel mode name %q in objective %q", m.Name, s.Objective)
		}
		seen[m.Name] = true
	}
	return nil
}

// ByName returns the mode with the given name, if present.
func (s ChannelConfigurationSet) ByName(name string) (ChannelMode, bool) {
	for _, m := range s.Modes {
		if m.Name == name {
			return m, true
		}
	}
	return ChannelMode{}, false
}

// MarshalXML renders the set as configurations.xml.
func (s ChannelConfigurationSet) MarshalXML() ([]byte, error) {
	out, err := xml.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal channel configuration set: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// UnmarshalChannelConfigurationSet parses configurations.xml. The element
// names recorded in the XMLName fields are cleared, so parsing the output
// of MarshalXML yields a value equal to the set that was marshaled.
func UnmarshalChannelConfigurationSet(data []byte) (ChannelConfigurationSet, error) {
	var s ChannelConfigurationSet
	if err := xml.Unmarshal(data, &s); err != nil {
		return ChannelConfigurationSet{}, fmt.Errorf("unmarshal channel configuration set: %w", err)
	}
	s.XMLName = xml.Name{}
	for i := range s.Modes {
		s.Modes[i].XMLName = xml.Name{}
	}
	return s, nil
}
