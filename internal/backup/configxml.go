package backup

import (
	"bytes"
	"encoding/xml"

	"github.com/cockroachdb/errors"
)

// ConfigSummary is what we read back from an exported config.xml for the
// log line. Nothing else in the document is interpreted.
type ConfigSummary struct {
	XMLName  xml.Name `xml:"opnsense"`
	Version  string   `xml:"version"`
	Hostname string   `xml:"system>hostname"`
	Domain   string   `xml:"system>domain"`
}

// FQDN is hostname.domain, or whichever half is set.
func (c *ConfigSummary) FQDN() string {
	switch {
	case c.Hostname != "" && c.Domain != "":
		return c.Hostname + "." + c.Domain
	case c.Hostname != "":
		return c.Hostname
	}
	return c.Domain
}

// ParseConfigSummary decodes the <opnsense> root of an exported
// configuration. Any other root element is an error.
func ParseConfigSummary(data []byte) (*ConfigSummary, error) {
	var c ConfigSummary
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&c); err != nil {
		return nil, errors.Wrap(err, "parse config.xml")
	}
	return &c, nil
}
