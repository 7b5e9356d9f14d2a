// Package validate checks request bodies against named JSON schemas. The
// schemas live in schemas.yaml, embedded at build time.
package validate

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/jsonschema-go/jsonschema"
	"gopkg.in/yaml.v3"

	"idsimplify/pkg/apperr"
)

// Schema names.
const (
	Tenancy            = "tenancy"
	Organisation       = "organisation"
	Invitation         = "invitation"
	OrganisationUser   = "organisationUser"
	TenancyPermissions = "tenancyPermissions"
	Integration        = "integration"
	User               = "user"
	Group              = "group"
	DirectoryUser      = "directoryUser"
)

//go:embed schemas.yaml
var schemasYAML []byte

// Schemas is a set of resolved schemas keyed by name.
type Schemas struct {
	resolved map[string]*jsonschema.Resolved
}

// Default parses the embedded schemas.
func Default() (*Schemas, error) {
	return Parse(schemasYAML)
}

// Parse reads a YAML document mapping schema name to JSON schema.
func Parse(doc []byte) (*Schemas, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(doc, &raw); err != nil {
		return nil, fmt.Errorf("parse schemas: %w", err)
	}
	out := &Schemas{resolved: make(map[string]*jsonschema.Resolved, len(raw))}
	for name, def := range raw {
		b, err := json.Marshal(def)
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
		var s jsonschema.Schema
		if err := json.Unmarshal(b, &s); err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
		rs, err := s.Resolve(nil)
		if err != nil {
			return nil, fmt.Errorf("resolve schema %s: %w", name, err)
		}
		out.resolved[name] = rs
	}
	return out, nil
}

// Names lists the loaded schemas.
func (s *Schemas) Names() []string {
	names := make([]string, 0, len(s.resolved))
	for n := range s.resolved {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate reports whether data is a JSON document matching the named
// schema. Failures wrap apperr.ErrInputInvalid.
func (s *Schemas) Validate(data []byte, schema string) error {
	rs, ok := s.resolved[schema]
	if !ok {
		return fmt.Errorf("unknown schema %q", schema)
	}
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return apperr.InputInvalid("request body is not valid JSON")
	}
	if err := rs.Validate(instance); err != nil {
		return apperr.InputInvalid("request body does not match %s schema: %v", schema, err)
	}
	return nil
}

// Decode validates data against schema and unmarshals it into dst.
func (s *Schemas) Decode(data []byte, schema string, dst any) error {
	if err := s.Validate(data, schema); err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return apperr.InputInvalid("request body could not be decoded")
	}
	return nil
}
