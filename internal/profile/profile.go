// Package profile loads named, reusable CLI configuration bundles from
// JSON documents, validated against an embedded JSON Schema and gated on
// a semver-compatible SchemaVersion field.
package profile

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/mod/semver"
)

//go:embed schema.json
var schemaDoc []byte

// MinSupportedVersion is the oldest SchemaVersion this build accepts, in
// semver form without the leading "v"; checkVersion also requires the same
// major version. MaxSupportedVersion names that accepted range for readers
// only: it is not valid semver and checkVersion does not read it.
const (
	MinSupportedVersion = "1.0.0"
	MaxSupportedVersion = "1.x.x"
)

// ErrIncompatibleVersion is returned when a profile's SchemaVersion falls
// outside the range this build understands.
var ErrIncompatibleVersion = errors.New("nanofuzz: profile schema version is incompatible with this build")

// ErrInvalidProfile is returned when a profile document fails JSON Schema
// validation.
var ErrInvalidProfile = errors.New("nanofuzz: profile document failed validation")

// Profile is the CLI's reusable configuration bundle.
type Profile struct {
	SchemaVersion string `json:"schemaVersion"`
	Pattern       string `json:"pattern"`
	PoolSize      string `json:"poolSize"`
	Limit         int64  `json:"limit"`
	NoCRLF        bool   `json:"noCRLF"`
	Seed          *int64 `json:"seed,omitempty"`
}

var (
	schemaOnce   sync.Once
	compiled     *jsonschema.Schema
	compileError error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource("schema://nanofuzz/profile.json", strings.NewReader(string(schemaDoc))); err != nil {
			compileError = fmt.Errorf("nanofuzz: compiling embedded profile schema: %w", err)
			return
		}
		s, err := c.Compile("schema://nanofuzz/profile.json")
		if err != nil {
			compileError = fmt.Errorf("nanofuzz: compiling embedded profile schema: %w", err)
			return
		}
		compiled = s
	})
	return compiled, compileError
}

// Load reads, validates, and decodes a profile document from path.
func Load(path string) (*Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("nanofuzz: reading profile %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse validates and decodes a profile document already held in memory.
func Parse(raw []byte) (*Profile, error) {
	schema, err := compiledSchema()
	if err != nil {
		return nil, err
	}

	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("nanofuzz: profile is not valid JSON: %w", err)
	}
	if err := schema.Validate(generic); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidProfile, err)
	}

	p := &Profile{
		PoolSize: "normal",
		Limit:    -1,
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("nanofuzz: decoding profile: %w", err)
	}

	if err := checkVersion(p.SchemaVersion); err != nil {
		return nil, err
	}
	return p, nil
}

func checkVersion(version string) error {
	v := version
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return fmt.Errorf("%w: %q is not a valid semver", ErrIncompatibleVersion, version)
	}
	if semver.Compare(v, "v"+MinSupportedVersion) < 0 {
		return fmt.Errorf("%w: %q is older than the minimum supported %q", ErrIncompatibleVersion, version, MinSupportedVersion)
	}
	if semver.Major(v) != semver.Major("v"+MinSupportedVersion) {
		return fmt.Errorf("%w: %q is not within the supported major version", ErrIncompatibleVersion, version)
	}
	return nil
}
