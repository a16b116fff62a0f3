// Package config loads the per-input configuration: how each source is
// decoded and where its events are delivered.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tinytelemetry/ferry/internal/ingest"
	"github.com/tinytelemetry/ferry/internal/model"
	"github.com/tinytelemetry/ferry/internal/shipper"
)

// Input types, named after the trigger that delivers their data.
const (
	InputS3SQS      = "s3-sqs"
	InputSQS        = "sqs"
	InputCloudWatch = "cloudwatch-logs"
	InputKinesis    = "kinesis-data-stream"
)

// OutputDuckDB is the only supported output type.
const OutputDuckDB = "duckdb"

var inputTypes = []string{InputS3SQS, InputSQS, InputCloudWatch, InputKinesis}

// ErrNoInputs is returned for a document without any input.
var ErrNoInputs = errors.New("config: no inputs provided")

// Config is the parsed input configuration.
type Config struct {
	Inputs []*Input `yaml:"inputs"`

	// raw is the document before secret expansion, forwarded with resume
	// messages so resolved secrets never leave the process.
	raw string
}

// Input configures one source.
type Input struct {
	Type string   `yaml:"type"`
	ID   string   `yaml:"id"`
	Tags []string `yaml:"tags"`

	// Delimiter overrides the record delimiter. An explicit empty string
	// makes every payload a single record.
	Delimiter *string                `yaml:"delimiter"`
	Multiline ingest.MultilineConfig `yaml:"multiline"`
	// JSONContentType is one of auto (default), ndjson, single or disabled.
	JSONContentType          string `yaml:"json_content_type"`
	ExpandEventListFromField string `yaml:"expand_event_list_from_field"`

	IncludeExcludePatterns `yaml:",inline"`

	Outputs []Output `yaml:"outputs"`
}

// IncludeExcludePatterns holds the message filter rules of an input.
type IncludeExcludePatterns struct {
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

// Output configures the destination of an input.
type Output struct {
	Type string     `yaml:"type"`
	Args OutputArgs `yaml:"args"`
}

// OutputArgs are the destination settings of an output.
type OutputArgs struct {
	Dataset          string `yaml:"dataset"`
	Namespace        string `yaml:"namespace"`
	IntegrationScope string `yaml:"integration_scope"`
	BatchMaxActions  int    `yaml:"batch_max_actions"`
}

// Load reads and parses the configuration file at path.
func Load(ctx context.Context, path string, resolver SecretResolver) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(ctx, string(data), resolver)
}

// Parse expands secret references in doc and parses it. A nil resolver
// leaves references untouched.
func Parse(ctx context.Context, doc string, resolver SecretResolver) (*Config, error) {
	raw := doc
	if resolver != nil {
		expanded, err := ExpandSecrets(ctx, doc, resolver)
		if err != nil {
			return nil, err
		}
		doc = expanded
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(doc), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.raw = raw
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Inputs) == 0 {
		return ErrNoInputs
	}
	seen := make(map[string]bool, len(c.Inputs))
	for i, in := range c.Inputs {
		if in == nil {
			return fmt.Errorf("config: input %d is empty", i)
		}
		if !slices.Contains(inputTypes, in.Type) {
			return fmt.Errorf("config: input %d: type must be one of %s, got %q", i, strings.Join(inputTypes, ","), in.Type)
		}
		if strings.TrimSpace(in.ID) == "" {
			return fmt.Errorf("config: input %d: id is required", i)
		}
		if seen[in.Type+"\x00"+in.ID] {
			return fmt.Errorf("config: duplicated input %s %s", in.Type, in.ID)
		}
		seen[in.Type+"\x00"+in.ID] = true

		if len(in.Outputs) == 0 {
			return fmt.Errorf("config: input %s: no outputs", in.ID)
		}
		for _, out := range in.Outputs {
			if out.Type != OutputDuckDB {
				return fmt.Errorf("config: input %s: output type must be %s, got %q", in.ID, OutputDuckDB, out.Type)
			}
		}
		if err := in.DecodeConfig().Validate(); err != nil {
			return fmt.Errorf("config: input %s: %w", in.ID, err)
		}
		if _, err := in.Filter(); err != nil {
			return fmt.Errorf("config: input %s: %w", in.ID, err)
		}
	}
	return nil
}

// Input returns the input with the given type and id.
func (c *Config) Input(typ, id string) (*Input, bool) {
	for _, in := range c.Inputs {
		if in.Type == typ && in.ID == id {
			return in, true
		}
	}
	return nil, false
}

// Raw returns the configuration document with secret references unresolved.
func (c *Config) Raw() string { return c.raw }

// DecodeConfig returns the decoding settings of the input.
func (in *Input) DecodeConfig() ingest.DecodeConfig {
	return ingest.DecodeConfig{
		Delimiter: in.Delimiter,
		Multiline: in.Multiline,
		JSON: ingest.JSONConfig{
			Mode:        in.JSONContentType,
			ExpandField: in.ExpandEventListFromField,
		},
	}
}

// Filter compiles the include and exclude rules. It returns nil when the
// input has none.
func (in *Input) Filter() (*shipper.Filter, error) {
	return shipper.NewFilter(in.Include, in.Exclude)
}

// Destination returns the delivery settings of the input's output.
func (in *Input) Destination() shipper.Destination {
	var args OutputArgs
	if len(in.Outputs) > 0 {
		args = in.Outputs[0].Args
	}
	namespace := args.Namespace
	if namespace == "" {
		namespace = model.DefaultNamespace
	}
	return shipper.Destination{
		Dataset:          args.Dataset,
		Namespace:        namespace,
		Tags:             in.Tags,
		IntegrationScope: args.IntegrationScope,
	}
}

// BatchSize returns the configured bulk size, or 0 for the default.
func (in *Input) BatchSize() int {
	if len(in.Outputs) == 0 {
		return 0
	}
	return in.Outputs[0].Args.BatchMaxActions
}
