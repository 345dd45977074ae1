package backtest

import (
	"encoding/json"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/moznion/go-optional"
	"gopkg.in/yaml.v3"

	"github.com/quantforge/backsim/internal/backtest/commission"
	"github.com/quantforge/backsim/internal/types"
	"github.com/quantforge/backsim/pkg/errors"
)

// Config drives one backtest run. Risk settings default when omitted so a
// minimal config only carries the initial capital.
type Config struct {
	InitialCapital float64            `yaml:"initial_capital" json:"initial_capital" validate:"gt=0" jsonschema:"title=Initial Capital,description=Starting capital for the backtest in USD,minimum=0"`
	Broker         commission.Broker  `yaml:"broker" json:"broker" jsonschema:"title=Broker,description=The broker to use for commission calculations"`
	Risk           types.RiskSettings `yaml:"risk" json:"risk" jsonschema:"title=Risk Settings,description=Account level risk limits"`
	// AnnualizationFactor overrides the timeframe's bars-per-year table when
	// positive, e.g. 365 for markets without a trading calendar.
	AnnualizationFactor float64                    `yaml:"annualization_factor,omitempty" json:"annualization_factor,omitempty" validate:"gte=0" jsonschema:"title=Annualization Factor,description=Bars per year used for the Sharpe ratio; derived from the timeframe when omitted"`
	StartTime           optional.Option[time.Time] `yaml:"start_time" json:"start_time" jsonschema:"title=Start Time,description=Optional start time for the backtest period"`
	EndTime             optional.Option[time.Time] `yaml:"end_time" json:"end_time" jsonschema:"title=End Time,description=Optional end time for the backtest period"`
}

// UnmarshalYAML implements custom unmarshaling for Config.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type config struct {
		InitialCapital float64             `yaml:"initial_capital"`
		Broker         commission.Broker   `yaml:"broker"`
		Risk           *types.RiskSettings `yaml:"risk"`
		Annualization  float64             `yaml:"annualization_factor"`
		StartTime      *time.Time          `yaml:"start_time"`
		EndTime        *time.Time          `yaml:"end_time"`
	}

	var raw config
	if err := unmarshal(&raw); err != nil {
		return err
	}

	c.InitialCapital = raw.InitialCapital
	c.Broker = raw.Broker
	c.AnnualizationFactor = raw.Annualization

	if raw.Risk != nil {
		c.Risk = *raw.Risk
	} else {
		c.Risk = types.DefaultRiskSettings()
	}

	if raw.StartTime != nil {
		c.StartTime = optional.Some(*raw.StartTime)
	}

	if raw.EndTime != nil {
		c.EndTime = optional.Some(*raw.EndTime)
	}

	return nil
}

// Validate checks the config invariants.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeBacktestConfigError, "invalid backtest config", err)
	}

	if err := c.Risk.Validate(); err != nil {
		return err
	}

	start, startErr := c.StartTime.Take()
	end, endErr := c.EndTime.Take()
	if startErr == nil && endErr == nil && end.Before(start) {
		return errors.New(errors.ErrCodeBacktestConfigError, "end_time is before start_time")
	}

	return nil
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(errors.ErrCodeBacktestConfigError, err, "failed to read config %s", path)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeBacktestConfigError, "failed to parse config", err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

// GenerateSchema generates a JSON schema for the Config.
func (c *Config) GenerateSchema() (*jsonschema.Schema, error) {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t.String() == "optional.Option[time.Time]" {
				return &jsonschema.Schema{
					Type:   "string",
					Format: "date-time",
				}
			}
			if strings.Contains(t.String(), "commission.Broker") {
				return &jsonschema.Schema{
					Type: "string",
					Enum: commission.AllBrokers,
				}
			}
			return nil
		},
	}

	schema := reflector.Reflect(c)

	schema.Title = "backtest-config"
	schema.Description = "Configuration schema for the backtest engine"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema, nil
}

// GenerateSchemaJSON generates a JSON schema string for the Config.
func (c *Config) GenerateSchemaJSON() (string, error) {
	schema, err := c.GenerateSchema()
	if err != nil {
		return "", err
	}

	schemaBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", err
	}

	return string(schemaBytes), nil
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		InitialCapital: 10000,
		Broker:         commission.BrokerZero,
		Risk:           types.DefaultRiskSettings(),
		StartTime:      optional.None[time.Time](),
		EndTime:        optional.None[time.Time](),
	}
}
