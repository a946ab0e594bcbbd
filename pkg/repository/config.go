package repository

import (
	"fmt"
	"regexp"
	"time"

	"github.com/ammar0144/storekit/pkg/criteria"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// Mutation is a write kind that may clear the repository cache
type Mutation string

const (
	MutationCreate Mutation = "create"
	MutationUpdate Mutation = "update"
	MutationDelete Mutation = "delete"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Config holds per-repository settings
type Config struct {
	// ID prefixes event names and scopes cache entries. Defaults to the
	// table name.
	ID string `json:"id" yaml:"id"`
	// Searchable maps columns used by FullSearch to their comparison
	Searchable map[string]criteria.Operator `json:"searchable" yaml:"searchable"`
	Cache      CacheConfig                  `json:"cache" yaml:"cache"`
}

// CacheConfig controls read caching and event-driven invalidation
type CacheConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	Lifetime     time.Duration `json:"lifetime" yaml:"lifetime"`
	ClearEnabled bool          `json:"clear_enabled" yaml:"clear_enabled"`
	ClearOn      []Mutation    `json:"clear_on" yaml:"clear_on"`
}

// DefaultConfig returns a configuration with caching off and invalidation
// on for every mutation kind
func DefaultConfig() Config {
	return Config{
		Cache: CacheConfig{
			Lifetime:     30 * time.Minute,
			ClearEnabled: true,
			ClearOn:      []Mutation{MutationCreate, MutationUpdate, MutationDelete},
		},
	}
}

// UnmarshalYAML decodes over DefaultConfig so omitted keys keep their
// defaults
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type plain Config
	out := plain(DefaultConfig())
	if err := value.Decode(&out); err != nil {
		return err
	}
	*c = Config(out)
	return nil
}

// Validate checks the configuration
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ID, validation.Required, validation.Match(idPattern)),
		validation.Field(&c.Searchable, validation.By(validateSearchable)),
		validation.Field(&c.Cache),
	)
}

// Validate checks the cache settings
func (c CacheConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Lifetime, validation.Min(time.Duration(0))),
		validation.Field(&c.ClearOn, validation.Each(validation.In(MutationCreate, MutationUpdate, MutationDelete))),
	)
}

func validateSearchable(value interface{}) error {
	fields, _ := value.(map[string]criteria.Operator)
	for field, op := range fields {
		if !criteria.ValidField(field) {
			return fmt.Errorf("invalid column %q", field)
		}
		if op == "" {
			continue
		}
		if _, err := criteria.ParseOperator(string(op)); err != nil {
			return err
		}
	}
	return nil
}

func (c CacheConfig) clearsOn(m Mutation) bool {
	for _, kind := range c.ClearOn {
		if kind == m {
			return true
		}
	}
	return false
}
