// Package config holds the tunable thresholds of the shape system.
//
// None of the numbers are load-bearing for correctness: they trade memory for
// speed and can be changed per isolate, usually from a TOML file.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/multierr"
)

// Config is the root of the TOML document.
type Config struct {
	Heap        HeapConfig        `toml:"heap"`
	Properties  PropertiesConfig  `toml:"properties"`
	Descriptors DescriptorsConfig `toml:"descriptors"`
	Transitions TransitionsConfig `toml:"transitions"`
	Elements    ElementsConfig    `toml:"elements"`
	Log         LogConfig         `toml:"log"`
}

// HeapConfig bounds the cell budget of the default heap.
type HeapConfig struct {
	// MaxCells is the number of value cells the heap hands out before it
	// reports allocation failure. Zero means unlimited.
	MaxCells int `toml:"max_cells"`
}

// PropertiesConfig tunes the named property store.
type PropertiesConfig struct {
	// InObjectSlots is the slot budget of the default root shapes.
	InObjectSlots int `toml:"in_object_slots"`
	// MaxFastProperties is the field count at which an add normalizes the object.
	MaxFastProperties int `toml:"max_fast_properties"`
	// OverflowGrowth is the number of overflow slots added when the array is full.
	OverflowGrowth int `toml:"overflow_growth"`
	// DictionarySlack is added to the live count when sizing a new dictionary.
	DictionarySlack int `toml:"dictionary_slack"`
	// EnumRenumberRatio: enumeration indices are renumbered once
	// holes > live * ratio.
	EnumRenumberRatio float64 `toml:"enum_renumber_ratio"`
	// MaxEnumIndex forces renumbering when the next index would exceed it.
	MaxEnumIndex int `toml:"max_enum_index"`
	// FastifyAmortization is how many dictionary mutations per live property
	// must happen after a normalization before MaybeTransformToFast proceeds.
	FastifyAmortization int `toml:"fastify_amortization"`
}

// DescriptorsConfig tunes descriptor tables.
type DescriptorsConfig struct {
	MaxDescriptors int `toml:"max_descriptors"`
	// MinSlack is the smallest growth step of a full table.
	MinSlack int `toml:"min_slack"`
}

// TransitionsConfig bounds transition-graph fan-out.
type TransitionsConfig struct {
	MaxTransitions int `toml:"max_transitions"`
}

// ElementsConfig tunes the indexed element store.
type ElementsConfig struct {
	// MaxGap is the largest write distance past capacity that still grows a fast array.
	MaxGap int `toml:"max_gap"`
	// MinSparseCheckCapacity: below this capacity growth never goes to dictionary.
	MinSparseCheckCapacity int `toml:"min_sparse_check_capacity"`
	// DictionarySizeFactor: go to dictionary once factor*dictCost <= newCapacity.
	DictionarySizeFactor int `toml:"dictionary_size_factor"`
	// FastDensityFactor: leave dictionary once factor*dictCost >= length.
	FastDensityFactor int `toml:"fast_density_factor"`
	// SlowElementsIndexLimit: a dictionary conversion caused by a write at or
	// above this index marks the elements as permanently slow.
	SlowElementsIndexLimit int `toml:"slow_elements_index_limit"`
	// InitialCapacity of the first fast backing store.
	InitialCapacity int `toml:"initial_capacity"`
}

// LogConfig selects the zap logger built by NewLogger.
type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// Default returns the stock thresholds.
func Default() *Config {
	return &Config{
		Heap: HeapConfig{MaxCells: 0},
		Properties: PropertiesConfig{
			InObjectSlots:       4,
			MaxFastProperties:   128,
			OverflowGrowth:      3,
			DictionarySlack:     2,
			EnumRenumberRatio:   1.0,
			MaxEnumIndex:        1 << 24,
			FastifyAmortization: 1,
		},
		Descriptors: DescriptorsConfig{
			MaxDescriptors: 1020,
			MinSlack:       2,
		},
		Transitions: TransitionsConfig{
			MaxTransitions: 1536,
		},
		Elements: ElementsConfig{
			MaxGap:                 1024,
			MinSparseCheckCapacity: 500,
			DictionarySizeFactor:   3,
			FastDensityFactor:      2,
			SlowElementsIndexLimit: 1 << 18,
			InitialCapacity:        4,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads a TOML file on top of Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data on top of Default and validates the result.
// Unknown keys are rejected so that misspelled thresholds do not go unnoticed.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal renders cfg as TOML.
func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}

// Validate reports every out-of-range field at once.
func (c *Config) Validate() error {
	var err error
	positive := func(name string, v int) {
		if v <= 0 {
			err = multierr.Append(err, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	nonNegative := func(name string, v int) {
		if v < 0 {
			err = multierr.Append(err, fmt.Errorf("%s must not be negative, got %d", name, v))
		}
	}

	nonNegative("heap.max_cells", c.Heap.MaxCells)

	nonNegative("properties.in_object_slots", c.Properties.InObjectSlots)
	positive("properties.max_fast_properties", c.Properties.MaxFastProperties)
	positive("properties.overflow_growth", c.Properties.OverflowGrowth)
	nonNegative("properties.dictionary_slack", c.Properties.DictionarySlack)
	if c.Properties.EnumRenumberRatio <= 0 {
		err = multierr.Append(err, fmt.Errorf("properties.enum_renumber_ratio must be positive, got %g", c.Properties.EnumRenumberRatio))
	}
	positive("properties.max_enum_index", c.Properties.MaxEnumIndex)
	nonNegative("properties.fastify_amortization", c.Properties.FastifyAmortization)

	positive("descriptors.max_descriptors", c.Descriptors.MaxDescriptors)
	positive("descriptors.min_slack", c.Descriptors.MinSlack)
	if c.Properties.MaxFastProperties > c.Descriptors.MaxDescriptors {
		err = multierr.Append(err, fmt.Errorf("properties.max_fast_properties (%d) exceeds descriptors.max_descriptors (%d)",
			c.Properties.MaxFastProperties, c.Descriptors.MaxDescriptors))
	}

	positive("transitions.max_transitions", c.Transitions.MaxTransitions)

	positive("elements.max_gap", c.Elements.MaxGap)
	nonNegative("elements.min_sparse_check_capacity", c.Elements.MinSparseCheckCapacity)
	positive("elements.dictionary_size_factor", c.Elements.DictionarySizeFactor)
	positive("elements.fast_density_factor", c.Elements.FastDensityFactor)
	positive("elements.slow_elements_index_limit", c.Elements.SlowElementsIndexLimit)
	nonNegative("elements.initial_capacity", c.Elements.InitialCapacity)

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		err = multierr.Append(err, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	return err
}
