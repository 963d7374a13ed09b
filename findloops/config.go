package main

import (
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/google/go-findloops/pkg/loops"
)

// config holds option defaults read from a TOML file, e.g.
//
//	min_length = 4
//	max_loops = 50
//	basic_blocks = true
//
// Unset keys leave the built-in defaults alone.
type config struct {
	MinLength      *int  `toml:"min_length"`
	MinOccurrences *int  `toml:"min_occurrences"`
	MaxLoops       *int  `toml:"max_loops"`
	Workers        *int  `toml:"workers"`
	BasicBlocks    *bool `toml:"basic_blocks"`
	Naive          *bool `toml:"naive"`
	Measure        *bool `toml:"measure"`
}

func loadConfig(path string) (*config, error) {
	cfg := &config{}
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		sort.Strings(keys)
		return nil, errors.Errorf("config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

func (c *config) apply(opts *loops.Options) {
	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	setBool := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	setInt(&opts.MinLength, c.MinLength)
	setInt(&opts.MinOccurrences, c.MinOccurrences)
	setInt(&opts.MaxLoops, c.MaxLoops)
	setInt(&opts.Workers, c.Workers)
	setBool(&opts.BasicBlocks, c.BasicBlocks)
	setBool(&opts.Naive, c.Naive)
	setBool(&opts.Measure, c.Measure)
}
