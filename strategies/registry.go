package strategies

import (
	"os"
	"sort"
	"strings"

	"github.com/gomlx/exceptions"
)

// Constructor takes a variant-specific config string (optionally empty) and the
// injected options, and returns a Strategy in the Configured state.
type Constructor func(config string, opts Options) (Strategy, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register a strategy variant under the given name, with a constructor that
// takes the variant-specific part of the configuration string.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// Registered returns the names of all registered strategy variants, sorted.
func Registered() []string {
	names := make([]string, 0, len(registeredConstructors))
	for name := range registeredConstructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultConfig is the strategy configuration to use if set and the environment
// variable is not. See NewWithConfig for the format.
var DefaultConfig string

// GRADFLOW_STRATEGY is the environment variable with the default strategy
// configuration.
//
// The format of the config is "<strategy_name>:<strategy_configuration>".
// "<strategy_name>" is the name of a registered variant (e.g.: "single") and
// "<strategy_configuration>" is variant specific (e.g.: for the single-device
// variant, the device to bind, as in "single:cuda:0").
const GRADFLOW_STRATEGY = "GRADFLOW_STRATEGY"

// New returns a strategy built from the default configuration:
//
// 1. The environment GRADFLOW_STRATEGY is used as configuration if set.
// 2. Next the variable DefaultConfig is used as configuration if set.
// 3. The first registered variant is used with an empty configuration.
//
// It panics if no variant was registered.
func New(opts Options) (Strategy, error) {
	config, found := os.LookupEnv(GRADFLOW_STRATEGY)
	if found {
		return NewWithConfig(config, opts)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig, opts)
	}
	return NewWithConfig("", opts)
}

// NewWithConfig builds a strategy from a "<strategy_name>:<strategy_configuration>"
// string. It panics if no variant was registered, or if the named variant is
// unknown; construction failures of a known variant are returned as errors.
func NewWithConfig(config string, opts Options) (Strategy, error) {
	if len(registeredConstructors) == 0 {
		exceptions.Panicf(`no registered strategy variants -- maybe import the single-device one with import _ "github.com/gradflow/gradflow/strategies/singledevice"?`)
	}
	name := firstRegistered
	variantConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		name = config[:idx]
		variantConfig = config[idx+1:]
	} else if config != "" {
		// A bare name with no variant configuration.
		name = config
		variantConfig = ""
	}
	constructor, found := registeredConstructors[name]
	if !found {
		exceptions.Panicf("can't find strategy variant %q for configuration %q given", name, config)
	}
	return constructor(variantConfig, opts)
}
