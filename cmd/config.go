package cmd

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/nuts-foundation/ehrbridge/component/destination"
	"github.com/nuts-foundation/ehrbridge/component/pipeline"
	"github.com/nuts-foundation/ehrbridge/component/source"
	"github.com/nuts-foundation/ehrbridge/component/terminology"
	"github.com/nuts-foundation/ehrbridge/lib/httpauth"
	"github.com/nuts-foundation/ehrbridge/lib/logging"
	"github.com/nuts-foundation/ehrbridge/lib/statestore"
	pkgerrors "github.com/pkg/errors"
)

// DefaultConfigFile is loaded if it exists and no other config file is specified.
const DefaultConfigFile = "config/ehrbridge.yml"

const envPrefix = "EHRB_"

type Config struct {
	// DataDir holds the credentials, handles and artifacts.
	DataDir     string                 `koanf:"datadir"`
	Log         logging.Config         `koanf:"log"`
	Source      source.Config          `koanf:"source"`
	Terminology terminology.Config     `koanf:"terminology"`
	Destination destination.Config     `koanf:"destination"`
	Auth        httpauth.OAuth2Config  `koanf:"auth"`
	State       statestore.Config      `koanf:"state"`
	Explore     pipeline.ExploreConfig `koanf:"explore"`
}

func DefaultConfig() Config {
	return Config{
		DataDir:     "data",
		Log:         logging.DefaultConfig(),
		Source:      source.DefaultConfig(),
		Terminology: terminology.DefaultConfig(),
		Destination: destination.DefaultConfig(),
		Auth: httpauth.OAuth2Config{
			TokenEndpoint: "https://in-info-web20.luddy.indianapolis.iu.edu/oauth2/default/token",
		},
		State:   statestore.DefaultConfig(),
		Explore: pipeline.DefaultExploreConfig(),
	}
}

// LoadConfig loads the configuration from (in increasing precedence) the defaults, the YAML config file and
// EHRB_ prefixed environment variables, e.g. EHRB_DESTINATION_FHIRBASEURL.
// If configFile is empty, DefaultConfigFile is loaded when present.
func LoadConfig(configFile string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return Config{}, pkgerrors.Wrap(err, "failed to load default config")
	}

	if configFile == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			configFile = DefaultConfigFile
		} else if !errors.Is(err, fs.ErrNotExist) {
			return Config{}, pkgerrors.Wrap(err, "failed to stat config file")
		}
	}
	if configFile != "" {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return Config{}, pkgerrors.Wrapf(err, "failed to load config file %s", configFile)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".")
	}), nil); err != nil {
		return Config{}, pkgerrors.Wrap(err, "failed to load environment variables")
	}

	var config Config
	if err := k.UnmarshalWithConf("", &config, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, pkgerrors.Wrap(err, "failed to unmarshal config")
	}
	return config, nil
}
