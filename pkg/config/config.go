// Package config loads and saves the library's tuning knobs: which
// decoding layers trace their work and how many unwind tables are kept
// cached.
package config

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".dwarfdec"
	configFile string = "config.yml"
)

// DefaultTableCacheSize is used when the config file sets no cache size.
const DefaultTableCacheSize = 128

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Log enables trace logging.
	Log bool `yaml:"log"`
	// LogOutput selects the layers that trace their work, as a comma
	// separated list of "frame", "expr" and "cfa".
	LogOutput string `yaml:"log-output"`

	// TableCacheSize is the number of built unwind tables kept in
	// memory. Zero means DefaultTableCacheSize.
	TableCacheSize *int `yaml:"table-cache-size,omitempty"`
}

// TableCacheCapacity returns the configured unwind table cache size.
func (c *Config) TableCacheCapacity() int {
	if c.TableCacheSize == nil || *c.TableCacheSize <= 0 {
		return DefaultTableCacheSize
	}
	return *c.TableCacheSize
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Printf("Error creating default config file: %v", err)
			return &Config{}
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Printf("Closing config file failed: %v.", err)
		}
	}()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		fmt.Printf("Unable to read config data: %v.", err)
		return &Config{}
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		fmt.Printf("Unable to decode config file: %v.", err)
		return &Config{}
	}

	return &c
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	// Rewind so the caller reads the contents just written, not EOF.
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("unable to rewind config file: %v", err)
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for the dwarfdec library tools.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Enable trace logging.
# log: true

# Layers that trace their work: frame, expr, cfa.
# log-output: frame,cfa

# Number of built unwind tables kept in memory.
# table-cache-size: 128
`)
	return err
}

func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(fname string) (string, error) {
	if configPath := os.Getenv("DWARFDEC_HOME"); configPath != "" {
		return path.Join(configPath, fname), nil
	}
	usr, err := user.Current()
	if err != nil {
		return "", err
	}
	return path.Join(usr.HomeDir, configDir, fname), nil
}
