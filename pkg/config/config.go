// Package config carries every tunable the tool used to bury in
// module-level constants: remote temp paths, the monkey seed range, poll
// timing, worker bounds and the optional report sink.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"

	"adbfleet/pkg/config/filestore"
)

var validate = validator.New()

type ADB struct {
	Path      string `yaml:"path"`
	Transport string `yaml:"transport" validate:"oneof=local ssh"`
	SSH       SSH    `yaml:"ssh"`
}

type SSH struct {
	Addr    string `yaml:"addr"`
	User    string `yaml:"user"`
	KeyFile string `yaml:"key_file"`
}

type Remote struct {
	HeapDumpPath   string `yaml:"heap_dump_path" validate:"required"`
	ScreenshotPath string `yaml:"screenshot_path" validate:"required"`
}

type Monkey struct {
	SeedMin int `yaml:"seed_min" validate:"gte=0"`
	SeedMax int `yaml:"seed_max" validate:"gtfield=SeedMin"`
	Events  int `yaml:"events" validate:"gt=0"`
}

type HeapDump struct {
	PollIntervalMS  int `yaml:"poll_interval_ms" validate:"gt=0"`
	PollMaxAttempts int `yaml:"poll_max_attempts" validate:"gt=0"`
	LocateRetries   int `yaml:"locate_retries" validate:"gte=0"`
}

// PollInterval returns the poll interval as a duration.
func (h HeapDump) PollInterval() time.Duration {
	return time.Duration(h.PollIntervalMS) * time.Millisecond
}

type Fleet struct {
	MaxWorkers int `yaml:"max_workers" validate:"gt=0"`
}

type Report struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic" validate:"required_with=Brokers"`
}

type Config struct {
	ADB      ADB      `yaml:"adb"`
	Remote   Remote   `yaml:"remote"`
	Monkey   Monkey   `yaml:"monkey"`
	HeapDump HeapDump `yaml:"heap_dump"`
	Fleet    Fleet    `yaml:"fleet"`
	Report   Report   `yaml:"report"`
}

// Default returns the built-in configuration; a config file overrides it
// field by field.
func Default() Config {
	return Config{
		ADB: ADB{Transport: "local"},
		Remote: Remote{
			HeapDumpPath:   "/sdcard/_adbfleet_hprof_tmp",
			ScreenshotPath: "/sdcard/_adbfleet_screenshot_tmp.png",
		},
		Monkey: Monkey{SeedMin: 10000, SeedMax: 100000, Events: 1000},
		HeapDump: HeapDump{
			PollIntervalMS:  500,
			PollMaxAttempts: 240,
			LocateRetries:   1,
		},
		Fleet: Fleet{MaxWorkers: 10},
	}
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.ADB.Transport == "ssh" && (c.ADB.SSH.Addr == "" || c.ADB.SSH.KeyFile == "") {
		return errors.New("invalid configuration: ssh transport needs addr and key_file")
	}
	return nil
}

// Load reads path over the defaults. A missing file is not an error when
// the path was not explicitly requested; the defaults stand.
func Load(path string, explicit bool) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, cfg.Validate()
		}
		return Config{}, err
	}
	if err := filestore.New(path).Load(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}
