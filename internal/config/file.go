package config

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// MonitorElement is the child of the environment XML root that carries
// session settings.
const MonitorElement = "_Monitor"

// Load builds the effective configuration, lowest precedence first:
// defaults, YAML file, flags and their env vars, the env XML _Monitor
// element, then the NO_BT / QUICK_ABORT environment variables.
func Load(c *cli.Context) (*Config, error) {
	cfg := DefaultConfig()
	if path := c.String(ConfigFileFlag.Name); path != "" {
		if err := LoadYAML(path, cfg); err != nil {
			return nil, err
		}
	}
	ApplyFlags(c, cfg)
	if err := finish(cfg, os.LookupEnv, runtime.GOOS); err != nil {
		return nil, err
	}
	return cfg, nil
}

func finish(cfg *Config, lookup func(string) (string, bool), goos string) error {
	cfg.TestEnv = EnsureXMLSuffix(cfg.TestEnv)
	cfg.TestSuite = EnsureXMLSuffix(cfg.TestSuite)

	if _, err := ApplyMonitorXML(cfg, cfg.TestEnv); err != nil {
		return err
	}
	cfg.TestSuite = EnsureXMLSuffix(cfg.TestSuite)

	ApplyEnv(cfg, lookup, goos)
	applyLimits(cfg, goos)
	return Validate(cfg)
}

// LoadYAML overlays the YAML file at path onto cfg.
func LoadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ConfigFile = path
	return nil
}

type xmlElement struct {
	XMLName  xml.Name
	Text     string       `xml:",chardata"`
	Children []xmlElement `xml:",any"`
}

type monitorSetter func(cfg *Config, value string) error

// monitorSettings maps _Monitor child tags (with '-' read as '_') to fields.
var monitorSettings = map[string]monitorSetter{
	"runner":                   setString(func(c *Config) *string { return &c.Runner }),
	"testEnv":                  setString(func(c *Config) *string { return &c.TestEnv }),
	"testSuite":                setString(func(c *Config) *string { return &c.TestSuite }),
	"outputPrefix":             setString(func(c *Config) *string { return &c.OutputPrefix }),
	"wd":                       setString(func(c *Config) *string { return &c.WorkingDir }),
	"procdump":                 setString(func(c *Config) *string { return &c.Procdump }),
	"loop":                     setInt(func(c *Config) *int { return &c.Loop }),
	"maxConsecutiveCrashes":    setInt(func(c *Config) *int { return &c.MaxConsecutiveCrashes }),
	"maxCrashes":               setInt(func(c *Config) *int { return &c.MaxCrashes }),
	"maxConsecutiveTimeout":    setInt(func(c *Config) *int { return &c.MaxConsecutiveTimeout }),
	"maxAccumulatedTimeout":    setInt(func(c *Config) *int { return &c.MaxAccumulatedTimeout }),
	"maxConsecutiveFailure":    setInt(func(c *Config) *int { return &c.MaxConsecutiveFailure }),
	"port":                     setInt(func(c *Config) *int { return &c.Port }),
	"maxPortScan":              setInt(func(c *Config) *int { return &c.MaxPortScan }),
	"timeoutBeforeInitialized": setSeconds(func(c *Config) *time.Duration { return &c.InitTimeout }),
	"timeout":                  setMinutes(func(c *Config) *time.Duration { return &c.CaseTimeout }),
	"NO_BT":                    setBool(func(c *Config) *bool { return &c.NoBacktrace }),
	"fail_norun":               setBool(func(c *Config) *bool { return &c.FailNoRun }),
	"QUICK_ABORT":              setBool(func(c *Config) *bool { return &c.QuickAbort }),
	"fallback":                 setBool(func(c *Config) *bool { return &c.Fallback }),
}

// ApplyMonitorXML overlays the _Monitor element of the environment XML at
// path onto cfg and returns the setting names it applied. A missing file is
// not an error; the runner reports it. Unknown tags are ignored.
func ApplyMonitorXML(cfg *Config, path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read env %s: %w", path, err)
	}

	var root xmlElement
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse env %s: %w", path, err)
	}

	var applied []string
	for _, section := range root.Children {
		if section.XMLName.Local != MonitorElement {
			continue
		}
		for _, el := range section.Children {
			name := strings.ReplaceAll(el.XMLName.Local, "-", "_")
			set, ok := monitorSettings[name]
			if !ok {
				continue
			}
			if err := set(cfg, strings.TrimSpace(el.Text)); err != nil {
				return applied, ValidationError{Field: MonitorElement + "." + name, Message: err.Error()}
			}
			applied = append(applied, name)
		}
		break
	}
	return applied, nil
}

// ApplyEnv applies the NO_BT and QUICK_ABORT environment overrides and, on
// windows, a PROCDUMP fallback for the dump monitor.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool), goos string) {
	if v, ok := lookup("NO_BT"); ok {
		cfg.NoBacktrace = ParseBool(v)
	}
	if v, ok := lookup("QUICK_ABORT"); ok {
		cfg.QuickAbort = ParseBool(v)
	}
	if goos == "windows" && cfg.Procdump == "" {
		if v, ok := lookup("PROCDUMP"); ok && v != "" {
			if !strings.Contains(v, "-e") {
				v += " -e"
			}
			cfg.Procdump = v
		}
	}
}

// ParseBool reports whether v is TRUE, T or 1, ignoring case.
func ParseBool(v string) bool {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "TRUE", "T", "1":
		return true
	}
	return false
}

var xmlExt = regexp.MustCompile(`(?i)\.xml$`)

// EnsureXMLSuffix appends ".xml" to name unless it already ends with it
// (any case). An empty name is returned unchanged.
func EnsureXMLSuffix(name string) string {
	if name == "" || xmlExt.MatchString(name) {
		return name
	}
	return name + ".xml"
}

func setString(field func(*Config) *string) monitorSetter {
	return func(cfg *Config, v string) error {
		*field(cfg) = v
		return nil
	}
}

func setInt(field func(*Config) *int) monitorSetter {
	return func(cfg *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("not an integer: %q", v)
		}
		*field(cfg) = n
		return nil
	}
}

func setBool(field func(*Config) *bool) monitorSetter {
	return func(cfg *Config, v string) error {
		*field(cfg) = ParseBool(v)
		return nil
	}
}

func setSeconds(field func(*Config) *time.Duration) monitorSetter {
	return func(cfg *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("not a number of seconds: %q", v)
		}
		*field(cfg) = time.Duration(n) * time.Second
		return nil
	}
}

func setMinutes(field func(*Config) *time.Duration) monitorSetter {
	return func(cfg *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("not a number of minutes: %q", v)
		}
		*field(cfg) = time.Duration(f * float64(time.Minute))
		return nil
	}
}
