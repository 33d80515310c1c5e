package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/protect-init/pkg/log"
)

// Origin records where a resolved setting value came from
type Origin string

const (
	OriginDefault   Origin = "default"
	OriginEnv       Origin = "env"
	OriginSecret    Origin = "secret"
	OriginInstaller Origin = "installer"
)

// Setting keys referenced directly by the provisioning workflow
const (
	KeyDBType          = "db-type"
	KeyDBDriver        = "db-driver"
	KeyDBHostname      = "db-hostname"
	KeyDBPort          = "db-port"
	KeyDBName          = "db-name"
	KeyDBAdminUsername = "db-admin-username"
	KeyDBAdminPassword = "db-admin-password"
	KeyDBUserUsername  = "db-user-username"
	KeyDBUserPassword  = "db-user-password"
	KeyProductGUID     = "product-guid"
)

// LookupFunc looks up an environment variable, like os.LookupEnv
type LookupFunc func(key string) (string, bool)

type definition struct {
	key   string
	value *string
}

func str(s string) *string { return &s }

// definitions is the fixed table of recognized keys and their built-in
// defaults. Order is significant: installer flags are emitted in this order.
var definitions = []definition{
	{"locale", nil},
	{"license-key", nil},
	{"server-port", nil},
	{"console-port", nil},
	{"server-root-password", str("eraadmin")},
	{KeyDBType, str("MySQL Server")},
	{KeyDBDriver, str("MySQL ODBC Unicode Driver")},
	{KeyDBHostname, str("mysql")},
	{KeyDBPort, str("3306")},
	{KeyDBName, str("era_db")},
	{KeyDBAdminUsername, nil},
	{KeyDBAdminPassword, nil},
	{KeyDBUserUsername, str("era_db_user")},
	{KeyDBUserPassword, str("eraadmin")},
	{"cert-hostname", str("esmc.localhost")},
	{"skip-cert", nil},
	{"server-cert-path", nil},
	{"cert-auth-path", nil},
	{"server-cert-password", nil},
	{"peer-cert-password", nil},
	{"cert-auth-password", nil},
	{"cert-auth-common-name", nil},
	{"cert-organizational-unit", nil},
	{"cert-organization", nil},
	{"cert-locality", nil},
	{"cert-state", nil},
	{"cert-country", nil},
	{"cert-validity", nil},
	{"cert-validity-unit", nil},
	{"enable-imp-program", nil},
	{"disable-imp-program", nil},
	{"ad-server", nil},
	{"ad-user-name", nil},
	{"ad-user-password", nil},
	{"ad-cdn-include", nil},
	{KeyProductGUID, nil},
}

type entry struct {
	value  *string
	origin Origin
}

// Settings is the resolved, read-only configuration for one provisioning run.
// The zero value has no keys; use Defaults or Resolve.
type Settings struct {
	entries map[string]entry
}

// Keys returns every recognized setting key in table order
func Keys() []string {
	keys := make([]string, len(definitions))
	for i, d := range definitions {
		keys[i] = d.key
	}
	return keys
}

// IsKnown reports whether key is a recognized setting
func IsKnown(key string) bool {
	for _, d := range definitions {
		if d.key == key {
			return true
		}
	}
	return false
}

// EnvName returns the environment variable that overrides key
func EnvName(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// Defaults returns the built-in settings with no overrides applied
func Defaults() Settings {
	entries := make(map[string]entry, len(definitions))
	for _, d := range definitions {
		entries[d.key] = entry{value: d.value, origin: OriginDefault}
	}
	return Settings{entries: entries}
}

// Resolve merges built-in defaults, environment variables and secret files.
// Secret files take precedence over the environment, which takes precedence
// over defaults. A missing secrets directory, or a missing file inside it, is
// not an error.
func Resolve(lookup LookupFunc, secretsDir string) (Settings, error) {
	logger := log.WithComponent("settings")
	s := Defaults()

	if lookup != nil {
		for _, d := range definitions {
			if v, ok := lookup(EnvName(d.key)); ok {
				s.entries[d.key] = entry{value: &v, origin: OriginEnv}
				logger.Debug().Str("key", d.key).Str("origin", string(OriginEnv)).Msg("Setting overridden")
			}
		}
	}

	if secretsDir == "" {
		return s, nil
	}

	info, err := os.Stat(secretsDir)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to stat secrets directory: %w", err)
	}
	if !info.IsDir() {
		logger.Warn().Str("path", secretsDir).Msg("Secrets path is not a directory, ignoring")
		return s, nil
	}

	for _, d := range definitions {
		data, err := os.ReadFile(filepath.Join(secretsDir, d.key))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return Settings{}, fmt.Errorf("failed to read secret %s: %w", d.key, err)
		}
		v := string(data)
		s.entries[d.key] = entry{value: &v, origin: OriginSecret}
		logger.Debug().Str("key", d.key).Str("origin", string(OriginSecret)).Msg("Setting overridden")
	}

	return s, nil
}

// Get returns the value for key and whether it is non-null
func (s Settings) Get(key string) (string, bool) {
	e, ok := s.entries[key]
	if !ok || e.value == nil {
		return "", false
	}
	return *e.value, true
}

// Value returns the value for key, or "" when it is null
func (s Settings) Value(key string) string {
	v, _ := s.Get(key)
	return v
}

// Present reports whether key has a non-empty value
func (s Settings) Present(key string) bool {
	v, ok := s.Get(key)
	return ok && v != ""
}

// Origin returns where the value for key came from
func (s Settings) Origin(key string) Origin {
	return s.entries[key].origin
}

// With returns a copy of s with key set to value. s is left unchanged.
func (s Settings) With(key, value string, origin Origin) Settings {
	entries := make(map[string]entry, len(s.entries)+1)
	for k, e := range s.entries {
		entries[k] = e
	}
	entries[key] = entry{value: &value, origin: origin}
	return Settings{entries: entries}
}

// InstallerFlags translates every setting into installer command-line flags.
// "1" and "true" become a bare flag, "0" and "false" are dropped, any other
// non-empty value becomes "--key value", and null or empty values are
// omitted.
func (s Settings) InstallerFlags() []string {
	var flags []string
	for _, d := range definitions {
		v, ok := s.Get(d.key)
		if !ok {
			continue
		}

		switch v {
		case "1", "true":
			flags = append(flags, "--"+d.key)
		case "0", "false", "":
		default:
			flags = append(flags, "--"+d.key, v)
		}
	}
	return flags
}

// DatabaseFlags returns the connection flags shared by the custom actions
// that talk to the database.
func (s Settings) DatabaseFlags() []string {
	keys := []string{
		KeyDBType,
		KeyDBDriver,
		KeyDBHostname,
		KeyDBPort,
		KeyDBName,
		KeyDBUserUsername,
		KeyDBUserPassword,
	}

	flags := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		flags = append(flags, "--"+k, s.Value(k))
	}
	return flags
}

// AdminFlags returns the database admin credential flags, or nil unless both
// the admin username and password are set.
func (s Settings) AdminFlags() []string {
	if !s.Present(KeyDBAdminUsername) || !s.Present(KeyDBAdminPassword) {
		return nil
	}
	return []string{
		"--" + KeyDBAdminUsername, s.Value(KeyDBAdminUsername),
		"--" + KeyDBAdminPassword, s.Value(KeyDBAdminPassword),
	}
}
