package defaults

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/professor93/grblctl/pkg/constants"
)

// Profile names.
const (
	ProfileCustom  = "custom"
	ProfileGeneric = "generic"
)

// BuildProfile is the profile compiled into the binary. Override it with
// -ldflags "-X github.com/professor93/grblctl/internal/defaults.BuildProfile=generic".
var BuildProfile = ProfileCustom

// ErrUnknownProfile is returned when a profile name is not registered.
var ErrUnknownProfile = errors.New("unknown defaults profile")

var (
	registryMu sync.RWMutex
	registry   = map[string]func() Profile{
		ProfileCustom:  Custom,
		ProfileGeneric: Generic,
	}

	validate = validator.New()
)

// Register adds a named profile constructor. It panics on duplicates, like
// database/sql.Register.
func Register(name string, fn func() Profile) {
	registryMu.Lock()
	defer registryMu.Unlock()

	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || fn == nil {
		panic("defaults: Register with empty name or nil constructor")
	}
	if _, dup := registry[name]; dup {
		panic("defaults: Register called twice for profile " + name)
	}
	registry[name] = fn
}

// Names returns the registered profile names in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the profile registered under name.
func Lookup(name string) (Profile, error) {
	registryMu.RLock()
	fn, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	registryMu.RUnlock()

	if !ok {
		return Profile{}, fmt.Errorf("%w: %q (known: %s)", ErrUnknownProfile, name, strings.Join(Names(), ", "))
	}
	return fn(), nil
}

// SelectedName resolves the active profile name: an explicit name wins, then
// the GRBLCTL_PROFILE environment variable, then BuildProfile.
func SelectedName(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(constants.EnvProfile); env != "" {
		return env
	}
	return BuildProfile
}

// Active returns the profile selected for this run.
func Active(explicit string) (Profile, error) {
	return Lookup(SelectedName(explicit))
}

// Validate checks the physical plausibility rules every profile must satisfy.
func Validate(p Profile) error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("profile %q: %w", p.Name, err)
	}
	for _, s := range p.Settings() {
		if err := s.Def.Check(s.Value); err != nil {
			return fmt.Errorf("profile %q: %w", p.Name, err)
		}
	}
	return nil
}
