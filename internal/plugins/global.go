package plugins

import (
	"sync"

	"github.com/wharfd/wharfd/internal/logger"
)

// Factory builds a plugin's Descriptor. Plugins register a Factory from
// their own init() function so the binary that imports the plugin package
// gets the plugin wired in automatically, with no runtime module discovery
// or shared-object loading (spec §9 explicitly replaces dynamic import of
// plugin modules with compile-time registration).
type Factory func() *Descriptor

var (
	globalMu      sync.RWMutex
	globalFactory = map[string]Factory{}
)

// RegisterFactory adds a plugin factory to the global compile-time table.
// Call from an init() function in the plugin's own package:
//
//	func init() {
//	    plugins.RegisterFactory("authn", NewDescriptor)
//	}
func RegisterFactory(name string, factory Factory) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if _, exists := globalFactory[name]; exists {
		logger.Plugins().Warn().Str("plugin", name).Msg("factory already registered, overwriting")
	}
	globalFactory[name] = factory
}

// BuildAll instantiates every globally registered factory's descriptor. The
// runtime calls this once at boot, then Register()s each result with a
// Registry before calling Init.
func BuildAll() []*Descriptor {
	globalMu.RLock()
	defer globalMu.RUnlock()
	names := sortedFactoryNames()
	out := make([]*Descriptor, 0, len(names))
	for _, name := range names {
		out = append(out, globalFactory[name]())
	}
	return out
}

func sortedFactoryNames() []string {
	names := make([]string, 0, len(globalFactory))
	for name := range globalFactory {
		names = append(names, name)
	}
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j-1] > names[j]; j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}
	return names
}
