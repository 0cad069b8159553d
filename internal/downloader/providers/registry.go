package providers

import (
	"fmt"

	"github.com/hibiki-app/hibiki-go/internal/models"
)

var registry = make(map[string]models.Adapter)

// Register adds a new provider adapter to the registry. It's called at startup.
func Register(a models.Adapter) {
	info := a.Info()
	if _, exists := registry[info.ID]; exists {
		// Panic is appropriate here as it's a developer error during setup.
		panic(fmt.Sprintf("provider with ID '%s' is already registered", info.ID))
	}
	registry[info.ID] = a
}

// Get returns a provider adapter by its ID.
func Get(id string) (models.Adapter, bool) {
	a, ok := registry[id]
	return a, ok
}

// GetAll returns a list of information for all registered providers.
func GetAll() []models.ProviderInfo {
	var providers []models.ProviderInfo
	for _, a := range registry {
		providers = append(providers, a.Info())
	}
	return providers
}

// UnregisterAll clears the registry. Used by tests.
func UnregisterAll() {
	registry = make(map[string]models.Adapter)
}
