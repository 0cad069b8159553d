// Package publication binds one provider adapter to one series context for
// the duration of a single monitoring or download pass.
package publication

import (
	"context"
	"fmt"

	"github.com/hibiki-app/hibiki-go/internal/downloader/providers"
	"github.com/hibiki-app/hibiki-go/internal/models"
)

// Publication is a short-lived façade over a provider adapter scoped to one
// series. It is created per operation and discarded afterwards; it holds no
// cross-operation mutable state.
type Publication struct {
	adapter  models.Adapter
	seriesID string
}

// Open binds the adapter registered for providerID to the given series.
func Open(providerID, seriesID string) (*Publication, error) {
	adapter, ok := providers.Get(providerID)
	if !ok {
		return nil, fmt.Errorf("provider '%s' not found", providerID)
	}
	return &Publication{adapter: adapter, seriesID: seriesID}, nil
}

// Provider returns the bound provider's identity.
func (p *Publication) Provider() models.ProviderInfo {
	return p.adapter.Info()
}

// SeriesID returns the bound series identifier.
func (p *Publication) SeriesID() string {
	return p.seriesID
}

// SeriesInfo fetches the current state of the bound series from the source.
func (p *Publication) SeriesInfo(ctx context.Context) (*models.Series, error) {
	return p.adapter.ResolveSeries(ctx, p.seriesID)
}

// UnitURLs resolves the transfer locations for one unit of the bound series.
func (p *Publication) UnitURLs(ctx context.Context, unit models.ContentUnit) (models.DownloadURLs, error) {
	return p.adapter.ResolveDownloadURLs(ctx, unit)
}
