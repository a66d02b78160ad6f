package source

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/packsmith/packsmith/internal/download"
)

// JSONChannelProvider fetches channel documents: the repository list plus
// name-map, rename and trust-anchor overrides a channel publishes.
type JSONChannelProvider struct {
	fetcher Fetcher
}

func NewJSONChannelProvider(fetcher Fetcher) *JSONChannelProvider {
	return &JSONChannelProvider{fetcher: fetcher}
}

type channelDocument struct {
	Repositories    []string            `json:"repositories"`
	PackageNameMap  map[string]string   `json:"package_name_map"`
	RenamedPackages map[string]string   `json:"renamed_packages"`
	Certs           map[string][]string `json:"certs"`
}

func (p *JSONChannelProvider) FetchChannel(ctx context.Context, url string) (*Channel, error) {
	data, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	if err := validateDocument(compiledChannelSchema, data, "channel", url); err != nil {
		return nil, &download.SourceError{URL: url, Err: err}
	}

	var doc channelDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &download.SourceError{URL: url, Err: fmt.Errorf("decoding channel document: %w", err)}
	}

	ch := &Channel{
		Repositories:    doc.Repositories,
		NameMap:         doc.PackageNameMap,
		RenamedPackages: doc.RenamedPackages,
		TrustAnchors:    make(map[string]TrustAnchor, len(doc.Certs)),
	}
	for domain, pair := range doc.Certs {
		// The schema pins each entry to [hash, url].
		ch.TrustAnchors[domain] = TrustAnchor{Hash: pair[0], URL: pair[1]}
	}
	return ch, nil
}
