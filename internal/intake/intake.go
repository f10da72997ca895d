// Package intake watches an external photo source for new invoice assets and
// groups shots taken close together into one logical document.
package intake

import (
	"context"
	"sort"
	"time"
)

// Asset is one file offered by a source: a photo or a PDF.
type Asset struct {
	ID           string    `json:"id"`
	Filename     string    `json:"filename"`
	MimeType     string    `json:"mime_type"`
	CreationTime time.Time `json:"creation_time"`
}

// AuthStatus describes the health of a source's credentials.
type AuthStatus string

const (
	AuthOK       AuthStatus = "ok"
	AuthExpiring AuthStatus = "expiring"
	AuthExpired  AuthStatus = "expired"
	AuthMissing  AuthStatus = "missing"
)

// AuthHealth is the result of a credential check.
type AuthHealth struct {
	Status  AuthStatus `json:"status"`
	Message string     `json:"message,omitempty"`
}

// Source is a place invoice assets arrive: a cloud folder, a photo library,
// a local directory an email forwarder drops attachments into.
type Source interface {
	// ListNewAssets returns assets not yet marked processed, oldest first.
	ListNewAssets(ctx context.Context) ([]Asset, error)
	// Download fetches the raw bytes of an asset.
	Download(ctx context.Context, asset Asset) ([]byte, error)
	// MarkProcessed records that an asset has been handled, successfully
	// or not, so it is never offered again.
	MarkProcessed(id string) error
	// UnmarkProcessed releases an asset so the next listing offers it again.
	UnmarkProcessed(id string) error
	// AuthHealth checks the source credentials.
	AuthHealth(ctx context.Context) (AuthHealth, error)
}

// GroupByTime clusters assets into documents: a multi page invoice is
// photographed as a burst, so shots within the window belong together. The
// gap is measured against the newest shot already in the group, letting long
// bursts chain. A window of zero or less disables grouping and every asset
// becomes its own document.
func GroupByTime(assets []Asset, window time.Duration) [][]Asset {
	if len(assets) == 0 {
		return nil
	}

	sorted := make([]Asset, len(assets))
	copy(sorted, assets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreationTime.Before(sorted[j].CreationTime)
	})

	if window <= 0 {
		groups := make([][]Asset, 0, len(sorted))
		for _, asset := range sorted {
			groups = append(groups, []Asset{asset})
		}
		return groups
	}

	var groups [][]Asset
	var current []Asset

	for _, asset := range sorted {
		if len(current) > 0 && chains(current[len(current)-1], asset, window) {
			current = append(current, asset)
			continue
		}
		if len(current) > 0 {
			groups = append(groups, current)
		}
		current = []Asset{asset}
	}
	groups = append(groups, current)

	return groups
}

// chains reports whether next belongs to the same burst as prev. Assets
// without a usable timestamp never chain.
func chains(prev, next Asset, window time.Duration) bool {
	if prev.CreationTime.IsZero() || next.CreationTime.IsZero() {
		return false
	}
	return next.CreationTime.Sub(prev.CreationTime) <= window
}
