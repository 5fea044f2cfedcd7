// Package enrich supplements award records with metadata from the federal
// grant registry. Lookups are cached for the lifetime of the enricher, so
// an award shared by many datasets is fetched once per run.
package enrich

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/sparctools/metasync/internal/transport"
	"github.com/sparctools/metasync/pkg/errors"
	"github.com/sparctools/metasync/pkg/logging"
)

// Awards resolves award ids against the grant registry API.
type Awards struct {
	api *transport.Client

	mu    sync.Mutex
	cache map[string]map[string]any
}

// New returns an enricher bound to the registry API host.
func New(host string, timeout time.Duration) (*Awards, error) {
	if host == "" {
		return nil, &errors.ValidationError{Field: "host", Message: "grant registry host is required"}
	}
	return &Awards{
		api:   transport.New(host, nil, timeout),
		cache: make(map[string]map[string]any),
	}, nil
}

type grant struct {
	Title                 string `json:"title"`
	Abstract              string `json:"abstract"`
	PrincipalInvestigator string `json:"principalInvestigator"`
}

// Enrich returns the registry's title, description, and principal
// investigator for an award id. Unknown awards yield an empty map; only
// transport failures are errors.
func (a *Awards) Enrich(ctx context.Context, awardID string) (map[string]any, error) {
	a.mu.Lock()
	if cached, ok := a.cache[awardID]; ok {
		a.mu.Unlock()
		return cached, nil
	}
	a.mu.Unlock()

	var g grant
	err := a.api.Get(ctx, "/awards/"+url.PathEscape(awardID), nil, &g)
	if err != nil {
		if errors.IsNotFound(err) {
			logging.Debug().Str("award", awardID).Msg("award not in grant registry")
			a.store(awardID, map[string]any{})
			return map[string]any{}, nil
		}
		return nil, err
	}

	fields := make(map[string]any, 3)
	if g.Title != "" {
		fields["title"] = g.Title
	}
	if g.Abstract != "" {
		fields["description"] = g.Abstract
	}
	if g.PrincipalInvestigator != "" {
		fields["principal_investigator"] = g.PrincipalInvestigator
	}
	a.store(awardID, fields)
	return fields, nil
}

func (a *Awards) store(awardID string, fields map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache[awardID] = fields
}
