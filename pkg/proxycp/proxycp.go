// Package proxycp implements the Proxy Control-Plane (§4.5): a thin HTTP
// client against the external proxy's JSON admin API (§6), responsible
// for registering a deployment's ephemeral route, promoting a slot to
// production, and tearing down a retired slot's route.
package proxycp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/zaneops/pkg/types"
	"github.com/cuemby/zaneops/pkg/zerr"
)

// RouteID follows the scheme fixed by §4.5: deployment:<hash>:<port> for
// a deployment-scoped (non-promoted) route, service:<slug>:<port> for the
// promoted production route.
func DeploymentRouteID(hash string, port int) string {
	return fmt.Sprintf("deployment:%s:%d", hash, port)
}

func ServiceRouteID(slug string, port int) string {
	return fmt.Sprintf("service:%s:%d", slug, port)
}

// Route is the admin API's JSON representation of one proxied route.
type Route struct {
	ID          string `json:"id"`
	Domain      string `json:"domain,omitempty"`
	BasePath    string `json:"base_path,omitempty"`
	StripPrefix bool   `json:"strip_prefix,omitempty"`
	UpstreamURL string `json:"upstream_url"`
}

// Client talks to the proxy's admin API over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

// UpsertRoute registers or replaces a route — used both for the
// deployment-scoped route created before the healthcheck gate, and for
// the stable service route created/repointed at promotion.
func (c *Client) UpsertRoute(ctx context.Context, route Route) error {
	body, err := json.Marshal(route)
	if err != nil {
		return zerr.Proxy(err, "marshal route %s", route.ID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/routes/"+route.ID, bytes.NewReader(body))
	if err != nil {
		return zerr.Proxy(err, "build upsert request for route %s", route.ID)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, "upsert route "+route.ID)
}

// Promote atomically repoints the stable service route's upstream at the
// newly-healthy deployment, via a PATCH rather than a delete+create pair
// so there is no window where the production route resolves to nothing.
func (c *Client) Promote(ctx context.Context, serviceRouteID, newUpstreamURL string) error {
	patch := map[string]string{"upstream_url": newUpstreamURL}
	body, err := json.Marshal(patch)
	if err != nil {
		return zerr.Proxy(err, "marshal promote patch for %s", serviceRouteID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.baseURL+"/routes/"+serviceRouteID, bytes.NewReader(body))
	if err != nil {
		return zerr.Proxy(err, "build promote request for %s", serviceRouteID)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, "promote route "+serviceRouteID)
}

// RemoveRoute tears down a retired slot's ephemeral route, or a
// decommissioned service's production route. A 404 from the proxy
// counts as success: the route is already gone.
func (c *Client) RemoveRoute(ctx context.Context, routeID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/routes/"+routeID, nil)
	if err != nil {
		return zerr.Proxy(err, "build remove request for %s", routeID)
	}
	return c.do(req, "remove route "+routeID)
}

func (c *Client) do(req *http.Request, action string) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return zerr.Proxy(err, "%s", action)
	}
	defer resp.Body.Close()
	if req.Method == http.MethodDelete && resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode >= 300 {
		return zerr.Proxy(nil, "%s: proxy returned status %d", action, resp.StatusCode)
	}
	return nil
}

// UpstreamURL builds the internal address of a deployment slot's
// container for a given port, addressed by its network alias.
func UpstreamURL(slot types.Slot, port int) string {
	return fmt.Sprintf("http://%s:%d", slot.Alias(), port)
}
