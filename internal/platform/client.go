// Package platform binds the platform.Client interface to the curation
// platform's HTTP API. Records travel on the wire as name/value pairs; this
// package converts between that shape and the value maps the engine works
// with.
package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sparctools/metasync/internal/transport"
	"github.com/sparctools/metasync/pkg/errors"
	"github.com/sparctools/metasync/pkg/platform"
)

// Client talks to the platform's dataset and model-service endpoints.
type Client struct {
	api *transport.Client
}

// Config holds the connection settings for the platform API.
type Config struct {
	Host    string
	Token   string
	Timeout time.Duration
}

// New returns an HTTP-backed platform client.
func New(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, &errors.ValidationError{Field: "host", Message: "platform API host is required"}
	}
	if cfg.Token == "" {
		return nil, &errors.ValidationError{Field: "token", Message: "platform API token is required"}
	}
	return &Client{
		api: transport.New(cfg.Host, transport.TokenAuth{Token: cfg.Token}, cfg.Timeout),
	}, nil
}

type wireValue struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

type wireRecord struct {
	ID     string      `json:"id"`
	Type   string      `json:"type,omitempty"`
	Values []wireValue `json:"values"`
}

func (r wireRecord) record(model string) platform.Record {
	values := make(map[string]any, len(r.Values))
	for _, v := range r.Values {
		values[v.Name] = v.Value
	}
	return platform.Record{ID: r.ID, Model: model, Values: values}
}

func wireValues(values map[string]any) []wireValue {
	out := make([]wireValue, 0, len(values))
	for name, value := range values {
		out = append(out, wireValue{Name: name, Value: value})
	}
	return out
}

// GetOrCreateDataset implements platform.Client.
func (c *Client) GetOrCreateDataset(ctx context.Context, datasetID string) (string, error) {
	var ds struct {
		ID string `json:"id"`
	}
	err := c.api.Get(ctx, "/datasets/"+url.PathEscape(datasetID), nil, &ds)
	if err == nil {
		return ds.ID, nil
	}
	if !errors.IsNotFound(err) {
		return "", err
	}
	if err := c.api.Post(ctx, "/datasets", map[string]any{"name": datasetID}, &ds); err != nil {
		return "", err
	}
	return ds.ID, nil
}

// Role implements platform.Client.
func (c *Client) Role(ctx context.Context, datasetID string) (platform.Role, error) {
	var out struct {
		Role string `json:"role"`
	}
	if err := c.api.Get(ctx, fmt.Sprintf("/datasets/%s/role", url.PathEscape(datasetID)), nil, &out); err != nil {
		return platform.RoleNone, err
	}
	return platform.Role(out.Role), nil
}

// PublicationStatus implements platform.Client.
func (c *Client) PublicationStatus(ctx context.Context, datasetID string) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	err := c.api.Get(ctx, fmt.Sprintf("/datasets/%s/publication/status", url.PathEscape(datasetID)), nil, &out)
	if err != nil {
		if errors.IsNotFound(err) {
			// Never submitted for publication.
			return "", nil
		}
		return "", err
	}
	return out.Status, nil
}

// SetDatasetTags implements platform.Client.
func (c *Client) SetDatasetTags(ctx context.Context, datasetID string, tags []string) error {
	body := map[string]any{"tags": tags}
	return c.api.Put(ctx, fmt.Sprintf("/datasets/%s/tags", url.PathEscape(datasetID)), body, nil)
}

// CreateReference implements platform.Client.
func (c *Client) CreateReference(ctx context.Context, datasetID, doi, relationship string) error {
	body := map[string]any{"externalId": doi, "relationshipType": relationship}
	return c.api.Post(ctx, fmt.Sprintf("/datasets/%s/references", url.PathEscape(datasetID)), body, nil)
}

// AttachFile implements platform.Client.
func (c *Client) AttachFile(ctx context.Context, datasetID, recordID, path string) error {
	body := map[string]any{"recordId": recordID, "path": path}
	return c.api.Post(ctx, fmt.Sprintf("/models/datasets/%s/proxy/package/instances", url.PathEscape(datasetID)), body, nil)
}

func (c *Client) conceptPath(datasetID string, parts ...string) string {
	p := fmt.Sprintf("/models/datasets/%s/concepts", url.PathEscape(datasetID))
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

type wireModel struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Count       int    `json:"count"`
}

// Models implements platform.Client.
func (c *Client) Models(ctx context.Context, datasetID string) (map[string]platform.Model, error) {
	var wire []wireModel
	if err := c.api.Get(ctx, c.conceptPath(datasetID), nil, &wire); err != nil {
		return nil, err
	}
	out := make(map[string]platform.Model, len(wire))
	for _, m := range wire {
		out[m.Name] = platform.Model{ID: m.ID, Name: m.Name, Count: m.Count}
	}
	return out, nil
}

// GetOrCreateModel implements platform.Client.
func (c *Client) GetOrCreateModel(ctx context.Context, datasetID string, def platform.ModelDefinition) (platform.Model, error) {
	existing, err := c.Models(ctx, datasetID)
	if err != nil {
		return platform.Model{}, err
	}
	model, ok := existing[def.Name]
	if !ok {
		var created wireModel
		body := map[string]any{"name": def.Name, "displayName": def.Display}
		if err := c.api.Post(ctx, c.conceptPath(datasetID), body, &created); err != nil {
			return platform.Model{}, err
		}
		model = platform.Model{ID: created.ID, Name: def.Name}

		props := make([]map[string]any, 0, len(def.Properties))
		for _, p := range def.Properties {
			props = append(props, map[string]any{
				"name":         p.Name,
				"displayName":  p.Display,
				"dataType":     wireDataType(p),
				"conceptTitle": p.Title,
			})
		}
		if err := c.api.Put(ctx, c.conceptPath(datasetID, def.Name)+"/properties", props, nil); err != nil {
			return platform.Model{}, err
		}
	}

	linked, err := c.linkedProperties(ctx, datasetID, def, model)
	if err != nil {
		return platform.Model{}, err
	}
	model.Linked = linked
	return model, nil
}

type wireLinkedProperty struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	To   string `json:"to"`
}

// linkedProperties ensures every schema link of the definition exists and
// returns the name to property-id mapping.
func (c *Client) linkedProperties(ctx context.Context, datasetID string, def platform.ModelDefinition, model platform.Model) (map[string]string, error) {
	var wire []wireLinkedProperty
	path := c.conceptPath(datasetID, def.Name) + "/linked"
	if err := c.api.Get(ctx, path, nil, &wire); err != nil && !errors.IsNotFound(err) {
		return nil, err
	}
	linked := make(map[string]string, len(def.Linked))
	for _, lp := range wire {
		linked[lp.Name] = lp.ID
	}
	for _, lp := range def.Linked {
		if _, ok := linked[lp.Name]; ok {
			continue
		}
		var created wireLinkedProperty
		body := map[string]any{"name": lp.Name, "displayName": lp.Display, "to": lp.Target}
		if err := c.api.Post(ctx, path, body, &created); err != nil {
			return nil, err
		}
		linked[lp.Name] = created.ID
	}
	return linked, nil
}

func wireDataType(p platform.Property) any {
	dt := p.DataType
	if dt == "" || dt == "unitvalue" {
		dt = "string"
	}
	if p.Multi {
		return map[string]any{"type": "array", "items": dt}
	}
	return dt
}

// DeleteModel implements platform.Client.
func (c *Client) DeleteModel(ctx context.Context, datasetID, model string) error {
	return c.api.Delete(ctx, c.conceptPath(datasetID, model), nil)
}

// Records implements platform.Client.
func (c *Client) Records(ctx context.Context, datasetID, model string, limit, offset int) ([]platform.Record, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))
	var wire []wireRecord
	err := c.api.Get(ctx, c.conceptPath(datasetID, model)+"/instances", query, &wire)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]platform.Record, 0, len(wire))
	for _, r := range wire {
		out = append(out, r.record(model))
	}
	return out, nil
}

// CreateRecords implements platform.Client.
func (c *Client) CreateRecords(ctx context.Context, datasetID, model string, values []map[string]any) ([]string, error) {
	body := make([]map[string]any, 0, len(values))
	for _, v := range values {
		body = append(body, map[string]any{"values": wireValues(v)})
	}
	var wire []wireRecord
	if err := c.api.Post(ctx, c.conceptPath(datasetID, model)+"/instances/batch", body, &wire); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(wire))
	for _, r := range wire {
		ids = append(ids, r.ID)
	}
	if len(ids) != len(values) {
		return ids, errors.WrapRemote("create", model,
			fmt.Errorf("created %d of %d records", len(ids), len(values)))
	}
	return ids, nil
}

// UpdateRecord implements platform.Client.
func (c *Client) UpdateRecord(ctx context.Context, datasetID, model, recordID string, values map[string]any) error {
	body := map[string]any{"values": wireValues(values)}
	return c.api.Put(ctx, c.conceptPath(datasetID, model, "instances", recordID), body, nil)
}

// DeleteRecords implements platform.Client.
func (c *Client) DeleteRecords(ctx context.Context, datasetID, model string, recordIDs []string) error {
	body := map[string]any{"instanceIds": recordIDs}
	return c.api.Post(ctx, c.conceptPath(datasetID, model)+"/instances/bulk-delete", body, nil)
}

// SearchRecords implements platform.Client.
func (c *Client) SearchRecords(ctx context.Context, datasetID, model string, filters []platform.SearchFilter) ([]platform.Record, error) {
	wireFilters := make([]map[string]any, 0, len(filters))
	for _, f := range filters {
		wireFilters = append(wireFilters, map[string]any{
			"property": f.Property,
			"operator": "eq",
			"value":    f.Value,
		})
	}
	body := map[string]any{"model": model, "filters": wireFilters}
	var wire []wireRecord
	if err := c.api.Post(ctx, c.conceptPath(datasetID, model)+"/query", body, &wire); err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]platform.Record, 0, len(wire))
	for _, r := range wire {
		out = append(out, r.record(model))
	}
	return out, nil
}

type wireLink struct {
	ID                   string `json:"id"`
	SchemaLinkedProperty struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"schemaLinkedProperty"`
	To string `json:"to"`
}

// Links implements platform.Client.
func (c *Client) Links(ctx context.Context, datasetID, model, recordID string) ([]platform.Link, error) {
	var wire []wireLink
	path := c.conceptPath(datasetID, model, "instances", recordID) + "/linked"
	if err := c.api.Get(ctx, path, nil, &wire); err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]platform.Link, 0, len(wire))
	for _, l := range wire {
		out = append(out, platform.Link{
			Property:   l.SchemaLinkedProperty.Name,
			PropertyID: l.SchemaLinkedProperty.ID,
			To:         l.To,
		})
	}
	return out, nil
}

// CreateLinks implements platform.Client.
func (c *Client) CreateLinks(ctx context.Context, datasetID, model, recordID string, links []platform.Link) error {
	body := make([]map[string]any, 0, len(links))
	for _, l := range links {
		body = append(body, map[string]any{
			"name":                   l.Property,
			"schemaLinkedPropertyId": l.PropertyID,
			"to":                     l.To,
		})
	}
	path := c.conceptPath(datasetID, model, "instances", recordID) + "/linked/batch"
	return c.api.Post(ctx, path, body, nil)
}

type wireRelation struct {
	Type string `json:"type"`
	To   string `json:"to"`
}

// Relations implements platform.Client.
func (c *Client) Relations(ctx context.Context, datasetID, recordID string) ([]platform.Relation, error) {
	var wire []wireRelation
	path := fmt.Sprintf("/models/datasets/%s/instances/%s/relations", url.PathEscape(datasetID), url.PathEscape(recordID))
	if err := c.api.Get(ctx, path, nil, &wire); err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]platform.Relation, 0, len(wire))
	for _, r := range wire {
		out = append(out, platform.Relation{Name: r.Type, To: r.To})
	}
	return out, nil
}

// Relate implements platform.Client. The relationship schema is created on
// first use; the platform treats repeated creation as a no-op.
func (c *Client) Relate(ctx context.Context, datasetID, model, recordID, name, display string, targets []string) error {
	relPath := fmt.Sprintf("/models/datasets/%s/relationships", url.PathEscape(datasetID))
	schema := map[string]any{"name": name, "displayName": display, "from": model}
	if err := c.api.Post(ctx, relPath, schema, nil); err != nil {
		var remote *errors.RemoteError
		if !errors.As(err, &remote) || remote.StatusCode != http.StatusConflict {
			return err
		}
	}

	body := make([]map[string]any, 0, len(targets))
	for _, to := range targets {
		body = append(body, map[string]any{"from": recordID, "to": to})
	}
	return c.api.Post(ctx, relPath+"/"+url.PathEscape(name)+"/instances/batch", body, nil)
}

var _ platform.Client = (*Client)(nil)
