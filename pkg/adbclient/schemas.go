package adbclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// schemaRef builds a schema endpoint reference, adding the schema client
// selector when set.
func schemaRef(path, schemaClient string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	if schemaClient = strings.TrimSpace(schemaClient); schemaClient != "" {
		query.Set("client", schemaClient)
	}
	if len(query) == 0 {
		return path
	}
	return path + "?" + query.Encode()
}

// Schemas lists document types known to the instance. With checksum set,
// the server returns per-type checksums instead of the type list.
func (c *Client) Schemas(ctx context.Context, schemaClient string, checksum bool) (map[string]any, error) {
	q := url.Values{"checksum": []string{strconv.FormatBool(checksum)}}
	var doc map[string]any
	if err := c.DoJSON(ctx, http.MethodGet, schemaRef("/schemas", schemaClient, q), nil, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// DocumentTypeNames extracts type names from a Schemas listing.
func DocumentTypeNames(doc map[string]any) []string {
	types, _ := doc["document_types"].([]any)
	names := make([]string, 0, len(types))
	for _, t := range types {
		m, ok := t.(map[string]any)
		if !ok {
			continue
		}
		if name, ok := m["name"].(string); ok {
			names = append(names, name)
		}
	}
	return names
}

// SchemaVersions lists the available versions of a document type.
func (c *Client) SchemaVersions(ctx context.Context, docType, schemaClient string) (any, error) {
	if strings.TrimSpace(docType) == "" {
		return nil, errors.New("document type is required")
	}
	var out any
	ref := schemaRef("/schemas/"+url.PathEscape(docType), schemaClient, nil)
	if err := c.DoJSON(ctx, http.MethodGet, ref, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Schema fetches the JSON schema of a document type at a version.
func (c *Client) Schema(ctx context.Context, docType, version, schemaClient string) (map[string]any, error) {
	if strings.TrimSpace(docType) == "" || strings.TrimSpace(version) == "" {
		return nil, errors.New("document type and version are required")
	}
	var out map[string]any
	ref := schemaRef(fmt.Sprintf("/schemas/%s/%s", url.PathEscape(docType), url.PathEscape(version)), schemaClient, nil)
	if err := c.DoJSON(ctx, http.MethodGet, ref, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteSchemaCache drops the server-side schema cache.
func (c *Client) DeleteSchemaCache(ctx context.Context, schemaClient string) (any, error) {
	var out any
	if err := c.DoJSON(ctx, http.MethodDelete, schemaRef("/schema/cache", schemaClient, nil), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SchemaClients lists the schema clients registered on the instance.
func (c *Client) SchemaClients(ctx context.Context) (any, error) {
	var out any
	if err := c.DoJSON(ctx, http.MethodGet, "/schema/clients", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ValidateDocuments asks the server to validate metadata documents
// against their declared schemas.
func (c *Client) ValidateDocuments(ctx context.Context, docs []any) (any, error) {
	var out any
	if err := c.DoJSON(ctx, http.MethodPost, "/schema/validate", map[string]any{"docs": docs}, &out); err != nil {
		return nil, err
	}
	return out, nil
}
