package search

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"example.com/backstage/services/salesdesk/config"
	"example.com/backstage/services/salesdesk/internal/models"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ElasticClient indexes leads and orders for full-text search. The
// service runs fine without it; a disabled client drops index requests
// and the API falls back to an in-memory scan.
type ElasticClient struct {
	client  *elasticsearch.Client
	config  config.ElasticConfig
	enabled bool
}

// NewElasticClient creates a new Elasticsearch client. An empty URL
// disables indexing.
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	if cfg.URL == "" {
		return &ElasticClient{enabled: false}, nil
	}

	esConfig := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{
		client:  client,
		config:  cfg,
		enabled: true,
	}, nil
}

// Enabled reports whether an Elasticsearch connection is configured
func (c *ElasticClient) Enabled() bool {
	return c != nil && c.enabled
}

// LeadDoc builds the search document for a lead. The in-memory fallback
// scan builds the same shape so both search paths return identical
// results.
func LeadDoc(lead models.Lead) map[string]interface{} {
	return map[string]interface{}{
		"id":              lead.ID,
		"type":            "lead",
		"business":        lead.Business,
		"contact_name":    lead.ContactName,
		"phone":           lead.Phone,
		"email":           lead.Email,
		"region":          lead.Region,
		"flavor_interest": lead.FlavorInterest,
		"status":          string(lead.Status),
		"assigned_to":     lead.AssignedTo,
		"created_at":      lead.CreatedAt,
	}
}

// OrderDoc builds the search document for an order, denormalizing the
// client name so orders are findable by business
func OrderDoc(order models.Order, client models.Client) map[string]interface{} {
	flavors := make([]string, 0, len(order.LineItems))
	for _, li := range order.LineItems {
		flavors = append(flavors, li.Flavor)
	}
	return map[string]interface{}{
		"id":          order.ID,
		"type":        "order",
		"client_id":   order.ClientID,
		"employee_id": order.EmployeeID,
		"business":    client.Business,
		"status":      string(order.Status),
		"flavors":     strings.Join(flavors, " "),
		"total_cases": order.TotalCases(),
		"created_at":  order.CreatedAt,
	}
}

// IndexLead indexes one lead document
func (c *ElasticClient) IndexLead(ctx context.Context, lead models.Lead) error {
	if !c.Enabled() {
		return nil
	}
	return c.index(ctx, lead.ID, LeadDoc(lead))
}

// IndexOrder indexes one order document
func (c *ElasticClient) IndexOrder(ctx context.Context, order models.Order, client models.Client) error {
	if !c.Enabled() {
		return nil
	}
	return c.index(ctx, order.ID, OrderDoc(order, client))
}

func (c *ElasticClient) index(ctx context.Context, id string, doc map[string]interface{}) error {
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal document")
	}

	indexName := config.FormatIndex(c.config, c.config.Index)
	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: id,
		Body:       bytes.NewReader(docJSON),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return errors.Errorf("Elasticsearch index error: %v", e)
	}

	log.Debug().Str("id", id).Msg("document indexed")
	return nil
}

// Search runs a free-text query across indexed leads and orders and
// returns the matching documents
func (c *ElasticClient) Search(ctx context.Context, q string) ([]map[string]interface{}, error) {
	if !c.Enabled() {
		return nil, errors.New("search is not configured")
	}

	query := map[string]interface{}{
		"query": map[string]interface{}{
			"query_string": map[string]interface{}{
				"query":            q,
				"default_operator": "AND",
			},
		},
		"size": 50,
	}
	queryJSON, err := json.Marshal(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal search query")
	}

	indexName := config.FormatIndex(c.config, c.config.Index)
	req := esapi.SearchRequest{
		Index: []string{indexName},
		Body:  bytes.NewReader(queryJSON),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute Elasticsearch search request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return nil, errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return nil, errors.Errorf("Elasticsearch search error: %v", e)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to parse Elasticsearch search response")
	}

	hits, ok := result["hits"].(map[string]interface{})
	if !ok {
		return nil, errors.New("unexpected search result format")
	}
	hitsArray, ok := hits["hits"].([]interface{})
	if !ok {
		return nil, errors.New("unexpected hits format")
	}

	var docs []map[string]interface{}
	for _, hit := range hitsArray {
		hitMap, ok := hit.(map[string]interface{})
		if !ok {
			continue
		}
		source, ok := hitMap["_source"].(map[string]interface{})
		if !ok {
			continue
		}
		docs = append(docs, source)
	}

	return docs, nil
}
