// Package shop is the demo widget served by appshost and the examples: a product search tool
// and the page that renders its result.
package shop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcpapps "github.com/MegaGrindStone/go-mcp-apps"
)

// ToolName is the name of the search tool.
const ToolName = "shop"

// Product is one search hit.
type Product struct {
	ID            int     `json:"id"`
	Title         string  `json:"title"`
	Brand         string  `json:"brand"`
	Price         float64 `json:"price"`
	OriginalPrice *int    `json:"originalPrice"`
	Rating        float64 `json:"rating"`
	Reviews       int     `json:"reviews"`
	Image         string  `json:"image"`
	Tags          []Tag   `json:"tags"`
	Discount      *string `json:"discount"`
	IsNew         bool    `json:"isNew"`
}

// Tag is a labelled icon shown on a product card.
type Tag struct {
	Icon string `json:"icon"`
	Text string `json:"text"`
}

// Result is the structured content of the tool result.
type Result struct {
	Query        string    `json:"query"`
	Products     []Product `json:"products"`
	TotalResults int       `json:"totalResults"`
}

// DefaultQuery is used when the caller gives none.
const DefaultQuery = "best jackets"

var inputSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {"type": "string", "minLength": 1}
	},
	"additionalProperties": false
}`)

// Tool returns the search tool for a mcpapps.ToolRegistry.
func Tool() mcpapps.Tool {
	return mcpapps.Tool{
		Name:        ToolName,
		Title:       "Search Products",
		Description: "Search the fashion catalog and show the products in the shop widget.",
		InputSchema: inputSchema,
		Handler:     handle,
	}
}

func handle(_ context.Context, args map[string]any) (mcpapps.ToolResult, error) {
	query, _ := args["query"].(string)
	res := Search(query)

	structured, err := json.Marshal(res)
	if err != nil {
		return mcpapps.ToolResult{}, fmt.Errorf("failed to marshal products: %w", err)
	}
	return mcpapps.ToolResult{
		Content: []mcpapps.Content{{
			Type: "text",
			Text: fmt.Sprintf("Found %d products for %q", res.TotalResults, res.Query),
		}},
		StructuredContent: structured,
	}, nil
}

// Search returns the catalog products matching query. Words are matched case-insensitively
// against title, brand and tags. A query matching nothing returns the whole catalog.
func Search(query string) Result {
	if strings.TrimSpace(query) == "" {
		query = DefaultQuery
	}

	var hits []Product
	for _, p := range catalog {
		if matches(p, query) {
			hits = append(hits, p)
		}
	}
	if len(hits) == 0 {
		hits = append(hits, catalog...)
	}

	return Result{
		Query:        query,
		Products:     hits,
		TotalResults: len(hits),
	}
}

func matches(p Product, query string) bool {
	haystack := []string{strings.ToLower(p.Title), strings.ToLower(p.Brand)}
	for _, t := range p.Tags {
		haystack = append(haystack, strings.ToLower(t.Text))
	}

	for _, word := range strings.Fields(strings.ToLower(query)) {
		for _, h := range haystack {
			if strings.Contains(h, word) {
				return true
			}
		}
	}
	return false
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

var catalog = []Product{
	{
		ID:      1,
		Title:   "Cashmere - wool jacket",
		Brand:   "Fabulous",
		Price:   138,
		Rating:  4.5,
		Reviews: 2493,
		Image:   "https://file.chaewon.me/custom-garments/dooi_wool_jacket.png",
		Tags: []Tag{
			{Icon: "ShoppingBag", Text: "Outer"},
			{Icon: "User", Text: "Mens"},
			{Icon: "Tag", Text: "Cashmere"},
		},
	},
	{
		ID:            2,
		Title:         "Italian green - cashmere jacket",
		Brand:         "Fabulous",
		Price:         161,
		OriginalPrice: intPtr(177),
		Rating:        4.5,
		Reviews:       212,
		Image:         "https://file.chaewon.me/custom-garments/dooi_cashmere_jacket.png",
		Tags: []Tag{
			{Icon: "ShoppingBag", Text: "Outer"},
			{Icon: "Tag", Text: "Cashmere"},
		},
		Discount: strPtr("9.0"),
	},
	{
		ID:      3,
		Title:   "Premium leather bomber",
		Brand:   "Luxe",
		Price:   299,
		Rating:  5,
		Reviews: 847,
		Image:   "https://file.chaewon.me/custom-garments/dooi_lether_bomber.png",
		Tags: []Tag{
			{Icon: "ShoppingBag", Text: "Outer"},
			{Icon: "Star", Text: "Premium"},
			{Icon: "Tag", Text: "Leather"},
		},
		IsNew: true,
	},
	{
		ID:            4,
		Title:         "Quilted winter parka",
		Brand:         "Nordic",
		Price:         225,
		OriginalPrice: intPtr(280),
		Rating:        4,
		Reviews:       1392,
		Image:         "https://file.chaewon.me/custom-garments/dooi_quilted_parka.png",
		Tags: []Tag{
			{Icon: "ShoppingBag", Text: "Outer"},
			{Icon: "Snowflake", Text: "Winter"},
			{Icon: "Shield", Text: "Waterproof"},
		},
		Discount: strPtr("20%"),
	},
}

// WidgetHTML is the page of the shop widget. Hosts inject the protocol hint before serving it.
const WidgetHTML = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>Shop</title>
</head>
<body>
<div id="shop-root"></div>
</body>
</html>
`
