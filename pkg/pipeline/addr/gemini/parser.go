// Package gemini implements an address-parsing strategy backed by the
// Gemini API with structured JSON output. It is intended for sources
// whose addresses are too irregular for the rule-based parser.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/openregistry/regpipe/pkg/pipeline/addr"
	"github.com/openregistry/regpipe/pkg/pipeline/core"
	"google.golang.org/genai"
)

type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string
}

type Parser struct {
	client *genai.Client
	model  string
}

func New(ctx context.Context, cfg Config) (*Parser, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("GEMINI_MODEL is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	return &Parser{client: client, model: strings.TrimSpace(cfg.Model)}, nil
}

type responseSchema struct {
	Unit        string `json:"unit"`
	HouseNumber string `json:"house_number"`
	Road        string `json:"road"`
	City        string `json:"city"`
	Prov        string `json:"prov"`
	Country     string `json:"country"`
	Postcode    string `json:"postcode"`
}

var outputSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"unit":         {Type: genai.TypeString},
		"house_number": {Type: genai.TypeString},
		"road":         {Type: genai.TypeString},
		"city":         {Type: genai.TypeString},
		"prov":         {Type: genai.TypeString},
		"country":      {Type: genai.TypeString},
		"postcode":     {Type: genai.TypeString},
	},
	Required: []string{
		"unit",
		"house_number",
		"road",
		"city",
		"prov",
		"country",
		"postcode",
	},
}

func (p *Parser) Parse(ctx context.Context, fullAddr string) (addr.Components, error) {
	fullAddr = strings.TrimSpace(fullAddr)
	if fullAddr == "" {
		return nil, errors.New("empty address")
	}

	prompt := buildPrompt(fullAddr)
	resp, err := p.client.Models.GenerateContent(
		ctx,
		p.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			CandidateCount:   1,
			ResponseMIMEType: "application/json",
			ResponseSchema:   outputSchema,
		},
	)
	if err != nil {
		return nil, classifyErr(err)
	}

	var parsed responseSchema
	if err := json.Unmarshal([]byte(resp.Text()), &parsed); err != nil {
		return nil, fmt.Errorf("gemini: parse structured json: %w", err)
	}

	comps := addr.Components{}
	put := func(label, v string) {
		if v = strings.TrimSpace(v); v != "" {
			comps[label] = v
		}
	}
	put(addr.Unit, parsed.Unit)
	put(addr.HouseNumber, parsed.HouseNumber)
	put(addr.Road, parsed.Road)
	put(addr.City, parsed.City)
	put(addr.Prov, parsed.Prov)
	put(addr.Country, parsed.Country)
	put(addr.Postcode, parsed.Postcode)
	return comps, nil
}

func buildPrompt(fullAddr string) string {
	// Keep this prompt public-safe: the address is the only payload, no
	// secrets and no other record fields.
	return strings.TrimSpace(`
You are an address parser. Split the given address into its components.

Return ONLY a single JSON object with these keys:
- unit (string; apartment/suite/unit number)
- house_number (string; civic number)
- road (string; street name including street type)
- city (string)
- prov (string; province or state, as written)
- country (string)
- postcode (string)

Rules:
- Copy text from the address; do not invent or normalize values.
- If a component is absent, set it to an empty string.
- Do not include extra keys.

Address: ` + fullAddr + `
`)
}

func classifyErr(err error) error {
	// Wrap transient failures so the worker pool will retry with backoff.
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code/100 == 5 {
			return &core.TransientError{Err: err}
		}
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && (ne.Timeout() || ne.Temporary()) {
		return &core.TransientError{Err: err}
	}
	return err
}
