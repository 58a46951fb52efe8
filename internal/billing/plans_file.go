package billing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"tenantgate/internal/types"
)

// plansFile is the on-disk plan table:
//
//	fallback: pro
//	plans:
//	  - code: free
//	    retention_days: 7
//	    limits: {requests_per_minute: 60, max_keys: 2}
//	prices:
//	  price_1Pro: pro
type plansFile struct {
	Fallback types.PlanCode            `yaml:"fallback"`
	Plans    []PlanDefinition          `yaml:"plans"`
	Prices   map[string]types.PlanCode `yaml:"prices"`
}

// PriceMap builds the price table from the per-tier price ids held in
// configuration. Empty ids are skipped.
func PriceMap(proPriceID, enterprisePriceID string) map[string]types.PlanCode {
	m := make(map[string]types.PlanCode, 2)
	if proPriceID != "" {
		m[proPriceID] = types.PlanPro
	}
	if enterprisePriceID != "" {
		m[enterprisePriceID] = types.PlanEnterprise
	}
	return m
}

// LoadRegistry builds the registry from the YAML file at path, or from
// DefaultPlans when path is empty. prices are merged over any prices in the
// file. A fallback set in the file wins over the fallback argument.
func LoadRegistry(path string, prices map[string]types.PlanCode, fallback types.PlanCode) (*Registry, error) {
	if path == "" {
		return NewRegistry(DefaultPlans(), prices, fallback)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plans file: %w", err)
	}
	return parseRegistry(raw, prices, fallback)
}

func parseRegistry(raw []byte, prices map[string]types.PlanCode, fallback types.PlanCode) (*Registry, error) {
	var f plansFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse plans file: %w", err)
	}
	if len(f.Plans) == 0 {
		return nil, fmt.Errorf("plans file defines no plans")
	}

	merged := make(map[string]types.PlanCode, len(f.Prices)+len(prices))
	for k, v := range f.Prices {
		merged[k] = v
	}
	for k, v := range prices {
		merged[k] = v
	}

	if f.Fallback != "" {
		fallback = f.Fallback
	}
	return NewRegistry(f.Plans, merged, fallback)
}
