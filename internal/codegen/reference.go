package codegen

import (
	"slices"

	"github.com/samber/lo"

	"github.com/alexhholmes/kernelgen/internal/config"
)

// DefaultReference is cited when register rotation is used and no reference is set
const DefaultReference = "MGM"

var references = map[string]string{
	"MGM": "A Metric-Guided Method for Discovering Impactful Features and Architectural Insights for Skylake-Based Processors. Ahmad Yasin, Jawad Haj-Yahya, Yosi Ben-Asher, Avi Mendelson. TACO 2019 and HiPEAC 2020.",
}

// LookupReference returns the citation text for id
func LookupReference(id string) (string, error) {
	text, ok := references[id]
	if !ok {
		ids := lo.Keys(references)
		slices.Sort(ids)
		return "", config.Errorf(config.CodeReference, "unknown reference %q (available: %v)", id, ids)
	}
	return text, nil
}

// referenceFor returns the citation id the header should carry, empty for none
func referenceFor(cfg *config.KernelConfig) string {
	if cfg.Reference != "" {
		return cfg.Reference
	}
	if cfg.Registers > 0 {
		return DefaultReference
	}
	return ""
}
