package proof

import (
	"math"
)

// Tool identifies an external scientific tool a proof can be issued for.
type Tool string

const (
	ToolBlast     Tool = "blast"
	ToolPubMed    Tool = "pubmed"
	ToolUniProt   Tool = "uniprot"
	ToolPDB       Tool = "pdb"
	ToolArxiv     Tool = "arxiv"
	ToolPubChem   Tool = "pubchem"
	ToolTDC       Tool = "tdc"
	ToolMaterials Tool = "materials"
	ToolRDKit     Tool = "rdkit"
)

// Tools lists every recognized tool.
func Tools() []Tool {
	return []Tool{
		ToolBlast,
		ToolPubMed,
		ToolUniProt,
		ToolPDB,
		ToolArxiv,
		ToolPubChem,
		ToolTDC,
		ToolMaterials,
		ToolRDKit,
	}
}

func (t Tool) Known() bool {
	known, _ := checkPayload(t, nil)
	return known
}

// checkPayload applies the tool's structural predicate. known is false for
// tools outside the closed set; every new Tool constant needs a case here.
func checkPayload(t Tool, d map[string]any) (known, ok bool) {
	switch t {
	case ToolBlast:
		return true, isArray(d, "hits")
	case ToolPubMed:
		return true, nonEmptyArray(d, "articles")
	case ToolUniProt:
		return true, truthy(d, "accession") && truthy(d, "sequence")
	case ToolPDB:
		return true, isArray(d, "structures")
	case ToolArxiv:
		return true, isArray(d, "papers")
	case ToolPubChem:
		return true, truthy(d, "compounds") || truthy(d, "cid")
	case ToolTDC:
		return true, truthy(d, "predictions") || truthy(d, "datasets") || present(d, "score")
	case ToolMaterials:
		return true, truthy(d, "mp_id") || truthy(d, "formula")
	case ToolRDKit:
		return true, truthy(d, "descriptors") || truthy(d, "mcs") || truthy(d, "fingerprint")
	default:
		return false, false
	}
}

func present(d map[string]any, key string) bool {
	_, ok := d[key]
	return ok
}

func isArray(d map[string]any, key string) bool {
	_, ok := d[key].([]any)
	return ok
}

func nonEmptyArray(d map[string]any, key string) bool {
	arr, ok := d[key].([]any)
	return ok && len(arr) > 0
}

// truthy follows JSON-value truthiness: null, false, 0, NaN and "" are false;
// any array or object (even empty) is true.
func truthy(d map[string]any, key string) bool {
	switch v := d[key].(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0 && !math.IsNaN(v)
	case string:
		return v != ""
	default:
		return true
	}
}
