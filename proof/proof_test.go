package proof

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fixed point in time for deterministic timestamp math
func testTime() time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

func mkProof(tool Tool, data string, ts time.Time) CapabilityProof {
	return CapabilityProof{
		Tool:  tool,
		Query: "MKTAYIAKQR",
		Result: Outcome{
			Success:   true,
			Data:      json.RawMessage(data),
			Timestamp: ts.Format(time.RFC3339Nano),
		},
	}
}

func TestTimestampGate(t *testing.T) {
	assert := assert.New(t)
	now := testTime()

	res := Validate(mkProof(ToolBlast, `{"hits": []}`, now.Add(-59*time.Minute)), now)
	assert.True(res.Valid)
	assert.Empty(res.Reason)

	res = Validate(mkProof(ToolBlast, `{"hits": []}`, now.Add(-61*time.Minute)), now)
	assert.False(res.Valid)
	assert.Contains(res.Reason, "too old")

	// boundary: exactly one hour is accepted
	res = Validate(mkProof(ToolBlast, `{"hits": []}`, now.Add(-time.Hour)), now)
	assert.True(res.Valid)

	res = Validate(mkProof(ToolBlast, `{"hits": []}`, now.Add(time.Second)), now)
	assert.False(res.Valid)
	assert.Contains(res.Reason, "in the future")

	p := mkProof(ToolBlast, `{"hits": []}`, now)
	p.Result.Timestamp = "yesterday"
	res = Validate(p, now)
	assert.False(res.Valid)
	assert.Contains(res.Reason, "timestamp")
}

func TestTimestampGateRunsFirst(t *testing.T) {
	now := testTime()
	res := Validate(mkProof(Tool("hplc"), `{}`, now.Add(-2*time.Hour)), now)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Reason, "too old")
}

func TestToolGate(t *testing.T) {
	now := testTime()
	ts := now.Add(-5 * time.Minute)

	tests := []struct {
		tool  Tool
		data  string
		valid bool
	}{
		{ToolBlast, `{"hits": []}`, true},
		{ToolBlast, `{"hits": [{"id": "P69905"}]}`, true},
		{ToolBlast, `{"hits": "none"}`, false},
		{ToolBlast, `{}`, false},
		{ToolPubMed, `{"articles": [{"pmid": "1"}]}`, true},
		{ToolPubMed, `{"articles": []}`, false},
		{ToolUniProt, `{"accession": "P69905", "sequence": "MVLS"}`, true},
		{ToolUniProt, `{"accession": "P69905", "sequence": ""}`, false},
		{ToolUniProt, `{"accession": "P69905"}`, false},
		{ToolPDB, `{"structures": []}`, true},
		{ToolPDB, `{"structures": {}}`, false},
		{ToolArxiv, `{"papers": [{"id": "2401.00001"}]}`, true},
		{ToolArxiv, `{"paper": []}`, false},
		{ToolPubChem, `{"cid": 2244}`, true},
		{ToolPubChem, `{"compounds": []}`, true},
		{ToolPubChem, `{"cid": 0}`, false},
		{ToolTDC, `{"score": 0}`, true},
		{ToolTDC, `{"score": null}`, true},
		{ToolTDC, `{"datasets": ["ADMET"]}`, true},
		{ToolTDC, `{"predictions": false}`, false},
		{ToolMaterials, `{"mp_id": "mp-149"}`, true},
		{ToolMaterials, `{"formula": "Si"}`, true},
		{ToolMaterials, `{"formula": ""}`, false},
		{ToolRDKit, `{"fingerprint": "0101"}`, true},
		{ToolRDKit, `{"descriptors": {"MolWt": 180.16}}`, true},
		{ToolRDKit, `{"mcs": null}`, false},
		// non-object payloads never pass
		{ToolBlast, `null`, false},
		{ToolBlast, `[1,2,3]`, false},
		{ToolBlast, ``, false},
	}

	for _, tc := range tests {
		res := Validate(mkProof(tc.tool, tc.data, ts), now)
		assert.Equal(t, tc.valid, res.Valid, "%s %s", tc.tool, tc.data)
		if !tc.valid {
			assert.Equal(t, "invalid result format for tool "+string(tc.tool), res.Reason)
		}
	}
}

func TestUnknownTool(t *testing.T) {
	assert := assert.New(t)
	now := testTime()

	res := Validate(mkProof(Tool("hplc"), `{"hits": []}`, now), now)
	assert.False(res.Valid)
	assert.Equal("unknown tool: hplc", res.Reason)

	assert.False(Tool("hplc").Known())
	for _, tool := range Tools() {
		assert.True(tool.Known(), tool)
	}
}

func TestProofJSON(t *testing.T) {
	assert := assert.New(t)

	raw := `{"tool":"uniprot","query":"hemoglobin","result":{"success":true,"data":{"accession":"P69905","sequence":"MVLS"},"timestamp":"2024-06-01T11:30:00.000Z"}}`
	var p CapabilityProof
	assert.NoError(json.Unmarshal([]byte(raw), &p))
	assert.Equal(ToolUniProt, p.Tool)
	assert.True(Validate(p, testTime()).Valid)
}
