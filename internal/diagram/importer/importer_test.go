package importer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/diagram/importer"
)

func TestDetectFormatRecognizesAllThreeSurfaces(t *testing.T) {
	imp := importer.New()

	assert.Equal(t, importer.FormatNativeJSON, imp.DetectFormat([]byte(`{"nodes": []}`)))
	assert.Equal(t, importer.FormatLightYAML, imp.DetectFormat([]byte("nodes:\n  - type: start\nconnections:\n  - from: a\n    to: b\n")))
	assert.Equal(t, importer.FormatReadableYAML, imp.DetectFormat([]byte("version: readable\nnodes: []\nflow: []\n")))
}

func TestImportNativeJSONRoundTrips(t *testing.T) {
	imp := importer.New()
	src := `{
		"nodes": [{"id": "start", "type": "start"}, {"id": "end", "type": "endpoint"}],
		"arrows": [{"id": "a1", "source": "start_default_output", "target": "end_default_input"}],
		"handles": [
			{"id": "start_default_output", "node_id": "start", "label": "default", "direction": "output"},
			{"id": "end_default_input", "node_id": "end", "label": "default", "direction": "input"}
		]
	}`

	d, err := imp.Import([]byte(src), importer.ImportOptions{})
	require.NoError(t, err)
	assert.Len(t, d.Nodes, 2)
	assert.Len(t, d.Arrows, 1)
	assert.Len(t, d.Handles, 2)
}

func TestImportLightYAMLResolvesConnectionsAndRepairsHandles(t *testing.T) {
	imp := importer.New()
	src := `
nodes:
  - type: start
    label: Start
  - type: endpoint
    label: End
connections:
  - from: Start
    to: End
`
	d, err := imp.Import([]byte(src), importer.ImportOptions{})
	require.NoError(t, err)
	require.Len(t, d.Nodes, 2)
	require.Len(t, d.Arrows, 1)

	_, ok := d.HandleByID(d.Arrows[0].Source)
	assert.True(t, ok, "source handle should have been repaired into existence")
	_, ok = d.HandleByID(d.Arrows[0].Target)
	assert.True(t, ok, "target handle should have been repaired into existence")
}

func TestImportReadableYAMLParsesEnglishLikeAnnotations(t *testing.T) {
	imp := importer.New()
	src := `
version: readable
nodes:
  - Start @(0,0):
      type: start
  - Check @(100,0):
      type: condition
  - Accept @(200,0):
      type: endpoint
  - Reject @(200,100):
      type: endpoint
flow:
  - Start: to "Check"
  - Check_condtrue: to "Accept" as "object" naming "ok"
  - Check_condfalse: to "Reject"
`
	d, err := imp.Import([]byte(src), importer.ImportOptions{})
	require.NoError(t, err)
	require.Len(t, d.Nodes, 4)
	require.Len(t, d.Arrows, 3)

	var trueArrow *diagram.Arrow
	for i := range d.Arrows {
		if d.Arrows[i].Label == "ok" {
			trueArrow = &d.Arrows[i]
		}
	}
	require.NotNil(t, trueArrow)
	assert.Equal(t, diagram.ContentType("object"), trueArrow.ContentType)
}

func TestImportStrictRejectsDanglingHandle(t *testing.T) {
	imp := importer.New()
	src := `{
		"nodes": [{"id": "start", "type": "start"}, {"id": "end", "type": "endpoint"}],
		"arrows": [{"id": "a1", "source": "start_default_output", "target": "end_weird_input"}]
	}`

	_, err := imp.Import([]byte(src), importer.ImportOptions{Strict: true})
	assert.Error(t, err)
}

func TestExportNativeJSONThenReimportPreservesNodeCount(t *testing.T) {
	imp := importer.New()
	src := `
nodes:
  - type: start
    label: Start
  - type: endpoint
    label: End
connections:
  - from: Start
    to: End
`
	d, err := imp.Import([]byte(src), importer.ImportOptions{Format: importer.FormatLightYAML})
	require.NoError(t, err)

	out, err := imp.Export(d, importer.FormatNativeJSON)
	require.NoError(t, err)

	reimported, err := imp.Import(out, importer.ImportOptions{Format: importer.FormatNativeJSON})
	require.NoError(t, err)
	assert.Len(t, reimported.Nodes, len(d.Nodes))
	assert.Len(t, reimported.Arrows, len(d.Arrows))
}
