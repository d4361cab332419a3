package portal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maintscraper/internal/core/record"
)

func TestDefaultCatalogueIsValid(t *testing.T) {
	c, err := LoadCatalogue("")
	require.NoError(t, err)

	for _, kind := range []record.Kind{record.KindRequest, record.KindOrder} {
		layouts := c.For(kind)
		require.Len(t, layouts, 2)
		assert.Len(t, layouts[0].Fields, len(record.SchemaFor(kind).Fields()))
		assert.NotEmpty(t, c.Pages.Search[kind].InputSelector)
	}
}

func TestValidateRejectsUnknownField(t *testing.T) {
	_, err := ParseCatalogue([]byte(`
layouts:
  request:
    - name: a
      probe: {locator: "#a", label: "A"}
      fields: {colour: "#x"}
    - name: b
      probe: {locator: "#b", label: "B"}
  order:
    - name: a
      probe: {locator: "#a", label: "A"}
    - name: b
      probe: {locator: "#b", label: "B"}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "colour")
}

func TestValidateNeedsTwoLayouts(t *testing.T) {
	_, err := ParseCatalogue([]byte(`
layouts:
  request:
    - name: a
      probe: {locator: "#a", label: "A"}
`))
	require.Error(t, err)
}

func TestLayoutMatchesIgnoresCaseAndColon(t *testing.T) {
	l := Layout{Probe: Probe{Label: "Request Number"}}
	assert.True(t, l.Matches("  request   number: "))
	assert.False(t, l.Matches("Work Order"))
}

func TestSnapshotRead(t *testing.T) {
	snap, err := NewSnapshot(`<html><body>
<table id="requestDetail">
  <tr><td>Request Number</td><td>42</td></tr>
  <tr><td>Room</td><td>  3B
  </td></tr>
  <tr><td>Status</td><td> </td></tr>
</table></body></html>`)
	require.NoError(t, err)

	v, ok := snap.Read("#requestDetail tr:nth-child(2) td:nth-child(2)")
	assert.True(t, ok)
	assert.Equal(t, "3B", v)

	_, ok = snap.Read("#requestDetail tr:nth-child(3) td:nth-child(2)")
	assert.False(t, ok, "blank cell reads as absent")

	_, ok = snap.Read("#requestGrid th")
	assert.False(t, ok)
}
