package repo

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gapipe/internal/ident"
)

func objectPathID() PathID {
	patch := ident.Patch{X: 1, Y: 1}
	return PathID{
		CatID:     90003,
		Tract:     1,
		Patch:     &patch,
		ObjID:     0xabc,
		NVisit:    12,
		VisitHash: 0x1a2b3c4d5e6f7081,
	}
}

func TestFormatFilenameObject(t *testing.T) {
	name, err := FormatFilename(ProductObject, objectPathID(), "yaml")
	require.NoError(t, err)
	assert.Equal(t,
		"Object-90003-00001-1,1-0000000000000abc-012-0x1a2b3c4d5e6f7081.yaml",
		name)
}

func TestFormatFilenameConfig(t *testing.T) {
	name, err := FormatFilename(ProductConfig, PathID{DesignID: 0x5ee, Visit: 100}, "json")
	require.NoError(t, err)
	assert.Equal(t, "Config-0x00000000000005ee-000100.json", name)
}

func TestParseFilenameRoundTrip(t *testing.T) {
	cases := []struct {
		pt  ProductType
		pid PathID
		ext string
	}{
		{ProductConfig, PathID{DesignID: 0x5ee, Visit: 100}, "json"},
		{ProductMerged, PathID{DesignID: 0x5ee, Visit: 100}, "json"},
		{ProductCalibrated, PathID{DesignID: 0x5ee, Visit: 100}, "json"},
		{ProductSingle, func() PathID {
			p := objectPathID()
			p.NVisit, p.VisitHash = 0, 0
			p.Visit = 100
			return p
		}(), "json"},
		{ProductObject, objectPathID(), "yaml"},
		{ProductObject, objectPathID(), "json"},
		{ProductCatalog, PathID{CatID: 90003, NVisit: 12, VisitHash: 0x1a2b3c4d5e6f7081}, "json"},
	}
	for _, tc := range cases {
		t.Run(tc.pt.String()+"."+tc.ext, func(t *testing.T) {
			name, err := FormatFilename(tc.pt, tc.pid, tc.ext)
			require.NoError(t, err)

			got, ext, ok := ParseFilename(tc.pt, name)
			require.True(t, ok, "grammar must accept its own rendering: %s", name)
			assert.Equal(t, tc.ext, ext)
			assert.Equal(t, tc.pid.CatID, got.CatID)
			assert.Equal(t, tc.pid.ObjID, got.ObjID)
			assert.Equal(t, tc.pid.NVisit, got.NVisit)
			assert.Equal(t, tc.pid.VisitHash, got.VisitHash)
			assert.Equal(t, tc.pid.DesignID, got.DesignID)
			assert.Equal(t, tc.pid.Visit, got.Visit)
		})
	}
}

func TestParseFilenameRejects(t *testing.T) {
	bad := []string{
		"Object-90003.yaml",
		"Object-90003-00001-1,1-0000000000000abc-012-1a2b3c4d5e6f7081.yaml", // missing 0x
		"Single-90003-00001-1,1-0000000000000abc-000100.txt",
		"notes.txt",
		"",
	}
	for _, name := range bad {
		_, _, ok := ParseFilename(ProductObject, name)
		assert.False(t, ok, "should reject %q", name)
	}
}

func TestFormatDirObject(t *testing.T) {
	vars := map[string]string{"rerundir": "run17"}
	dir, err := FormatDir(ProductObject, objectPathID(), vars)
	require.NoError(t, err)
	assert.Equal(t, "run17/Object/90003/0000000000000abc-012-0x1a2b3c4d5e6f7081", dir)
}

func TestFormatDirUndefinedVariable(t *testing.T) {
	_, err := FormatDir(ProductObject, objectPathID(), map[string]string{})
	assert.Error(t, err)
}

func TestExpandTemplate(t *testing.T) {
	out, err := ExpandTemplate("x/{catid:05d}/{objid:016x}", map[string]any{
		"catid": uint32(7),
		"objid": uint64(0xab),
	})
	require.NoError(t, err)
	assert.Equal(t, "x/00007/00000000000000ab", out)
}

func TestExpandTemplateUnknownField(t *testing.T) {
	_, err := ExpandTemplate("{nope}", map[string]any{})
	var uf *UnknownFieldError
	require.True(t, errors.As(err, &uf))
	assert.Equal(t, "nope", uf.Field)
}

func TestHasPlaceholders(t *testing.T) {
	assert.True(t, HasPlaceholders("a/{objid:016x}/b"))
	assert.False(t, HasPlaceholders("a/plain/b"))
}

func TestParseProductType(t *testing.T) {
	pt, err := ParseProductType("object")
	require.NoError(t, err)
	assert.Equal(t, ProductObject, pt)

	_, err = ParseProductType("bogus")
	assert.Error(t, err)
}
