package services

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlyerFilename(t *testing.T) {
	src, err := ParseFlyerFilename("downloads/spar_2025-10-20_Weekly_Deals Vienna.pdf", 7)
	require.NoError(t, err)
	assert.Equal(t, "SPAR", src.Retailer)
	assert.Equal(t, "Weekly Deals Vienna", src.SaleTitle)
	assert.Equal(t, "spar_2025-10-20_Weekly_Deals Vienna.pdf", src.FileName)
	assert.Equal(t, date(2025, time.October, 20), src.ValidFrom)
	assert.Equal(t, date(2025, time.October, 26), src.ValidUntil)
}

func TestParseFlyerFilename_Malformed(t *testing.T) {
	for _, name := range []string{
		"SPAR.pdf",
		"SPAR_2025-10-20.pdf",
		"SPAR_20.10.2025_Weekly.pdf",
		"_2025-10-20_Weekly.pdf",
		"SPAR_2025-10-20_ .pdf",
		"SPAR_2025-10-20_Weekly.txt",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFlyerFilename(name, 7)
			var fe *FilenameError
			assert.ErrorAs(t, err, &fe)
		})
	}
}

func TestParseFlyerFilename_BadDateKeepsCause(t *testing.T) {
	_, err := ParseFlyerFilename("SPAR_2025-13-40_Weekly.pdf", 7)
	var fe *FilenameError
	require.ErrorAs(t, err, &fe)
	var pe *time.ParseError
	assert.ErrorAs(t, err, &pe)
}

func TestDiscoverFlyers(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SPAR_2025-10-20_Weekly.pdf"), []byte("%PDF-1.7 a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "BILLA_2025-10-21_Weekend.PDF"), []byte("%PDF-1.7 b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "flyer.pdf"), []byte("%PDF-1.7 c"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "archive.pdf"), 0o755))

	found, err := DiscoverFlyers(dir, 7)
	require.NoError(t, err)
	require.Len(t, found, 3)

	assert.Equal(t, "BILLA_2025-10-21_Weekend.PDF", found[0].Source.FileName)
	assert.NoError(t, found[0].Err)
	assert.Equal(t, "SPAR_2025-10-20_Weekly.pdf", found[1].Source.FileName)
	assert.NoError(t, found[1].Err)
	assert.Len(t, found[1].Source.ContentDigest, 64)
	assert.EqualValues(t, len("%PDF-1.7 a"), found[1].Source.SizeBytes)
	assert.NotEqual(t, found[0].Source.ContentDigest, found[1].Source.ContentDigest)

	var fe *FilenameError
	assert.ErrorAs(t, found[2].Err, &fe)
}

func TestLoadFlyerSource_DigestFollowsContent(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "SPAR_2025-10-20_A.pdf")
	b := filepath.Join(dir, "SPAR_2025-10-27_Renamed.pdf")
	require.NoError(t, os.WriteFile(a, []byte("same bytes"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("same bytes"), 0o644))

	srcA, err := LoadFlyerSource(a, 7)
	require.NoError(t, err)
	srcB, err := LoadFlyerSource(b, 7)
	require.NoError(t, err)
	assert.Equal(t, srcA.Key(), srcB.Key())
}
