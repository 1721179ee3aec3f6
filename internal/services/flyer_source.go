package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Lllllllleong/flyerextract/internal/models"
)

// ParseFlyerFilename parses RETAILER_YYYY-MM-DD_SaleTitle.pdf. The date is the
// first day of validity; the window spans validityDays days.
func ParseFlyerFilename(fileName string, validityDays int) (models.FlyerSource, error) {
	base := filepath.Base(fileName)
	ext := filepath.Ext(base)
	if !strings.EqualFold(ext, ".pdf") {
		return models.FlyerSource{}, &FilenameError{FileName: base, Reason: "not a .pdf file"}
	}
	parts := strings.SplitN(strings.TrimSuffix(base, ext), "_", 3)
	if len(parts) < 3 {
		return models.FlyerSource{}, &FilenameError{FileName: base, Reason: "expected RETAILER_YYYY-MM-DD_SaleTitle"}
	}

	retailer := strings.ToUpper(strings.TrimSpace(parts[0]))
	if retailer == "" {
		return models.FlyerSource{}, &FilenameError{FileName: base, Reason: "empty retailer"}
	}
	validFrom, err := time.Parse(models.DateLayout, parts[1])
	if err != nil {
		return models.FlyerSource{}, &FilenameError{FileName: base, Reason: fmt.Sprintf("invalid date token %q", parts[1]), Err: err}
	}
	title := CleanName(strings.ReplaceAll(parts[2], "_", " "))
	if title == "" {
		return models.FlyerSource{}, &FilenameError{FileName: base, Reason: "empty sale title"}
	}
	if validityDays < 1 {
		validityDays = 1
	}

	return models.FlyerSource{
		Path:       fileName,
		FileName:   base,
		Retailer:   retailer,
		SaleTitle:  title,
		ValidFrom:  validFrom,
		ValidUntil: validFrom.AddDate(0, 0, validityDays-1),
	}, nil
}

// DiscoveredFile is a PDF found in the input directory. Source is only valid
// when Err is nil.
type DiscoveredFile struct {
	Path   string
	Source models.FlyerSource
	Err    error
}

// DiscoverFlyers lists the PDFs in dir in name order, parses their names and
// fingerprints their content. Malformed files are returned with Err set so the
// caller can report them without aborting the run.
func DiscoverFlyers(dir string, validityDays int) ([]DiscoveredFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input directory %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var found []DiscoveredFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		src, err := LoadFlyerSource(path, validityDays)
		found = append(found, DiscoveredFile{Path: path, Source: src, Err: err})
	}
	return found, nil
}

// LoadFlyerSource parses the filename of path and records its size,
// modification time and content digest.
func LoadFlyerSource(path string, validityDays int) (models.FlyerSource, error) {
	src, err := ParseFlyerFilename(path, validityDays)
	if err != nil {
		return models.FlyerSource{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return models.FlyerSource{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	digest, err := calculateFileHash(path)
	if err != nil {
		return models.FlyerSource{}, fmt.Errorf("failed to calculate file hash: %w", err)
	}
	src.SizeBytes = info.Size()
	src.ModTime = info.ModTime().UTC()
	src.ContentDigest = digest
	return src, nil
}

func calculateFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
