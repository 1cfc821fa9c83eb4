package crawler

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoInput is returned when an input source yields no URLs.
var ErrNoInput = errors.New("no video links in input")

type linksFile struct {
	VideoLinks []string `json:"video_links"`
	Videos     []struct {
		URL string `json:"url"`
	} `json:"videos"`
}

// LoadLinks reads the URL list produced by link discovery. The file may be a
// bare JSON array, an object with "video_links", or a result document with
// "videos". Blank entries are dropped; order is preserved.
func LoadLinks(path string) ([]string, error) {
	// #nosec G304 -- the input path is supplied by the operator.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	links, err := parseLinks(data)
	if err != nil {
		return nil, fmt.Errorf("parse input %s: %w", path, err)
	}
	if len(links) == 0 {
		return nil, ErrNoInput
	}
	return links, nil
}

func parseLinks(data []byte) ([]string, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("decode link array: %w", err)
		}
		return compact(list), nil
	}
	var file linksFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode link object: %w", err)
	}
	if len(file.VideoLinks) > 0 {
		return compact(file.VideoLinks), nil
	}
	urls := make([]string, 0, len(file.Videos))
	for _, v := range file.Videos {
		urls = append(urls, v.URL)
	}
	return compact(urls), nil
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// DefaultOutputPath derives "<stem>_metadata.json" next to the input file.
func DefaultOutputPath(inputPath string) string {
	dir := filepath.Dir(inputPath)
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, stem+"_metadata.json")
}
