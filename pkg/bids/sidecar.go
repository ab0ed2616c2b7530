package bids

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
)

var ErrInvalidJSON = errors.New("invalid JSON document")

// sidecarStyle matches two-space json.dump output: one array element per line.
var sidecarStyle = &pretty.Options{Indent: "  "}

// EditSidecar reads the JSON document at src, applies edit and writes the
// re-indented result to dst. Key order is preserved; new keys are appended.
func EditSidecar(src, dst string, edit func(doc []byte) ([]byte, error)) error {
	doc, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("error reading sidecar: %w", err)
	}
	if !gjson.ValidBytes(doc) {
		return fmt.Errorf("%s: %w", filepath.Base(src), ErrInvalidJSON)
	}
	doc, err = edit(doc)
	if err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(src), err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("error creating directory: %w", err)
	}
	return os.WriteFile(dst, pretty.PrettyOptions(doc, sidecarStyle), 0o644)
}

// UpdateSidecar edits a sidecar in place.
func UpdateSidecar(path string, edit func(doc []byte) ([]byte, error)) error {
	return EditSidecar(path, path, edit)
}

// SetField returns an edit that sets key to value.
func SetField(key string, value any) func([]byte) ([]byte, error) {
	return func(doc []byte) ([]byte, error) {
		return sjson.SetBytes(doc, key, value)
	}
}

// Field returns the raw value of key in a sidecar, and whether it was present.
func Field(path, key string) (gjson.Result, bool, error) {
	doc, err := os.ReadFile(path)
	if err != nil {
		return gjson.Result{}, false, fmt.Errorf("error reading sidecar: %w", err)
	}
	r := gjson.GetBytes(doc, key)
	return r, r.Exists(), nil
}
