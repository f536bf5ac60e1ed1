package app

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Ramsey-B/fern/pkg/models"
)

// ReadBatchFile decodes a prepared batch written as YAML or JSON.
func ReadBatchFile(path string) (models.Batch, error) {
	var batch models.Batch
	err := readFile(path, &batch)
	return batch, err
}

func ReadBatch(r io.Reader) (models.Batch, error) {
	var batch models.Batch
	err := decode(r, &batch)
	return batch, err
}

// ReadMergeRequestsFile decodes a list of manual entity merges.
func ReadMergeRequestsFile(path string) ([]models.MergeRequest, error) {
	var requests []models.MergeRequest
	err := readFile(path, &requests)
	return requests, err
}

func readFile(path string, out any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return decode(f, out)
}

// decode accepts YAML or JSON. YAML is a superset of JSON, so both go through the YAML decoder
// and are re-encoded as JSON for the models' own unmarshalers.
func decode(r io.Reader, out any) error {
	var doc any
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to re-encode document: %w", err)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	return nil
}
