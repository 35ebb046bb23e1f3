package saver

import (
	"encoding/json"
	"os"

	"ohlcv-prep/internal/model"
)

// JSONSaver lưu series dưới dạng JSON (array, indent).
type JSONSaver struct{}

func (JSONSaver) Extension() string { return "json" }

func (JSONSaver) Save(bars []model.EnrichedBar, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(bars)
}
