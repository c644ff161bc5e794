// Package stock searches the upstream stock index and normalizes its results.
package stock

import (
	"fmt"

	"github.com/omahaaigc/agent-chat/internal/domain"
	"github.com/omahaaigc/agent-chat/internal/shared"
)

// Key lookup order for heterogeneous upstream records.
var (
	codeKeys = []string{"ts_code", "tsCode", "TSCode", "tscode", "code", "symbol"}
	nameKeys = []string{"name", "stockName", "StockName", "cname", "cnName", "security_name_abbr"}
)

// Normalize converts a search response into stock items. The body may be a
// bare array or an object with a data array. Records without a code are
// dropped.
func Normalize(body []byte) ([]domain.StockItem, error) {
	v, err := shared.DecodeLoose(body)
	if err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	var list []any
	switch t := v.(type) {
	case []any:
		list = t
	case map[string]any:
		if data, ok := t["data"].([]any); ok {
			list = data
		}
	}

	items := make([]domain.StockItem, 0, len(list))
	for _, entry := range list {
		record, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		code := firstTruthy(record, codeKeys)
		if !shared.Truthy(code) {
			continue
		}
		name := firstTruthy(record, nameKeys)
		if !shared.Truthy(name) {
			name = code
		}
		item := domain.StockItem{
			Code: shared.LooseString(code),
			Name: shared.LooseString(name),
		}
		if item.Code == "" {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func firstTruthy(record map[string]any, keys []string) any {
	for _, key := range keys {
		if v := record[key]; shared.Truthy(v) {
			return v
		}
	}
	return nil
}
