package db

import (
	"strings"
	"testing"
)

func TestPageBounds(t *testing.T) {
	tests := []struct {
		name                string
		page, limit         int
		wantPage, wantLimit int
		wantOffset          int
	}{
		{"defaults", 0, 0, 1, 50, 0},
		{"second page", 2, 20, 2, 20, 20},
		{"limit capped", 3, 1000, 3, 50, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, limit, offset := PageBounds(tt.page, tt.limit)
			if page != tt.wantPage || limit != tt.wantLimit || offset != tt.wantOffset {
				t.Errorf("Expected %d/%d/%d. Got: %d/%d/%d", tt.wantPage, tt.wantLimit, tt.wantOffset, page, limit, offset)
			}
		})
	}
}

func TestSchemaEmbedded(t *testing.T) {
	for _, table := range windowTables {
		if !strings.Contains(schemaSQL, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("Expected schema to create %s", table)
		}
	}
}
