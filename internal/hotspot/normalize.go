package hotspot

import (
	_ "embed"
	"encoding/json"
	"strings"
	"sync"

	"github.com/eliteminer/core/internal/logging"
)

//go:embed aliasdata/materials.json
var materialAliasJSON []byte

var (
	aliasOnce  sync.Once
	aliasTable map[string]string
)

func loadMaterialAliases() map[string]string {
	aliasOnce.Do(func() {
		aliasTable = map[string]string{}
		if err := json.Unmarshal(materialAliasJSON, &aliasTable); err != nil {
			logging.WithComponent("hotspot").WithError(err).Error("failed to parse embedded material alias table")
		}
	})
	return aliasTable
}

// NormalizeMaterialName maps a raw journal/CSV material string onto its
// canonical display name via the embedded alias table, falling back to a
// title-cased pass-through for anything the table doesn't recognize.
func NormalizeMaterialName(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return ""
	}
	aliases := loadMaterialAliases()
	if canonical, ok := aliases[key]; ok {
		return canonical
	}
	return titleCase(key)
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if w == "" {
			continue
		}
		r := []rune(w)
		r[0] = []rune(strings.ToUpper(string(r[0])))[0]
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// NormalizeBodyName reduces a raw journal body name to the store's
// canonical key form relative to its owning system:
//
//  1. if body starts with system (case-insensitive), that prefix is
//     stripped -- the system name is already its own column, so the body
//     key should not repeat it
//  2. internal whitespace left behind by the strip collapses to single
//     spaces
//  3. ring-letter case is never touched: "2 a A Ring" and "2 A Ring" name
//     different physical rings and must stay distinct
func NormalizeBodyName(body, system string) string {
	trimmedBody := strings.TrimSpace(body)
	trimmedSystem := strings.TrimSpace(system)
	if trimmedBody == "" || trimmedSystem == "" {
		return collapseWhitespace(trimmedBody)
	}
	if len(trimmedBody) >= len(trimmedSystem) &&
		strings.EqualFold(trimmedBody[:len(trimmedSystem)], trimmedSystem) {
		trimmedBody = strings.TrimSpace(trimmedBody[len(trimmedSystem):])
	}
	return collapseWhitespace(trimmedBody)
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
