package locks

import (
	"encoding/json"
	"reflect"
	"sort"
)

// ChangedFields returns the sorted top-level field names whose values differ
// between two JSON snapshots. Fields present in only one snapshot count as
// changed. Unparseable snapshots yield an empty diff rather than an error;
// the diff only feeds conflict display.
func ChangedFields(base, head json.RawMessage) []string {
	baseMap := decodeSnapshot(base)
	headMap := decodeSnapshot(head)

	seen := map[string]struct{}{}
	changed := make([]string, 0)
	for key, baseValue := range baseMap {
		seen[key] = struct{}{}
		headValue, ok := headMap[key]
		if !ok || !reflect.DeepEqual(baseValue, headValue) {
			changed = append(changed, key)
		}
	}
	for key := range headMap {
		if _, ok := seen[key]; !ok {
			changed = append(changed, key)
		}
	}
	sort.Strings(changed)
	return changed
}

func decodeSnapshot(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return map[string]any{}
	}
	return decoded
}
