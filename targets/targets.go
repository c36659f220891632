// Package targets loads the full target list and derives the work queue.
package targets

import (
	"encoding/json"
	"os"

	"github.com/use-agent/harvest/models"
)

// Load reads a JSON array of target URLs. Any failure is a LOAD_FAILED
// error; the run cannot start without its list.
func Load(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, models.NewHarvestError(models.ErrCodeLoad, "failed to read target list", err)
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, models.NewHarvestError(models.ErrCodeLoad, "target list is not a JSON array of strings", err)
	}
	return list, nil
}

// BuildQueue returns list minus seen, in list order. Empty entries and
// repeats are dropped so that each target is processed once per run.
func BuildQueue(list, seen []string) []string {
	skip := make(map[string]struct{}, len(seen)+len(list))
	for _, s := range seen {
		skip[s] = struct{}{}
	}
	queue := make([]string, 0, len(list))
	for _, t := range list {
		if t == "" {
			continue
		}
		if _, ok := skip[t]; ok {
			continue
		}
		skip[t] = struct{}{}
		queue = append(queue, t)
	}
	return queue
}
