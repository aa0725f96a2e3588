package reconcile

import "github.com/surrealdb/scenesync/pkg/models"

// ApplyOrder arranges elements by order. Ids in order that are not present
// are skipped, repeated ids are honored at their first position, and
// elements order does not mention follow in their existing relative order.
// The result is always a permutation of elements. A nil or empty order
// returns elements unchanged.
func ApplyOrder(elements []models.Element, order []string) []models.Element {
	if len(order) == 0 {
		return elements
	}

	index := make(map[string]int, len(elements))
	for i := range elements {
		if _, dup := index[elements[i].ID]; !dup {
			index[elements[i].ID] = i
		}
	}

	out := make([]models.Element, 0, len(elements))
	used := make([]bool, len(elements))
	for _, id := range order {
		i, ok := index[id]
		if !ok || used[i] {
			continue
		}
		used[i] = true
		out = append(out, elements[i])
	}
	for i := range elements {
		if !used[i] {
			out = append(out, elements[i])
		}
	}
	return out
}
