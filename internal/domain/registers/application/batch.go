package application

import (
	"sort"

	"paydesk/internal/core/types"
)

// GroupByPayType partitions apps by pay type, ordered by pay type name.
// Rows keep their input order inside a group.
func GroupByPayType(apps []PaymentApplication) Batch {
	index := make(map[string]int)
	batch := Batch{GrandTotal: types.Zero()}

	for _, a := range apps {
		i, ok := index[a.PayType]
		if !ok {
			i = len(batch.Groups)
			index[a.PayType] = i
			batch.Groups = append(batch.Groups, Group{PayType: a.PayType, Subtotal: types.Zero()})
		}
		g := &batch.Groups[i]
		g.Applications = append(g.Applications, a)
		g.Count++
		g.Subtotal = g.Subtotal.Add(a.AmountApplied)

		batch.Count++
		batch.GrandTotal = batch.GrandTotal.Add(a.AmountApplied)
	}

	sort.SliceStable(batch.Groups, func(i, j int) bool {
		return batch.Groups[i].PayType < batch.Groups[j].PayType
	})
	return batch
}
