package storage

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
)

// maxBatchSize is the entity group transaction limit of Table Storage.
const maxBatchSize = 100

// mergeActions encodes ents as merge actions split into transactions of at
// most maxBatchSize.
func mergeActions(ents []any) ([][]aztables.TransactionAction, error) {
	var batches [][]aztables.TransactionAction
	et := azcore.ETagAny
	for start := 0; start < len(ents); start += maxBatchSize {
		end := min(start+maxBatchSize, len(ents))
		batch := make([]aztables.TransactionAction, 0, end-start)
		for _, ent := range ents[start:end] {
			payload, err := sonic.Marshal(ent)
			if err != nil {
				return nil, err
			}
			batch = append(batch, aztables.TransactionAction{
				ActionType: aztables.TransactionTypeUpdateMerge,
				Entity:     payload,
				IfMatch:    &et,
			})
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

func submitMerges(ctx context.Context, table *aztables.Client, ents []any) error {
	batches, err := mergeActions(ents)
	if err != nil {
		return err
	}
	for i, batch := range batches {
		if _, err := table.SubmitTransaction(ctx, batch, nil); err != nil {
			return fmt.Errorf("submit order batch %d/%d: %w", i+1, len(batches), notFound(err))
		}
	}
	return nil
}
