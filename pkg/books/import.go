package books

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
)

// DefaultImportBatchSize is used when ImportBooks gets a non-positive batch size.
const DefaultImportBatchSize = 100

// ImportResult counts what an import did. Only committed batches are counted.
type ImportResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// ImportBooks stores every book of seq, committing every batchSize books so
// readers are not starved by one long writer. A book whose UUID is already
// in the store updates that book; any other book is created. Cancelling ctx
// rolls back the batch in progress and keeps the ones already committed.
func (c *Catalogue) ImportBooks(ctx context.Context, seq iter.Seq[Book], batchSize int) (ImportResult, error) {
	if batchSize <= 0 {
		batchSize = DefaultImportBatchSize
	}

	var (
		result  ImportResult
		pending ImportResult
		batch   []Book
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		pending = ImportResult{}
		err := c.h.WithTx(ctx, func(ctx context.Context) error {
			for _, b := range batch {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := c.importBook(ctx, b, &pending); err != nil {
					return err
				}
			}
			return nil
		})
		batch = batch[:0]
		if err != nil {
			return err
		}
		result.Created += pending.Created
		result.Updated += pending.Updated
		c.logger.Info("import_batch_committed",
			slog.Int("created", pending.Created),
			slog.Int("updated", pending.Updated))
		return nil
	}

	for b := range seq {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		batch = append(batch, b)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return result, importError(err)
			}
		}
	}
	if err := flush(); err != nil {
		return result, importError(err)
	}
	return result, nil
}

func (c *Catalogue) importBook(ctx context.Context, b Book, counts *ImportResult) error {
	if b.UUID != "" {
		id, err := c.bookIDByUUID(ctx, b.UUID)
		if err != nil {
			return err
		}
		if id != 0 {
			b.ID = id
			if _, err := c.UpdateBook(ctx, b); err != nil {
				return err
			}
			counts.Updated++
			return nil
		}
	}
	b.ID = 0
	if _, err := c.CreateBook(ctx, b); err != nil {
		return err
	}
	counts.Created++
	return nil
}

func importError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("import failed: %w", err)
}
