package polymarket

// clob.go: libros de órdenes del CLOB.
//
// Los token_ids se deduplican y se parten en lotes para POST /books. Los lotes
// corren en un errgroup con límite de concurrencia; el primer fallo cancela el
// resto. El ritmo real lo marca booksLimiter.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

const (
	booksPath      = "/books"
	batchSize      = 20 // máx token_ids por request a /books
	maxBookFetches = 4  // lotes en vuelo a la vez
)

// FetchOrderBooks devuelve los libros indexados por token_id. Un token sin
// libro en la respuesta simplemente no aparece en el mapa.
func (c *Client) FetchOrderBooks(ctx context.Context, tokenIDs []string) (map[string]domain.OrderBook, error) {
	tokenIDs = uniqueTokens(tokenIDs)
	books := make(map[string]domain.OrderBook, len(tokenIDs))
	if len(tokenIDs) == 0 {
		return books, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxBookFetches)
	for i, batch := range splitBatches(tokenIDs, batchSize) {
		g.Go(func() error {
			got, err := c.fetchBooksBatch(gctx, batch)
			if err != nil {
				return fmt.Errorf("clob.FetchOrderBooks: batch %d: %w", i, err)
			}
			mu.Lock()
			defer mu.Unlock()
			for id, b := range got {
				books[id] = b
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.Debug("order books fetched", "tokens", len(tokenIDs), "books", len(books))
	return books, nil
}

// uniqueTokens quita vacíos y repetidos conservando el orden.
func uniqueTokens(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func splitBatches(tokenIDs []string, size int) [][]string {
	if size <= 0 {
		size = batchSize
	}
	batches := make([][]string, 0, (len(tokenIDs)+size-1)/size)
	for i := 0; i < len(tokenIDs); i += size {
		batches = append(batches, tokenIDs[i:min(i+size, len(tokenIDs))])
	}
	return batches
}

func (c *Client) fetchBooksBatch(ctx context.Context, tokenIDs []string) (map[string]domain.OrderBook, error) {
	body := make([]orderBookRequest, len(tokenIDs))
	for i, id := range tokenIDs {
		body[i] = orderBookRequest{TokenID: id}
	}

	var resp []orderBookResponse
	if err := c.http.PostJSON(ctx, c.booksLimiter, c.clobBase+booksPath, body, &resp); err != nil {
		return nil, fmt.Errorf("POST /books: %w", err)
	}
	return mapOrderBooks(resp), nil
}
