// Package searcher answers "where is X" questions over analyzed scans.
//
// A search runs in four stages:
//
//   - QueryDecomposer asks a small model for {room, item}. An explicit room
//     from the caller overrides the extracted one; a missing item falls back
//     to the lowercased query.
//   - CandidateRetriever embeds the query and the item in one batch, then runs
//     scene-level search (query vector against scene embeddings, threshold
//     0.1, top 5) and object-level search (item vector against the object
//     labels of the 50 most recent scans with objects, threshold 0.5, top 5)
//     concurrently.
//   - Merge puts object matches first, appends scene matches, drops repeated
//     scans and caps the list at 5.
//   - Reranker renders one evidence block per candidate and asks the judge
//     model for {answer, match_index}.
//
// # Basic Usage
//
//	s := searcher.NewSearcher(store, emb, completer, m, logger, searcher.Config{})
//
//	resp, err := s.Search(ctx, searcher.SearchRequest{
//	    Query: "where did I leave my keys",
//	})
//	if err != nil {
//	    return err
//	}
//	fmt.Println(resp.Result.Answer)
//	if resp.Result.Image != nil {
//	    fmt.Println(*resp.Result.Image)
//	}
//
// When the merged list is empty the answer is types.NoMatchAnswer with a nil
// image, and the judge is not called.
//
// # Caching
//
// Extractor replies are cached per query in an LRU with a TTL (default 1000
// entries, one hour). Retrieval itself is never cached because new scans can
// arrive at any time.
//
// # Errors
//
// Errors wrap the sentinels in pkg/types: ErrInput for an empty query,
// ErrUpstream or ErrUpstreamParse for model and embedding failures, and
// ErrStorage for lookup failures. An out-of-range match_index from the judge
// is not an error; it yields a nil image.
package searcher
