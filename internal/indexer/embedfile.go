package indexer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// embeddingRecord is one line of an index-ingestible embedding file. Both the
// id and the vector components are serialized as strings.
type embeddingRecord struct {
	ID        string   `json:"id"`
	Embedding []string `json:"embedding"`
}

// writeEmbeddingFiles serializes a document's chunk vectors into
// newline-delimited JSON files under dir, at most maxPerFile records each.
// Record ids are baseIndex plus the chunk's position, so a failed entry
// (nil vector) is skipped without shifting the ids of later chunks. File
// names follow "{docStem}_{firstIndex}_index.json".
func writeEmbeddingFiles(dir, docStem string, baseIndex int64, vectors [][]float32, maxPerFile int) ([]string, error) {
	if maxPerFile <= 0 {
		maxPerFile = 1000
	}

	var paths []string
	for start := 0; start < len(vectors); start += maxPerFile {
		end := start + maxPerFile
		if end > len(vectors) {
			end = len(vectors)
		}

		firstIndex := baseIndex + int64(start)
		name := fmt.Sprintf("%s_%d_index.json", docStem, firstIndex)
		path := filepath.Join(dir, name)
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("create embedding file: %w", err)
		}

		enc := json.NewEncoder(f)
		wrote := false
		for pos := start; pos < end; pos++ {
			vec := vectors[pos]
			if vec == nil {
				continue
			}
			rec := embeddingRecord{
				ID:        strconv.FormatInt(baseIndex+int64(pos), 10),
				Embedding: make([]string, len(vec)),
			}
			for i, v := range vec {
				rec.Embedding[i] = strconv.FormatFloat(float64(v), 'g', -1, 32)
			}
			if err := enc.Encode(&rec); err != nil {
				f.Close()
				return nil, fmt.Errorf("write embedding record %s: %w", rec.ID, err)
			}
			wrote = true
		}
		if err := f.Close(); err != nil {
			return nil, fmt.Errorf("close embedding file: %w", err)
		}
		if !wrote {
			// Every chunk in this range failed; drop the empty file.
			os.Remove(path)
			continue
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// docStem strips the extension from a staged document name for use in
// embedding file names.
func stemOf(name string) string {
	ext := filepath.Ext(name)
	return name[:len(name)-len(ext)]
}
