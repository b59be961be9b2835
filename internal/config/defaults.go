package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/kotaeru/data/db/engines.db"
	}
	if cfg.Objects.Backend == "" {
		cfg.Objects.Backend = "gcs"
	}
	if cfg.Embedding.Backend == "" {
		cfg.Embedding.Backend = "gemini"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-004"
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "GEMINI_API_KEY"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 768
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 5
	}
	if cfg.Embedding.CallsPerMinute == 0 {
		cfg.Embedding.CallsPerMinute = 300
	}
	if cfg.Embedding.Workers == 0 {
		cfg.Embedding.Workers = 4
	}
	if cfg.Index.ApproximateNeighborCount == 0 {
		cfg.Index.ApproximateNeighborCount = 150
	}
	if cfg.Index.DistanceMeasure == "" {
		cfg.Index.DistanceMeasure = "DOT_PRODUCT_DISTANCE"
	}
	if cfg.Index.LeafNodeEmbeddingCount == 0 {
		cfg.Index.LeafNodeEmbeddingCount = 500
	}
	if cfg.Index.LeafNodesToSearchPercent == 0 {
		cfg.Index.LeafNodesToSearchPercent = 80
	}
	if cfg.Index.MaxChunksPerFile == 0 {
		cfg.Index.MaxChunksPerFile = 1000
	}
	if cfg.Query.NumNeighbors == 0 {
		cfg.Query.NumNeighbors = 5
	}
	if cfg.Query.ChunkSize == 0 {
		cfg.Query.ChunkSize = 1000
	}
	if cfg.Query.ChatModel == "" {
		cfg.Query.ChatModel = "gemini-2.0-flash"
	}
}
