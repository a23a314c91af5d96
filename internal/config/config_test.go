package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docstream/docstream/internal/config"
)

func TestLoadWorkerDefaults(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("UPLOAD_QUEUE", "")
	t.Setenv("PROCESSING_QUEUE", "")
	t.Setenv("ANALYSIS_QUEUE", "")
	t.Setenv("UPLOAD_WORKERS", "")
	t.Setenv("PROCESSING_WORKERS", "")
	t.Setenv("MAX_RETRIES", "")
	t.Setenv("MESSAGE_PROCESSING_TIMEOUT", "")

	cfg, err := config.LoadWorker()
	require.NoError(t, err)

	require.Len(t, cfg.KafkaBrokers, 1)
	require.Equal(t, "kafka:9092", cfg.KafkaBrokers[0])
	require.Equal(t, "upload", cfg.UploadQueue)
	require.Equal(t, "processing", cfg.ProcessingQueue)
	require.Equal(t, "analysis", cfg.AnalysisQueue)
	require.Equal(t, 2, cfg.UploadWorkers)
	require.Equal(t, 3, cfg.ProcessingWorkers)
	require.Equal(t, 3, cfg.MaxRetries)
	require.Equal(t, 300*time.Second, cfg.MessageTimeout)
}

func TestLoadWorkerOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "broker-a:29092,broker-b:29093")
	t.Setenv("UPLOAD_QUEUE", "docs_upload")
	t.Setenv("PROCESSING_QUEUE", "docs_processing")
	t.Setenv("ANALYSIS_QUEUE", "docs_analysis")
	t.Setenv("KAFKA_CONSUMER_GROUP", "custom-group")
	t.Setenv("UPLOAD_WORKERS", "4")
	t.Setenv("PROCESSING_WORKERS", "8")
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("MESSAGE_PROCESSING_TIMEOUT", "90s")
	t.Setenv("EMBEDDING_HOST", "http://ollama:11434")

	cfg, err := config.LoadWorker()
	require.NoError(t, err)

	require.Len(t, cfg.KafkaBrokers, 2)
	require.Equal(t, "broker-a:29092", cfg.KafkaBrokers[0])
	require.Equal(t, "docs_upload", cfg.UploadQueue)
	require.Equal(t, "docs_processing", cfg.ProcessingQueue)
	require.Equal(t, "docs_analysis", cfg.AnalysisQueue)
	require.Equal(t, "custom-group", cfg.ConsumerGroup)
	require.Equal(t, 4, cfg.UploadWorkers)
	require.Equal(t, 8, cfg.ProcessingWorkers)
	require.Equal(t, 5, cfg.MaxRetries)
	require.Equal(t, 90*time.Second, cfg.MessageTimeout)
	require.Equal(t, "http://ollama:11434", cfg.EmbeddingHost)
}

func TestLoadWorkerRejectsBadPoolSizes(t *testing.T) {
	t.Setenv("PROCESSING_WORKERS", "0")

	_, err := config.LoadWorker()
	require.Error(t, err)
}

func TestLoadAPI(t *testing.T) {
	t.Setenv("API_BIND_ADDR", ":9090")
	t.Setenv("BATCH_SIZE", "7")
	t.Setenv("MAX_FILES", "25")
	t.Setenv("ALLOWED_EXTENSIONS", ".pdf,.txt")

	cfg, err := config.LoadAPI()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.BindAddr)
	require.Equal(t, 7, cfg.BatchSize)
	require.Equal(t, 25, cfg.MaxFiles)
	require.Equal(t, []string{".pdf", ".txt"}, cfg.AllowedExtensions)
}

func TestLoadAPIDefaults(t *testing.T) {
	t.Setenv("BATCH_SIZE", "")
	t.Setenv("MAX_FILES", "")
	t.Setenv("ALLOWED_EXTENSIONS", "")

	cfg, err := config.LoadAPI()
	require.NoError(t, err)
	require.Equal(t, 5, cfg.BatchSize)
	require.Equal(t, 100, cfg.MaxFiles)
	require.Equal(t, []string{".pdf"}, cfg.AllowedExtensions)
}

func TestLoadAPIRejectsBadExtension(t *testing.T) {
	t.Setenv("ALLOWED_EXTENSIONS", "pdf")

	_, err := config.LoadAPI()
	require.Error(t, err)
}

func TestLoadRetention(t *testing.T) {
	t.Setenv("ELASTICSEARCH_ADDR", "http://ret-es:9200")
	t.Setenv("ELASTICSEARCH_INDEX", "ret-index")
	t.Setenv("RETENTION_INTERVAL", "12h")
	t.Setenv("RETENTION_MAX_AGE", "36h")
	t.Setenv("RETENTION_BATCH_SIZE", "123")

	cfg, err := config.LoadRetention()
	require.NoError(t, err)

	require.Equal(t, 12*time.Hour, cfg.Interval)
	require.Equal(t, 36*time.Hour, cfg.MaxAge)
	require.Equal(t, 123, cfg.BatchSize)
	require.Equal(t, "http://ret-es:9200", cfg.ElasticsearchAddr)
	require.Equal(t, "ret-index", cfg.ElasticsearchIndex)
}
