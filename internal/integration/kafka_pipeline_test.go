//go:build integration

package integration_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonas-p/go-shp"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkacontainer "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/tornado-season/internal/adapter/kafka"
	"github.com/couchcryptid/tornado-season/internal/adapter/shapefile"
	"github.com/couchcryptid/tornado-season/internal/adapter/spc"
	"github.com/couchcryptid/tornado-season/internal/config"
	"github.com/couchcryptid/tornado-season/internal/curve"
	"github.com/couchcryptid/tornado-season/internal/domain"
	"github.com/couchcryptid/tornado-season/internal/fit"
	"github.com/couchcryptid/tornado-season/internal/observability"
	"github.com/couchcryptid/tornado-season/internal/pipeline"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	kc, err := kafkacontainer.Run(ctx, "confluentinc/confluent-local:7.5.0", testcontainers.WithEnv(map[string]string{
		"KAFKA_AUTO_CREATE_TOPICS_ENABLE": "true",
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kc.Terminate(context.Background()) })

	brokers, err := kc.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

type publishedMessage struct {
	Summary domain.SeasonSummary
	Key     string
	Headers map[string]string
}

func readPublished(ctx context.Context, t *testing.T, broker, topic string, n int) []publishedMessage {
	t.Helper()
	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       topic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	out := make([]publishedMessage, 0, n)
	for len(out) < n {
		msg, err := consumer.ReadMessage(readCtx)
		require.NoError(t, err, "read from summaries topic")

		headers := make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}
		var s domain.SeasonSummary
		require.NoError(t, json.Unmarshal(msg.Value, &s))
		out = append(out, publishedMessage{Summary: s, Key: string(msg.Key), Headers: headers})
	}
	return out
}

// TestKafkaWriter verifies summaries survive a round trip through a broker
// with their key and headers.
func TestKafkaWriter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	topic := "test-summaries"
	createTopic(t, broker, topic)

	cfg := &config.Config{KafkaBrokers: []string{broker}, KafkaTopic: topic}
	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	generated := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	summaries := []domain.SeasonSummary{
		{RunID: "run-1", Model: "nls", Total: 1200, Onset: 80, Peak: 130, Decline: 240, GeneratedAt: generated},
		{RunID: "run-1", Model: "bayes-single-re", Year: 2011, Total: 1690, Onset: 70, Peak: 117, Decline: 250, GeneratedAt: generated},
	}
	require.NoError(t, writer.LoadBatch(ctx, summaries))

	got := readPublished(ctx, t, broker, topic, len(summaries))
	for i, m := range got {
		assert.Equal(t, kafka.MessageKey(summaries[i]), m.Key)
		assert.Equal(t, summaries[i].Model, m.Headers["model"])
		assert.Equal(t, "run-1", m.Headers["run_id"])
		assert.Equal(t, generated.Format(time.RFC3339), m.Headers["generated_at"])
		assert.Equal(t, summaries[i], m.Summary)
	}
}

// TestPipelineEndToEnd downloads a zipped shapefile over HTTP, fits the
// least-squares model and publishes its summary to Kafka.
func TestPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	topic := "test-season-fits"
	createTopic(t, broker, topic)

	archive := shapefileArchive(t, map[int]float64{2005: 400, 2006: 500})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(archive)
	}))
	t.Cleanup(srv.Close)

	logger := discardLogger()
	cfg := &config.Config{KafkaBrokers: []string{broker}, KafkaTopic: topic}
	writer := kafka.NewWriter(cfg, logger)
	t.Cleanup(func() { _ = writer.Close() })

	fetcher := spc.NewFetcher(srv.URL+"/torn.zip", t.TempDir(), false, time.Minute, logger)
	p := pipeline.New(fetcher, shapefile.NewLoader(logger), writer, pipeline.Options{
		Source:       srv.URL,
		MinYear:      2000,
		MinMagnitude: 1,
		Models:       []string{"nls"},
		Sampler:      fit.SamplerConfig{Chains: 1, Warmup: 10, Draws: 10, Seed: 1},
		OutputDir:    t.TempDir(),
	}, logger, observability.NewMetricsForTesting())

	res, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{2005, 2006}, domain.Years(res.Cumulative))
	require.Len(t, res.Summaries, 1)

	got := readPublished(ctx, t, broker, topic, 1)
	assert.Equal(t, "nls|0", got[0].Key)
	assert.Equal(t, res.RunID, got[0].Headers["run_id"])
	assert.Equal(t, res.Summaries[0].Total, got[0].Summary.Total)
	assert.InDelta(t, res.Summaries[0].Peak, got[0].Summary.Peak, 1e-9)
}

// shapefileArchive writes an SPC-shaped shapefile with tracks following a
// single season curve and returns it zipped.
func shapefileArchive(t *testing.T, totals map[int]float64) []byte {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "torn.shp")
	w, err := shp.Create(path, shp.POLYLINE)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{
		shp.NumberField("om", 10),
		shp.StringField("date", 10),
		shp.StringField("mag", 3),
		shp.FloatField("slat", 10, 4),
		shp.FloatField("slon", 10, 4),
	}))

	om := 0
	for year, a := range totals {
		p := []float64{a, 0.45, 6}
		start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		for d := 1; d <= 365; d++ {
			n := int(math.Round(curve.Single.Eval(p, domain.DayFraction(d)) - curve.Single.Eval(p, domain.DayFraction(d-1))))
			for range n {
				om++
				idx := int(w.Write(shp.NewPolyLine([][]shp.Point{{{X: -97, Y: 35}, {X: -96.9, Y: 35.1}}})))
				for i, v := range []any{om, start.AddDate(0, 0, d-1).Format("2006-01-02"), "2", 35.0, -97.0} {
					require.NoError(t, w.WriteAttribute(idx, i, v))
				}
			}
		}
	}
	w.Close()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, ext := range []string{".shp", ".shx", ".dbf"} {
		data, err := os.ReadFile(filepath.Join(dir, "torn"+ext))
		require.NoError(t, err)
		f, err := zw.Create("torn" + ext)
		require.NoError(t, err)
		_, err = f.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}
