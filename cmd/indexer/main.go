package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sudarshan/indexcore/internal/cache"
	"github.com/sudarshan/indexcore/internal/cli"
	"github.com/sudarshan/indexcore/internal/config"
	"github.com/sudarshan/indexcore/internal/dashboard"
	"github.com/sudarshan/indexcore/internal/mapper"
	"github.com/sudarshan/indexcore/internal/mergepolicy"
	"github.com/sudarshan/indexcore/internal/metastore"
	"github.com/sudarshan/indexcore/internal/source"
	"github.com/sudarshan/indexcore/internal/storage"
	"github.com/sudarshan/indexcore/internal/supervisor"
)

func main() {
	metastoreKind := flag.String("metastore", "memory", "metastore backend: memory or mongo")
	createIndex := flag.Bool("create-index", false, "bootstrap the index in an in-memory metastore if it doesn't exist (memory backend only)")
	timestampField := flag.String("timestamp-field", "", "required document field carrying the event timestamp")
	partitionField := flag.String("partition-field", "", "document field used to derive the partition key")
	requiredFields := flag.String("required-fields", "", "comma-separated list of fields every document must carry")
	withDashboard := flag.Bool("dashboard", false, "publish periodic IndexingStatistics reports to OpenSearch")
	quiet := flag.Bool("quiet", false, "suppress the Docker-style startup/shutdown banner")
	flag.Parse()

	cfg := config.Load()
	out := cli.New(*quiet)

	out.StartPhase(cfg.IndexID)
	out.Step(1, 3, fmt.Sprintf("connect metastore (%s)", *metastoreKind))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("received shutdown signal, cancelling...")
		cancel()
	}()

	ms, closeMetastore, err := openMetastore(ctx, *metastoreKind, cfg, *createIndex)
	if err != nil {
		out.Error(fmt.Sprintf("open metastore: %v", err))
		log.Fatalf("open metastore: %v", err)
	}
	defer closeMetastore()
	out.Info(fmt.Sprintf("metastore backend: %s", *metastoreKind))
	out.Done()

	out.Step(2, 3, "open remote split store and checkpoint cache")
	remote, err := storage.NewDiskRemoteStore(cfg.RemoteStoreDir)
	if err != nil {
		out.Error(fmt.Sprintf("open remote store: %v", err))
		log.Fatalf("open remote store: %v", err)
	}

	cp, err := cache.New(cfg.CheckpointCacheDir)
	if err != nil {
		out.Error(fmt.Sprintf("open checkpoint cache: %v", err))
		log.Fatalf("open checkpoint cache: %v", err)
	}
	if err := cp.Load(); err != nil {
		out.Warning(fmt.Sprintf("checkpoint cache: %v (starting fresh)", err))
	}
	out.Done()

	out.Step(3, 3, fmt.Sprintf("source %s", cfg.SourceID))
	out.Running("supervising pipeline generations until cancelled")

	var requiredFieldList []string
	if *requiredFields != "" {
		requiredFieldList = splitCSV(*requiredFields)
	}

	params := supervisor.Params{
		IndexID:  cfg.IndexID,
		SourceID: cfg.SourceID,
		NodeID:   cfg.NodeID,

		Metastore: ms,
		Remote:    remote,

		Mapper: mapper.New(mapper.Config{
			TimestampField: *timestampField,
			PartitionField: *partitionField,
			RequiredFields: requiredFieldList,
		}),
		IndexingSettings: cfg.IndexingSettings(),
		MergePolicyCfg:   cfg.MergePolicyConfig(),
		GCGracePeriod:    cfg.GCGracePeriod(),

		LocalCacheDir:      cfg.LocalCacheDir,
		LocalCacheMaxCount: cfg.LocalCacheMaxCount,
		LocalCacheMaxBytes: cfg.LocalCacheMaxBytes,
		MergeScratchDir:    cfg.MergeScratchDir,

		SourceBatchSize: cfg.SourceBatchSize,
		NewSource: func(srcCfg source.Config) source.Source {
			if cfg.SourcePath != "" {
				return source.NewFileSource(srcCfg, cfg.SourcePath)
			}
			return source.NewInMemorySource(srcCfg, nil)
		},
	}

	pipeline := supervisor.New(params)

	if *withDashboard {
		go runDashboard(ctx, cfg, pipeline, out)
	}

	go persistCheckpointPeriodically(ctx, cp, pipeline, cfg.SourceID)

	status := pipeline.Supervise(ctx)
	out.EndPhase()

	if err := cp.Save(); err != nil {
		out.Warning(fmt.Sprintf("checkpoint cache: save on exit: %v", err))
	}

	stats := pipeline.Statistics()
	out.Summary("pipeline supervisor", map[string]string{
		"exit status":     status.String(),
		"generation":      strconv.FormatUint(stats.Generation, 10),
		"valid docs":      strconv.FormatUint(stats.NumValidDocs, 10),
		"splits uploaded": strconv.FormatUint(stats.NumUploadedSplits, 10),
	})
}

func openMetastore(ctx context.Context, kind string, cfg *config.Config, createIndex bool) (metastore.Metastore, func(), error) {
	switch kind {
	case "mongo":
		ms, err := metastore.NewMongoMetastore(ctx, metastore.MongoConfig{
			URI:            cfg.MongoURI,
			Database:       cfg.MongoDatabase,
			Collection:     cfg.MongoCollection,
			MaxPoolSize:    20,
			ConnectTimeout: 10 * time.Second,
		})
		if err != nil {
			return nil, nil, err
		}
		return ms, func() { _ = ms.Close(context.Background()) }, nil
	case "memory":
		ms := metastore.NewInMemory()
		if createIndex {
			ms.CreateIndex(cfg.IndexID)
		}
		return ms, func() {}, nil
	default:
		log.Fatalf("unknown metastore backend %q", kind)
		return nil, nil, nil
	}
}

func runDashboard(ctx context.Context, cfg *config.Config, pipeline *supervisor.Pipeline, out *cli.CLI) {
	reporter, err := dashboard.New(dashboard.Config{
		Hosts:       cfg.OpenSearchHosts,
		User:        cfg.OpenSearchUser,
		Password:    cfg.OpenSearchPassword,
		Index:       cfg.OpenSearchIndex,
		VerifyCerts: cfg.OpenSearchVerifyCerts,
	})
	if err != nil {
		out.Warning(fmt.Sprintf("dashboard: disabled, could not connect: %v", err))
		return
	}
	if err := reporter.EnsureIndex(ctx); err != nil {
		out.Warning(fmt.Sprintf("dashboard: ensure index: %v", err))
	} else {
		out.Success(fmt.Sprintf("dashboard: reporting %s/%s every %s", cfg.OpenSearchIndex, cfg.IndexID, cfg.DashboardReportInterval()))
	}

	policy := mergepolicy.New(cfg.MergePolicyConfig())
	ticker := time.NewTicker(cfg.DashboardReportInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			stats := pipeline.Statistics()
			if err := reporter.Report(ctx, cfg.IndexID, cfg.SourceID, stats, policy, nil); err != nil {
				log.Printf("dashboard: report: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// persistCheckpointPeriodically records the statistics snapshot's
// NumProcessed count as sourceID's offset in the checkpoint cache every 10
// seconds and saves the cache. The count is an approximation: it is not the
// checkpoint the metastore holds for the source.
func persistCheckpointPeriodically(ctx context.Context, cp *cache.Cache, pipeline *supervisor.Pipeline, sourceID string) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			stats := pipeline.Statistics()
			cp.SetOffset(sourceID, int64(stats.NumProcessed()))
			if err := cp.Save(); err != nil {
				log.Printf("checkpoint cache: periodic save: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
